package mediasearch

import (
	"context"
	"fmt"

	"media-search-api/internal/domain/entity"
	"media-search-api/pkg/logger"
)

// SampleIndices 在 [0, total-1] 上均匀取 k 个帧序号。
// 线性插值后向下取整，是 (total, k) 的纯函数；total < k 时允许重复序号。
func SampleIndices(total, k int) []int {
	if total <= 0 || k <= 0 {
		return nil
	}
	if k == 1 {
		return []int{0}
	}

	last := int64(total - 1)
	out := make([]int, k)
	for i := 0; i < k; i++ {
		// 整数运算避免浮点误差导致的边界抖动
		out[i] = int(int64(i) * last / int64(k-1))
	}
	return out
}

// SampledFrames 成功解码的帧及其序号
type SampledFrames struct {
	Total   int
	Indices []int
	Frames  []entity.ImageData
}

// SampleFrames 按 SampleIndices 逐帧定位解码。
// 单帧失败直接跳过（不重试、不替补）；一帧都没有时返回 ErrNoFramesDecoded。
func SampleFrames(ctx context.Context, src FrameSource, k int) (*SampledFrames, error) {
	total, err := src.FrameCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: frame count: %v", ErrNoFramesDecoded, err)
	}

	indices := SampleIndices(total, k)
	out := &SampledFrames{
		Total:   total,
		Indices: make([]int, 0, len(indices)),
		Frames:  make([]entity.ImageData, 0, len(indices)),
	}

	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := src.Frame(ctx, idx)
		if err != nil || frame.Empty() {
			logger.Debug(ctx, "frame skipped", "frame_index", idx, "error", err)
			continue
		}
		out.Indices = append(out.Indices, idx)
		out.Frames = append(out.Frames, frame)
	}

	if len(out.Frames) == 0 {
		return nil, fmt.Errorf("%w: total_frames=%d sampled=%d", ErrNoFramesDecoded, total, len(indices))
	}
	return out, nil
}
