package mediasearch

import (
	"context"
	"time"

	"media-search-api/internal/domain/entity"
)

// Embedder 定义应用层对"媒体/文本 → 原始向量"能力的最小依赖（port）。
// 返回的向量未归一化；由基础设施层提供具体实现（例如 CLIP sidecar）。
type Embedder interface {
	EmbedImage(ctx context.Context, img entity.ImageData) ([]float32, error)
	// EmbedImages 批量形式，用于视频帧；结果与输入一一对应。
	EmbedImages(ctx context.Context, imgs []entity.ImageData) ([][]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// MediaLoader 按来源（本地路径等）读取媒体。
type MediaLoader interface {
	LoadImage(ctx context.Context, source string) (entity.ImageData, error)
	OpenVideo(ctx context.Context, source string) (FrameSource, error)
}

// FrameSource 可按帧序号随机读取的视频。
type FrameSource interface {
	// FrameCount 视频总帧数（来自容器元数据，可能不精确）。
	FrameCount(ctx context.Context) (int, error)
	// Frame 定位并解码指定帧。
	Frame(ctx context.Context, index int) (entity.ImageData, error)
	Close() error
}

// IngestEventPublisher 入库结果事件的下游通知（可选）。
type IngestEventPublisher interface {
	PublishIngested(ctx context.Context, evt *IngestEvent) error
}

// IngestEvent 单个媒体入库结果。
type IngestEvent struct {
	MediaID       string
	Kind          entity.MediaKind
	Source        string
	Status        IngestStatus
	Reason        string
	Dimension     int
	FramesDecoded int
	OccurredAt    time.Time
}
