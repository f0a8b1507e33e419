package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"media-search-api/internal/application/mediasearch"
	"media-search-api/internal/domain/entity"
)

// runFunc 执行外部命令并返回 stdout
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpeg 通过 ffprobe 读取帧数、通过 ffmpeg 按帧序号解码单帧（PNG）
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	run         runFunc
}

func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		run:         runCommand,
	}
}

// Available 两个可执行文件都能找到
func (f *FFmpeg) Available() error {
	for _, bin := range []string{f.ffmpegPath, f.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found: %w", bin, err)
		}
	}
	return nil
}

// Open 返回视频的 FrameSource；不做 I/O
func (f *FFmpeg) Open(path string) *VideoSource {
	return &VideoSource{ffmpeg: f, path: path}
}

// VideoSource 单个视频文件
type VideoSource struct {
	ffmpeg *FFmpeg
	path   string

	once  sync.Once
	total int
	err   error
}

var _ mediasearch.FrameSource = (*VideoSource)(nil)

// FrameCount 读取容器元数据中的帧数；元数据缺失时退回到逐包计数
func (v *VideoSource) FrameCount(ctx context.Context) (int, error) {
	v.once.Do(func() {
		v.total, v.err = v.probe(ctx)
	})
	return v.total, v.err
}

func (v *VideoSource) probe(ctx context.Context) (int, error) {
	out, err := v.ffmpeg.run(ctx, v.ffmpeg.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=nb_frames",
		"-of", "default=noprint_wrappers=1:nokey=1",
		v.path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	if n, ok := parseFrameCount(out); ok {
		return n, nil
	}

	out, err = v.ffmpeg.run(ctx, v.ffmpeg.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "default=noprint_wrappers=1:nokey=1",
		v.path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe count packets: %w", err)
	}
	if n, ok := parseFrameCount(out); ok {
		return n, nil
	}
	return 0, nil
}

// Frame 定位并解码第 index 帧
func (v *VideoSource) Frame(ctx context.Context, index int) (entity.ImageData, error) {
	if index < 0 {
		return entity.ImageData{}, fmt.Errorf("invalid frame index %d", index)
	}
	out, err := v.ffmpeg.run(ctx, v.ffmpeg.ffmpegPath,
		"-v", "error",
		"-i", v.path,
		"-an",
		"-vf", fmt.Sprintf(`select=eq(n\,%d)`, index),
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	if err != nil {
		return entity.ImageData{}, fmt.Errorf("ffmpeg frame %d: %w", index, err)
	}
	img, err := sniffImage(out)
	if err != nil {
		return entity.ImageData{}, fmt.Errorf("frame %d: %w", index, err)
	}
	return img, nil
}

// Close 每次解码都是独立进程，无需释放
func (v *VideoSource) Close() error {
	return nil
}

func parseFrameCount(out []byte) (int, bool) {
	// 多个视频流时只取第一行
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
