// Package media 提供本地媒体读取、视频抽帧与上传文件存储
package media

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"media-search-api/internal/application/mediasearch"
	"media-search-api/internal/domain/entity"
)

// Loader 从本地文件系统读取图片、打开视频
type Loader struct {
	ffmpeg *FFmpeg
}

var _ mediasearch.MediaLoader = (*Loader)(nil)

func NewLoader(ffmpeg *FFmpeg) *Loader {
	return &Loader{ffmpeg: ffmpeg}
}

// LoadImage 读取图片字节并校验内容确实是图片
func (l *Loader) LoadImage(ctx context.Context, source string) (entity.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return entity.ImageData{}, err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return entity.ImageData{}, fmt.Errorf("%w: %v", mediasearch.ErrMediaDecodeFailed, err)
	}
	img, err := sniffImage(data)
	if err != nil {
		return entity.ImageData{}, fmt.Errorf("%w: %s: %v", mediasearch.ErrMediaDecodeFailed, source, err)
	}
	return img, nil
}

// OpenVideo 打开视频；文件不存在时立即失败，帧读取延迟到 FrameSource
func (l *Loader) OpenVideo(ctx context.Context, source string) (mediasearch.FrameSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mediasearch.ErrMediaDecodeFailed, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", mediasearch.ErrMediaDecodeFailed, source)
	}
	if l.ffmpeg == nil {
		return nil, fmt.Errorf("%w: video decoding is not configured", mediasearch.ErrMediaDecodeFailed)
	}
	return l.ffmpeg.Open(source), nil
}

func sniffImage(data []byte) (entity.ImageData, error) {
	if len(data) == 0 {
		return entity.ImageData{}, fmt.Errorf("empty file")
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return entity.ImageData{}, fmt.Errorf("not an image (detected %s)", mt.String())
	}
	return entity.ImageData{Data: data, ContentType: mt.String()}, nil
}
