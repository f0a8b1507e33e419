// Package entity 定义领域实体
package entity

import (
	"path/filepath"
	"strings"
	"time"
)

// MediaKind 媒体类型
type MediaKind string

const (
	MediaKindUnknown MediaKind = ""
	MediaKindImage   MediaKind = "image"
	MediaKindVideo   MediaKind = "video"
)

// Valid 是否为可入库的媒体类型
func (k MediaKind) Valid() bool {
	return k == MediaKindImage || k == MediaKindVideo
}

// String 实现 fmt.Stringer
func (k MediaKind) String() string {
	if k == MediaKindUnknown {
		return "unknown"
	}
	return string(k)
}

// DefaultImageExts 默认图片扩展名
var DefaultImageExts = []string{".jpg", ".jpeg", ".png", ".bmp"}

// DefaultVideoExts 默认视频扩展名
var DefaultVideoExts = []string{".mp4", ".avi", ".mov", ".mkv"}

// KindResolver 在入库边界按扩展名解析媒体类型（大小写不敏感）
type KindResolver struct {
	exts map[string]MediaKind
}

// NewKindResolver 创建类型解析器；扩展名可带或不带前导点
func NewKindResolver(imageExts, videoExts []string) *KindResolver {
	if len(imageExts) == 0 {
		imageExts = DefaultImageExts
	}
	if len(videoExts) == 0 {
		videoExts = DefaultVideoExts
	}
	r := &KindResolver{exts: make(map[string]MediaKind, len(imageExts)+len(videoExts))}
	for _, ext := range imageExts {
		r.exts[normalizeExt(ext)] = MediaKindImage
	}
	for _, ext := range videoExts {
		r.exts[normalizeExt(ext)] = MediaKindVideo
	}
	return r
}

// Resolve 根据文件名解析媒体类型，未识别时返回 MediaKindUnknown
func (r *KindResolver) Resolve(filename string) MediaKind {
	if r == nil {
		return MediaKindUnknown
	}
	return r.exts[normalizeExt(filepath.Ext(filename))]
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// ImageData 已编码的单张图片（图片文件或解码出的视频帧）
type ImageData struct {
	Data        []byte
	ContentType string
}

// Empty 是否无内容
func (d ImageData) Empty() bool {
	return len(d.Data) == 0
}

// MediaRecord 索引中的一条媒体记录
// Embedding 在写入后不可变，读取方不得修改其内容
type MediaRecord struct {
	ID         string    `json:"id"`
	Kind       MediaKind `json:"kind"`
	Source     string    `json:"source,omitempty"`
	Embedding  []float32 `json:"embedding"`
	IndexedAt  time.Time `json:"indexed_at"`
	FrameCount int       `json:"frame_count,omitempty"`
}

// Dimension 向量维度
func (r *MediaRecord) Dimension() int {
	if r == nil {
		return 0
	}
	return len(r.Embedding)
}
