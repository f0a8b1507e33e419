package dto

import (
	"fmt"
	"net/url"
	"time"

	"media-search-api/internal/application/mediasearch"
	"media-search-api/internal/domain/entity"
)

// UploadsPrefix 上传文件的公开访问路径前缀
const UploadsPrefix = "/uploads/"

// UploadURL 上传文件的访问地址
func UploadURL(filename string) string {
	return UploadsPrefix + url.PathEscape(filename)
}

// SearchRequest 文本检索请求
type SearchRequest struct {
	Query    string   `json:"query" binding:"max=2048"`
	TopK     int      `json:"top_k,omitempty" binding:"omitempty,min=1"`
	MinScore *float64 `json:"min_score,omitempty" binding:"omitempty,gte=-1,lte=1"`
}

// ToInput 转换为检索输入
func (r *SearchRequest) ToInput() mediasearch.SearchInput {
	return mediasearch.SearchInput{
		Query:    r.Query,
		TopK:     r.TopK,
		MinScore: r.MinScore,
	}
}

// MatchResponse 单条检索结果
type MatchResponse struct {
	Filename   string  `json:"filename"`
	Similarity float64 `json:"similarity"`
	Kind       string  `json:"kind"`
	URL        string  `json:"url"`
}

// SearchResponse 检索响应；DisabledReason 非空时 Matches 为空
type SearchResponse struct {
	Matches        []*MatchResponse `json:"matches"`
	Candidates     int              `json:"candidates"`
	DisabledReason string           `json:"disabled_reason,omitempty"`
	TookMs         int64            `json:"took_ms"`
}

// ToSearchResponse 转换检索结果
func ToSearchResponse(out *mediasearch.SearchOutput) *SearchResponse {
	resp := &SearchResponse{
		Matches:        make([]*MatchResponse, 0, len(out.Matches)),
		Candidates:     out.Candidates,
		DisabledReason: out.DisabledReason,
		TookMs:         out.Duration.Milliseconds(),
	}
	for _, m := range out.Matches {
		resp.Matches = append(resp.Matches, &MatchResponse{
			Filename:   m.ID,
			Similarity: m.Score,
			Kind:       m.Kind.String(),
			URL:        UploadURL(m.ID),
		})
	}
	return resp
}

// UploadedFile 单个上传文件的处理结果
type UploadedFile struct {
	Filename      string `json:"filename"`
	Original      string `json:"original,omitempty"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	FramesDecoded int    `json:"frames_decoded,omitempty"`
	URL           string `json:"url"`
}

// UploadResponse 上传响应
type UploadResponse struct {
	Message   string          `json:"message"`
	Submitted int             `json:"submitted"`
	Embedded  int             `json:"embedded"`
	Files     []*UploadedFile `json:"files"`
}

// ToUploadResponse 转换批量入库结果；originals 为 id → 客户端原始文件名
func ToUploadResponse(res *mediasearch.BatchResult, originals map[string]string) *UploadResponse {
	resp := &UploadResponse{
		Submitted: res.Submitted,
		Embedded:  res.Embedded,
		Files:     make([]*UploadedFile, 0, len(res.Outcomes)),
	}
	for _, o := range res.Outcomes {
		f := &UploadedFile{
			Filename:      o.ID,
			Kind:          o.Kind.String(),
			Status:        string(o.Status),
			FramesDecoded: o.FramesDecoded,
			URL:           UploadURL(o.ID),
		}
		if orig := originals[o.ID]; orig != o.ID {
			f.Original = orig
		}
		if o.Reason != nil {
			f.Reason = o.Reason.Error()
		}
		resp.Files = append(resp.Files, f)
	}
	resp.Message = uploadMessage(res.Submitted, res.Embedded)
	return resp
}

func uploadMessage(submitted, embedded int) string {
	if submitted == embedded {
		return fmt.Sprintf("uploaded and processed %d files", submitted)
	}
	return fmt.Sprintf("uploaded %d files, embedded %d", submitted, embedded)
}

// MediaResponse 索引记录
type MediaResponse struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Dimension  int       `json:"dimension"`
	FrameCount int       `json:"frame_count,omitempty"`
	IndexedAt  time.Time `json:"indexed_at"`
	URL        string    `json:"url"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// ToMediaResponse 转换索引记录；withEmbedding 为 false 时不返回向量
func ToMediaResponse(rec *entity.MediaRecord, withEmbedding bool) *MediaResponse {
	resp := &MediaResponse{
		ID:         rec.ID,
		Kind:       rec.Kind.String(),
		Dimension:  rec.Dimension(),
		FrameCount: rec.FrameCount,
		IndexedAt:  rec.IndexedAt,
		URL:        UploadURL(rec.ID),
	}
	if withEmbedding {
		resp.Embedding = append([]float32(nil), rec.Embedding...)
	}
	return resp
}

// MediaListResponse 索引记录列表
type MediaListResponse struct {
	Items []*MediaResponse `json:"items"`
}

// SnapshotResponse 索引快照：id → 向量
type SnapshotResponse struct {
	Count      int                  `json:"count"`
	Dimension  int                  `json:"dimension"`
	Embeddings map[string][]float32 `json:"embeddings"`
}
