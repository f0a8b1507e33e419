package mediasearch

import (
	"time"

	"media-search-api/internal/domain/entity"
)

// SearchOptions 检索默认参数（来自配置）
type SearchOptions struct {
	TopK     int
	MaxTopK  int
	MinScore float64
}

// DefaultSearchOptions 默认 top 5、相关性下限 0.1
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		TopK:     5,
		MaxTopK:  50,
		MinScore: 0.1,
	}
}

// SearchInput 文本检索输入。
type SearchInput struct {
	Query string
	// TopK<=0 使用默认值
	TopK int
	// MinScore 为 nil 使用默认值
	MinScore *float64
}

// SearchOutput 文本检索输出。
type SearchOutput struct {
	Matches []Match

	// Candidates 参与打分的记录数
	Candidates int
	// DisabledReason 非空表示查询向量不可用，Matches 为空
	DisabledReason string
	Duration       time.Duration
}

// IngestInput 单个媒体入库请求。Kind 已在入库边界解析。
type IngestInput struct {
	ID     string
	Kind   entity.MediaKind
	Source string
}

// IngestStatus 入库结果状态
type IngestStatus string

const (
	IngestStatusEmbedded IngestStatus = "embedded"
	IngestStatusSkipped  IngestStatus = "skipped"
)

// IngestOutcome 单个媒体入库结果；失败以值的形式返回，不中断批次。
type IngestOutcome struct {
	ID            string
	Kind          entity.MediaKind
	Status        IngestStatus
	Reason        error
	FramesDecoded int
	Duration      time.Duration
}

// Embedded 是否成功写入索引
func (o IngestOutcome) Embedded() bool {
	return o.Status == IngestStatusEmbedded
}

// BatchResult 批量入库汇总
type BatchResult struct {
	Submitted int
	Embedded  int
	Outcomes  []IngestOutcome
}

// Skipped 被跳过的条目
func (r *BatchResult) Skipped() []IngestOutcome {
	out := make([]IngestOutcome, 0, r.Submitted-r.Embedded)
	for _, o := range r.Outcomes {
		if !o.Embedded() {
			out = append(out, o)
		}
	}
	return out
}
