package mediasearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"media-search-api/internal/domain/entity"
	"media-search-api/pkg/logger"
	"media-search-api/pkg/metrics"
	"media-search-api/pkg/tracer"
)

// Engine 文本 → 媒体的相似度检索
type Engine struct {
	embedder Embedder
	index    *Index
	opts     SearchOptions
}

// NewEngine 创建检索引擎
func NewEngine(embedder Embedder, index *Index, opts SearchOptions) *Engine {
	def := DefaultSearchOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MaxTopK < opts.TopK {
		opts.MaxTopK = max(def.MaxTopK, opts.TopK)
	}
	return &Engine{
		embedder: embedder,
		index:    index,
		opts:     opts,
	}
}

// Options 当前检索默认参数
func (e *Engine) Options() SearchOptions {
	return e.opts
}

// Search 文本检索。空查询、空索引、查询向量不可用时返回空结果而不是错误。
func (e *Engine) Search(ctx context.Context, in SearchInput) (*SearchOutput, error) {
	ctx, span := tracer.Start(ctx, "mediasearch.Search")
	defer span.End()

	start := time.Now()
	out := &SearchOutput{Matches: []Match{}}

	topK := in.TopK
	if topK <= 0 {
		topK = e.opts.TopK
	}
	if topK > e.opts.MaxTopK {
		topK = e.opts.MaxTopK
	}
	minScore := e.opts.MinScore
	if in.MinScore != nil {
		minScore = *in.MinScore
	}
	span.SetAttributes(
		attribute.Int("search.top_k", topK),
		attribute.Float64("search.min_score", minScore),
	)

	query := strings.TrimSpace(in.Query)
	if query == "" {
		out.DisabledReason = "query is empty"
		return out, nil
	}

	if e.index.Len() == 0 {
		out.DisabledReason = "index is empty"
		return out, nil
	}

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn(ctx, "query embedding unavailable", "error", err.Error())
		span.RecordError(err)
		out.DisabledReason = err.Error()
		return out, nil
	}

	// 先拿快照再打分，排序过程中不持有索引锁
	records := e.index.All()
	out.Candidates = len(records)
	out.Matches = Rank(vec, records, topK, minScore)
	out.Duration = time.Since(start)

	metrics.SearchDuration.Observe(out.Duration.Seconds())
	metrics.SearchResults.Observe(float64(len(out.Matches)))
	span.SetAttributes(
		attribute.Int("search.candidates", out.Candidates),
		attribute.Int("search.matches", len(out.Matches)),
	)
	logger.Debug(ctx, "search completed",
		"candidates", out.Candidates,
		"matches", len(out.Matches),
		"duration_ms", out.Duration.Milliseconds(),
	)
	return out, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e.embedder == nil {
		return nil, ErrEmbedderUnavailable
	}
	raw, err := e.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	vec, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	if dim := e.index.Dimension(); dim > 0 && len(vec) != dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(vec), dim)
	}
	return vec, nil
}

// Snapshot 返回 media id → 向量的副本（诊断/测试用）
func (e *Engine) Snapshot() map[string][]float32 {
	records := e.index.All()
	out := make(map[string][]float32, len(records))
	for _, rec := range records {
		emb := make([]float32, len(rec.Embedding))
		copy(emb, rec.Embedding)
		out[rec.ID] = emb
	}
	return out
}

// Records 按插入顺序返回记录快照
func (e *Engine) Records() []*entity.MediaRecord {
	return e.index.All()
}

// Get 读取单条记录
func (e *Engine) Get(id string) (*entity.MediaRecord, error) {
	rec, ok := e.index.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMediaNotFound, id)
	}
	return rec, nil
}

// Delete 从索引移除记录（不删除底层文件）
func (e *Engine) Delete(ctx context.Context, id string) error {
	if !e.index.Delete(id) {
		return fmt.Errorf("%w: %s", ErrMediaNotFound, id)
	}
	metrics.IndexRecords.Set(float64(e.index.Len()))
	logger.Info(logger.WithContext(ctx, logger.MediaIDKey, id), "media removed from index")
	return nil
}

// Stats 索引概况
func (e *Engine) Stats() (records int, dimension int) {
	return e.index.Len(), e.index.Dimension()
}
