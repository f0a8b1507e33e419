package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"media-search-api/internal/application/mediasearch"
	"media-search-api/internal/domain/entity"
	"media-search-api/internal/infrastructure/persistence/redis"
	"media-search-api/pkg/metrics"
)

// QueryCache 查询向量缓存（由 redis.Cache 实现）
type QueryCache interface {
	GetOrLoadSafe(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) ([]byte, bool, error)
}

// CachedEmbedder 为 EmbedText 加一层 read-through 缓存；图片调用直接透传
type CachedEmbedder struct {
	next  mediasearch.Embedder
	cache QueryCache
	model string
	ttl   time.Duration
}

var _ mediasearch.Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder cache 为 nil 或 ttl<=0 时直接返回 next
func NewCachedEmbedder(next mediasearch.Embedder, cache QueryCache, model string, ttl time.Duration) mediasearch.Embedder {
	if cache == nil || ttl <= 0 {
		return next
	}
	return &CachedEmbedder{
		next:  next,
		cache: cache,
		model: model,
		ttl:   ttl,
	}
}

func (c *CachedEmbedder) EmbedImage(ctx context.Context, img entity.ImageData) ([]float32, error) {
	return c.next.EmbedImage(ctx, img)
}

func (c *CachedEmbedder) EmbedImages(ctx context.Context, imgs []entity.ImageData) ([][]float32, error) {
	return c.next.EmbedImages(ctx, imgs)
}

// EmbedText 相同 (model, text) 命中缓存；并发的同一查询只请求一次 sidecar
func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := redis.QueryEmbeddingKey(c.model, strings.TrimSpace(text))

	raw, hit, err := c.cache.GetOrLoadSafe(ctx, key, c.ttl, func(ctx context.Context) (interface{}, error) {
		return c.next.EmbedText(ctx, text)
	})
	if err != nil {
		metrics.QueryCacheTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		// 缓存内容损坏时直接回源
		metrics.QueryCacheTotal.WithLabelValues("error").Inc()
		return c.next.EmbedText(ctx, text)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("cached embedding for %q is empty", text)
	}

	if hit {
		metrics.QueryCacheTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.QueryCacheTotal.WithLabelValues("miss").Inc()
	}
	return vec, nil
}
