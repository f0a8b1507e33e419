package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var cacheTracer = otel.Tracer("redis.cache")

const (
	queryEmbeddingPrefix = "emb:text:"
	// queryEmbeddingModelKey 记录当前查询向量缓存所属的模型
	queryEmbeddingModelKey = "emb:model"
)

// QueryEmbeddingKey 查询文本向量的缓存 key：emb:text:{model}:{sha256(text)}
func QueryEmbeddingKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return queryEmbeddingPrefix + model + ":" + hex.EncodeToString(sum[:])
}

// Cache 缓存服务
type Cache struct {
	client *Client
	group  singleflight.Group
}

// NewCache 创建缓存服务
func NewCache(client *Client) *Cache {
	return &Cache{
		client: client,
	}
}

// Get 获取缓存值
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.Get",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	val, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, err
		}
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	return val, nil
}

// Set 设置缓存值（JSON 编码）
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Set",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
		))
	defer span.End()

	bytes, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.rdb.Set(ctx, key, bytes, ttl).Err()
}

// GetOrLoadSafe Read-Through，使用 singleflight 合并同 key 的并发加载。
// Redis 读取失败时直接走 loader，缓存只是加速层。hit 表示值直接来自 Redis。
// 合并后的 loader 运行在脱离调用方取消的 context 上，首个调用方取消不会连累其他等待者。
func (c *Cache) GetOrLoadSafe(
	ctx context.Context,
	key string,
	ttl time.Duration,
	loader func(ctx context.Context) (interface{}, error),
) (val []byte, hit bool, err error) {
	ctx, span := cacheTracer.Start(ctx, "cache.GetOrLoadSafe",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	val, err = c.client.rdb.Get(ctx, key).Bytes()
	if err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return val, true, nil
	}
	if err != redis.Nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	loadCtx := context.WithoutCancel(ctx)
	result, err, shared := c.group.Do(key, func() (interface{}, error) {
		data, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}

		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}

		if err := c.client.rdb.Set(loadCtx, key, bytes, ttl).Err(); err != nil {
			// 写缓存失败不影响结果
			span.RecordError(err)
		}
		return bytes, nil
	})

	span.SetAttributes(attribute.Bool("cache.shared", shared))

	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	return result.([]byte), false, nil
}

// InvalidatePattern 按模式使缓存失效，返回删除的 key 数
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.InvalidatePattern",
		trace.WithAttributes(attribute.String("cache.pattern", pattern)))
	defer span.End()

	iter := c.client.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return 0, err
	}

	if len(keys) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("cache.invalidated_count", len(keys)))
	if err := c.client.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// InvalidateQueryEmbeddings 清除查询向量缓存；model 为空时清除所有模型
func (c *Cache) InvalidateQueryEmbeddings(ctx context.Context, model string) (int, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return c.InvalidatePattern(ctx, queryEmbeddingPrefix+"*")
	}
	return c.InvalidatePattern(ctx, queryEmbeddingPrefix+model+":*")
}

// SyncQueryEmbeddingModel 启动时校验缓存所属模型；模型变更时清除旧模型的查询向量，返回删除的 key 数
func (c *Cache) SyncQueryEmbeddingModel(ctx context.Context, model string) (int, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return 0, nil
	}

	var previous string
	raw, err := c.Get(ctx, queryEmbeddingModelKey)
	switch {
	case IsNil(err):
	case err != nil:
		return 0, err
	default:
		if err := json.Unmarshal(raw, &previous); err != nil {
			// 内容无法识别时清除全部查询向量
			previous = ""
		}
		if previous == model {
			return 0, nil
		}
	}

	removed := 0
	if raw != nil {
		removed, err = c.InvalidateQueryEmbeddings(ctx, previous)
		if err != nil {
			return 0, err
		}
	}
	if err := c.Set(ctx, queryEmbeddingModelKey, model, 0); err != nil {
		return removed, err
	}
	return removed, nil
}
