package redis

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-search-api/internal/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	host := mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := NewClient(context.Background(), &config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, client.HealthCheck(context.Background()))
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host := mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	_, err = NewClient(context.Background(), &config.RedisConfig{Host: host, Port: port, DialTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

func TestQueryEmbeddingKey(t *testing.T) {
	a := QueryEmbeddingKey("clip", "a cat")
	assert.Equal(t, a, QueryEmbeddingKey("clip", "a cat"))
	assert.NotEqual(t, a, QueryEmbeddingKey("clip", "a dog"))
	assert.NotEqual(t, a, QueryEmbeddingKey("siglip", "a cat"))
	assert.Contains(t, a, "emb:text:clip:")
}

func TestCache_GetOrLoadSafe(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewCache(client)
	ctx := context.Background()

	var loads atomic.Int32
	loader := func(context.Context) (interface{}, error) {
		loads.Add(1)
		time.Sleep(10 * time.Millisecond)
		return []float32{0.6, 0.8}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, _, err := cache.GetOrLoadSafe(ctx, "k", time.Hour, loader)
			assert.NoError(t, err)
			assert.JSONEq(t, `[0.6,0.8]`, string(val))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), loads.Load())

	ttl := mr.TTL("k")
	assert.Greater(t, ttl, time.Duration(0))

	// 命中缓存，不再调用 loader
	_, hit, err := cache.GetOrLoadSafe(ctx, "k", time.Hour, loader)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(1), loads.Load())
}

func TestCache_GetOrLoadSafe_SharedWaitersAreMisses(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewCache(client)
	ctx := context.Background()

	release := make(chan struct{})
	loader := func(context.Context) (interface{}, error) {
		<-release
		return "v", nil
	}

	var (
		wg   sync.WaitGroup
		hits atomic.Int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, hit, err := cache.GetOrLoadSafe(ctx, "k", time.Hour, loader)
			assert.NoError(t, err)
			if hit {
				hits.Add(1)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(0), hits.Load())
}

func TestCache_GetOrLoadSafe_DetachedFromCallerCancel(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewCache(client)

	ctx, cancel := context.WithCancel(context.Background())
	val, hit, err := cache.GetOrLoadSafe(ctx, "k", time.Hour, func(loadCtx context.Context) (interface{}, error) {
		cancel()
		if err := loadCtx.Err(); err != nil {
			return nil, err
		}
		return []float32{1}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.JSONEq(t, `[1]`, string(val))
	assert.True(t, mr.Exists("k"), "value is cached after the caller went away")
}

func TestCache_GetOrLoadSafe_LoaderError(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewCache(client)

	_, _, err := cache.GetOrLoadSafe(context.Background(), "k", time.Hour, func(context.Context) (interface{}, error) {
		return nil, errors.New("sidecar down")
	})
	assert.EqualError(t, err, "sidecar down")
	assert.False(t, mr.Exists("k"))
}

func TestCache_GetOrLoadSafe_RedisDown(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewCache(client)
	mr.Close()

	val, hit, err := cache.GetOrLoadSafe(context.Background(), "k", time.Hour, func(context.Context) (interface{}, error) {
		return []float32{1}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.JSONEq(t, `[1]`, string(val))
}

func TestCache_GetSet(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewCache(client)
	ctx := context.Background()

	_, err := cache.Get(ctx, "missing")
	assert.True(t, IsNil(err))

	require.NoError(t, cache.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	val, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(val))
}

func TestCache_SyncQueryEmbeddingModel(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewCache(client)
	ctx := context.Background()

	// 首次启动只记录模型
	n, err := cache.SyncQueryEmbeddingModel(ctx, "clip")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, k := range []string{
		QueryEmbeddingKey("clip", "a"),
		QueryEmbeddingKey("clip", "b"),
		QueryEmbeddingKey("siglip", "a"),
	} {
		require.NoError(t, mr.Set(k, "[1]"))
	}

	// 模型未变
	n, err = cache.SyncQueryEmbeddingModel(ctx, "clip")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// 切换模型时清除旧模型的查询向量
	n, err = cache.SyncQueryEmbeddingModel(ctx, "siglip")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists(QueryEmbeddingKey("clip", "a")))
	assert.True(t, mr.Exists(QueryEmbeddingKey("siglip", "a")))

	stored, err := mr.Get("emb:model")
	require.NoError(t, err)
	assert.Equal(t, `"siglip"`, stored)
}

func TestCache_SyncQueryEmbeddingModel_UnreadableMarker(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewCache(client)

	require.NoError(t, mr.Set("emb:model", "not json"))
	require.NoError(t, mr.Set(QueryEmbeddingKey("clip", "a"), "[1]"))
	require.NoError(t, mr.Set(QueryEmbeddingKey("old", "a"), "[1]"))

	n, err := cache.SyncQueryEmbeddingModel(context.Background(), "clip")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCache_InvalidateQueryEmbeddings(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewCache(client)
	ctx := context.Background()

	for _, k := range []string{
		QueryEmbeddingKey("clip", "a"),
		QueryEmbeddingKey("clip", "b"),
		QueryEmbeddingKey("other", "a"),
	} {
		require.NoError(t, mr.Set(k, "[1]"))
	}
	require.NoError(t, mr.Set("unrelated", "x"))

	n, err := cache.InvalidateQueryEmbeddings(ctx, "clip")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = cache.InvalidateQueryEmbeddings(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.Exists("unrelated"))
}

func TestRateLimiter(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()
	key := BuildRateLimitKey("10.0.0.1", "/v1/media/search")
	assert.Equal(t, "ratelimit:10.0.0.1:/v1/media/search", key)

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := limiter.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := limiter.Remaining(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	require.NoError(t, limiter.Reset(ctx, key))
	remaining, err = limiter.Remaining(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "k", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = limiter.Allow(ctx, "k", 1, time.Second)
	assert.False(t, ok)

	now = now.Add(3 * time.Second)
	ok, err = limiter.Allow(ctx, "k", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
