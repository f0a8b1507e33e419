package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-search-api/internal/config"
	"media-search-api/internal/infrastructure/persistence/redis"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimitedEngine(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/v1/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func hit(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_Disabled(t *testing.T) {
	r := newLimitedEngine(RateLimit(config.RateLimitConfig{Enabled: false, RequestsPerSecond: 1}, nil))
	for range 5 {
		assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1"))
	}
}

func TestRateLimit_Local(t *testing.T) {
	r := newLimitedEngine(NewRateLimitMiddleware(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 2, Burst: 2}, nil))

	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.0.0.1"))

	// 不同客户端独立计数
	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.2"))
}

func TestRateLimit_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := newLimitedEngine(NewRateLimitMiddleware(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 3, Burst: 3}, redis.Wrap(rdb)))
	for range 3 {
		require.Equal(t, http.StatusOK, hit(r, "10.0.0.1"))
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.0.0.1"))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "ratelimit:10.0.0.1:/v1/ping", keys[0])
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestRateLimit_FallsBackToLocal(t *testing.T) {
	r := newLimitedEngine(RateLimit(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1}, brokenLimiter{}))

	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.0.0.1"))
}

func TestLocalRateLimiter(t *testing.T) {
	l := NewLocalRateLimiter(2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for range 2 {
		ok, err := l.Allow(ctx, "k", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "k", 2, time.Second)
	assert.False(t, ok)

	// 令牌按速率恢复
	now = now.Add(500 * time.Millisecond)
	ok, _ = l.Allow(ctx, "k", 2, time.Second)
	assert.True(t, ok)

	ok, _ = l.Allow(ctx, "unlimited", 0, time.Second)
	assert.True(t, ok)
	assert.Equal(t, 1, l.Len())

	// 长时间未访问的 key 会被清理
	now = now.Add(time.Hour)
	l.calls = localLimiterPruneEvery - 1
	_, _ = l.Allow(ctx, "fresh", 1, time.Second)
	assert.Equal(t, 1, l.Len())
}
