package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"media-search-api/internal/config"
	"media-search-api/internal/infrastructure/persistence/redis"
	"media-search-api/internal/interfaces/http/dto"
	"media-search-api/pkg/logger"
)

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit 限流中间件，按 客户端 IP + 路由 计数。
// 主限流器出错时退回进程内令牌桶，不直接放行。
func RateLimit(cfg config.RateLimitConfig, limiter RateLimiter) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst < cfg.RequestsPerSecond {
		cfg.Burst = cfg.RequestsPerSecond
	}
	local := NewLocalRateLimiter(cfg.Burst)
	if limiter == nil {
		limiter = local
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		key := redis.BuildRateLimitKey(c.ClientIP(), route)

		allowed, err := limiter.Allow(c.Request.Context(), key, cfg.RequestsPerSecond, time.Second)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable, using local limiter", "error", err.Error())
			allowed, _ = local.Allow(c.Request.Context(), key, cfg.RequestsPerSecond, time.Second)
		}

		if !allowed {
			c.Header("Retry-After", "1")
			dto.TooManyRequests(c, "rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

// NewRateLimitMiddleware 创建限流中间件；redisClient 为 nil 时只使用进程内限流
func NewRateLimitMiddleware(cfg config.RateLimitConfig, redisClient *redis.Client) gin.HandlerFunc {
	var limiter RateLimiter
	if redisClient != nil {
		limiter = redis.NewRateLimiter(redisClient)
	}
	return RateLimit(cfg, limiter)
}

const (
	localLimiterMaxIdle      = 10 * time.Minute
	localLimiterPruneEvery   = 1024
	localLimiterMaxWindowSec = 3600
)

type localEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LocalRateLimiter 进程内令牌桶限流（每个 key 一个 rate.Limiter）
type LocalRateLimiter struct {
	burst int

	mu      sync.Mutex
	entries map[string]*localEntry
	calls   int
	now     func() time.Time
}

// NewLocalRateLimiter 创建进程内限流器
func NewLocalRateLimiter(burst int) *LocalRateLimiter {
	return &LocalRateLimiter{
		burst:   max(burst, 1),
		entries: make(map[string]*localEntry),
		now:     time.Now,
	}
}

// Allow 按 limit/window 的速率发放令牌
func (l *LocalRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if window <= 0 || window > localLimiterMaxWindowSec*time.Second {
		window = time.Second
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%localLimiterPruneEvery == 0 {
		l.prune(now)
	}

	e, ok := l.entries[key]
	if !ok {
		every := rate.Limit(float64(limit) / window.Seconds())
		e = &localEntry{limiter: rate.NewLimiter(every, max(l.burst, limit))}
		l.entries[key] = e
	}
	e.lastAccess = now
	return e.limiter.AllowN(now, 1), nil
}

// Len 当前跟踪的 key 数量
func (l *LocalRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *LocalRateLimiter) prune(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastAccess) > localLimiterMaxIdle {
			delete(l.entries, k)
		}
	}
}
