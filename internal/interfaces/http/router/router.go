// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-search-api/internal/config"
	"media-search-api/internal/infrastructure/persistence/redis"
	"media-search-api/internal/interfaces/http/handler"
	"media-search-api/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health *handler.HealthHandler
	Media  *handler.MediaHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	redis    *redis.Client
}

// New 创建新的路由器；redisClient 为 nil 时限流退化为进程内
func New(cfg *config.Config, handlers Handlers, redisClient *redis.Client) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
		redis:    redisClient,
	}
	if cfg.Media.MaxUploadBytes > 0 {
		r.engine.MaxMultipartMemory = min(cfg.Media.MaxUploadBytes, 32<<20)
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.CORS(r.cfg.Security.CORS))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name, "/health", "/live", "/ready", r.cfg.Observability.Metrics.Path))
		r.engine.Use(middleware.TraceContext())
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.handlers.Health.Health)
	r.engine.GET("/ready", r.handlers.Health.Ready)
	r.engine.GET("/live", r.handlers.Health.Live)

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	r.engine.GET("/uploads/:filename", r.handlers.Media.ServeUpload)

	v1 := r.engine.Group("/v1")
	v1.Use(middleware.NewRateLimitMiddleware(r.cfg.Security.RateLimit, r.redis))
	RegisterV1Routes(v1, r.handlers.Media)
}
