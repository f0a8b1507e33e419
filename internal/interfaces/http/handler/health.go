// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"

	"media-search-api/internal/infrastructure/persistence/redis"
)

// EmbedderProbe 暴露 Embedder 客户端熔断状态
type EmbedderProbe interface {
	BreakerState() gobreaker.State
}

// IndexStats 索引概况
type IndexStats interface {
	Stats() (records int, dimension int)
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	version  string
	redis    *redis.Client
	embedder EmbedderProbe
	index    IndexStats
}

// NewHealthHandler 创建健康检查处理器；redisClient 可为 nil（未启用）
func NewHealthHandler(version string, redisClient *redis.Client, embedder EmbedderProbe, index IndexStats) *HealthHandler {
	return &HealthHandler{
		version:  version,
		redis:    redisClient,
		embedder: embedder,
		index:    index,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type readinessCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

type readinessResponse struct {
	Status string                     `json:"status"`
	Checks map[string]*readinessCheck `json:"checks,omitempty"`
	Index  *indexSummary              `json:"index,omitempty"`
}

type indexSummary struct {
	Records   int `json:"records"`
	Dimension int `json:"dimension"`
}

// Health 健康检查接口
// @Summary 健康检查
// @Description 检查服务健康状态
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.version,
	})
}

// Ready 就绪检查接口
// @Summary 就绪检查
// @Description 检查服务是否可以接收流量；Redis 与熔断状态只影响 degraded 标记
// @Tags System
// @Produce json
// @Success 200 {object} readinessResponse
// @Failure 503 {object} readinessResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]*readinessCheck{
		"embedder": {Status: "unknown"},
		"redis":    {Status: "disabled"},
	}
	ready, degraded := true, false

	// Embedder（必需）
	if h.embedder == nil {
		checks["embedder"].Status = "missing"
		checks["embedder"].Error = "embedder not configured"
		ready = false
	} else {
		switch state := h.embedder.BreakerState(); state {
		case gobreaker.StateClosed:
			checks["embedder"].Status = "ok"
		default:
			checks["embedder"].Status = "degraded"
			checks["embedder"].Error = "circuit breaker " + state.String()
			degraded = true
		}
	}

	// Redis（可选，不影响就绪态）
	if h.redis != nil {
		start := time.Now()
		err := h.redis.HealthCheck(ctx)
		checks["redis"].LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			checks["redis"].Status = "degraded"
			checks["redis"].Error = err.Error()
			degraded = true
		} else {
			checks["redis"].Status = "ok"
		}
	}

	resp := readinessResponse{
		Status: "ok",
		Checks: checks,
	}
	if h.index != nil {
		n, dim := h.index.Stats()
		resp.Index = &indexSummary{Records: n, Dimension: dim}
	}
	if !ready {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	if degraded {
		resp.Status = "degraded"
	}
	c.JSON(http.StatusOK, resp)
}

// Live 存活检查接口
// @Summary 存活检查
// @Description 检查服务是否存活
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
	})
}
