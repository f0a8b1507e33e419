package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-search-api/internal/infrastructure/persistence/redis"
)

type fixedProbe gobreaker.State

func (p fixedProbe) BreakerState() gobreaker.State { return gobreaker.State(p) }

type fixedStats struct{ n, dim int }

func (s fixedStats) Stats() (int, int) { return s.n, s.dim }

func ready(t *testing.T, h *HealthHandler) (int, readinessResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := ginTestContext(w, http.MethodGet, "/ready")
	h.Ready(c)

	var resp readinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHealthHandler_Ready(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.Wrap(rdb)

	t.Run("all ok", func(t *testing.T) {
		code, resp := ready(t, NewHealthHandler("v1", client, fixedProbe(gobreaker.StateClosed), fixedStats{3, 512}))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "ok", resp.Checks["redis"].Status)
		assert.Equal(t, "ok", resp.Checks["embedder"].Status)
		require.NotNil(t, resp.Index)
		assert.Equal(t, 3, resp.Index.Records)
	})

	t.Run("redis disabled", func(t *testing.T) {
		code, resp := ready(t, NewHealthHandler("v1", nil, fixedProbe(gobreaker.StateClosed), nil))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "disabled", resp.Checks["redis"].Status)
	})

	t.Run("breaker open", func(t *testing.T) {
		code, resp := ready(t, NewHealthHandler("v1", nil, fixedProbe(gobreaker.StateOpen), nil))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "degraded", resp.Status)
		assert.Contains(t, resp.Checks["embedder"].Error, "open")
	})

	t.Run("no embedder", func(t *testing.T) {
		code, resp := ready(t, NewHealthHandler("v1", nil, nil, nil))
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "not_ready", resp.Status)
	})

	t.Run("redis down", func(t *testing.T) {
		mr.Close()
		code, resp := ready(t, NewHealthHandler("v1", client, fixedProbe(gobreaker.StateClosed), nil))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "degraded", resp.Checks["redis"].Status)
		assert.NotEmpty(t, resp.Checks["redis"].Error)
	})
}

func TestHealthHandler_Live(t *testing.T) {
	h := NewHealthHandler("v1.2.3", nil, nil, nil)

	w := httptest.NewRecorder()
	c, _ := ginTestContext(w, http.MethodGet, "/health")
	h.Health(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","version":"v1.2.3"}`, w.Body.String())

	w = httptest.NewRecorder()
	c, _ = ginTestContext(w, http.MethodGet, "/live")
	h.Live(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func ginTestContext(w *httptest.ResponseRecorder, method, path string) (*gin.Context, *gin.Engine) {
	c, r := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, nil)
	return c, r
}
