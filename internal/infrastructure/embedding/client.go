// Package embedding 提供 CLIP 兼容 Embedding sidecar 的客户端
package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"media-search-api/internal/config"
	"media-search-api/internal/domain/entity"
	"media-search-api/pkg/logger"
	"media-search-api/pkg/metrics"
	"media-search-api/pkg/tracer"
)

const (
	opImage  = "image"
	opImages = "images"
	opText   = "text"

	defaultBatchSize = 16
	defaultTimeout   = 60 * time.Second
	defaultModel     = "openai/clip-vit-base-patch32"

	maxErrorBody = 1 << 10
)

// ErrEndpointNotConfigured 未配置 sidecar 地址
var ErrEndpointNotConfigured = errors.New("embedding endpoint is empty")

// StatusError sidecar 返回非 2xx
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("embedding %s request failed: status=%d", e.Op, e.Status)
	}
	return fmt.Sprintf("embedding %s request failed: status=%d body=%s", e.Op, e.Status, e.Body)
}

// Client 调用 sidecar 的 /embed/image、/embed/images、/embed/text。
// 返回原始（未归一化）向量。
type Client struct {
	baseURL    *url.URL
	model      string
	dimension  int
	batchSize  int
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

type imagePayload struct {
	Data        string `json:"data"`
	ContentType string `json:"content_type,omitempty"`
}

type embedRequest struct {
	Model  string         `json:"model"`
	Text   string         `json:"text,omitempty"`
	Image  *imagePayload  `json:"image,omitempty"`
	Images []imagePayload `json:"images,omitempty"`
}

type embedResponse struct {
	Embedding  []float32   `json:"embedding,omitempty"`
	Embeddings [][]float32 `json:"embeddings,omitempty"`
}

// NewClient 创建 sidecar 客户端；endpoint 为空视为环境配置错误
func NewClient(cfg *config.EmbeddingConfig) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, ErrEndpointNotConfigured
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid embedding endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid embedding endpoint: %q", cfg.Endpoint)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:   u,
		model:     model,
		dimension: cfg.Dimension,
		batchSize: batchSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: newBreaker("embedding-sidecar", cfg.CircuitBreaker),
	}, nil
}

func newBreaker(name string, cfg config.CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		// 调用方取消和 4xx（输入问题）不计入熔断
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return se.Status < 500
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// BreakerState 熔断器状态（用于健康检查）
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// EmbedText 文本 → 向量
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.call(ctx, opText, &embedRequest{Model: c.model, Text: text})
	if err != nil {
		return nil, err
	}
	return c.single(opText, resp)
}

// EmbedImage 单张图片 → 向量
func (c *Client) EmbedImage(ctx context.Context, img entity.ImageData) ([]float32, error) {
	if img.Empty() {
		return nil, fmt.Errorf("embedding image: empty payload")
	}
	p := encodeImage(img)
	resp, err := c.call(ctx, opImage, &embedRequest{Model: c.model, Image: &p})
	if err != nil {
		return nil, err
	}
	return c.single(opImage, resp)
}

// EmbedImages 批量图片 → 向量，超过 batchSize 时分批请求；结果与输入一一对应
func (c *Client) EmbedImages(ctx context.Context, imgs []entity.ImageData) ([][]float32, error) {
	if len(imgs) == 0 {
		return [][]float32{}, nil
	}

	all := make([][]float32, 0, len(imgs))
	for i := 0; i < len(imgs); i += c.batchSize {
		end := min(i+c.batchSize, len(imgs))

		payload := make([]imagePayload, 0, end-i)
		for _, img := range imgs[i:end] {
			payload = append(payload, encodeImage(img))
		}
		resp, err := c.call(ctx, opImages, &embedRequest{Model: c.model, Images: payload})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-i {
			return nil, fmt.Errorf("embedding images: expected %d vectors, got %d", end-i, len(resp.Embeddings))
		}
		for _, vec := range resp.Embeddings {
			if err := c.checkDimension(opImages, vec); err != nil {
				return nil, err
			}
		}
		all = append(all, resp.Embeddings...)
	}
	return all, nil
}

func (c *Client) single(op string, resp *embedResponse) ([]float32, error) {
	vec := resp.Embedding
	if len(vec) == 0 && len(resp.Embeddings) == 1 {
		vec = resp.Embeddings[0]
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding %s: empty vector in response", op)
	}
	if err := c.checkDimension(op, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (c *Client) checkDimension(op string, vec []float32) error {
	if c.dimension > 0 && len(vec) != c.dimension {
		return fmt.Errorf("embedding %s: expected %d dims, got %d", op, c.dimension, len(vec))
	}
	return nil
}

func (c *Client) call(ctx context.Context, op string, req *embedRequest) (*embedResponse, error) {
	ctx, span := tracer.Start(ctx, "embedding."+op)
	defer span.End()
	span.SetAttributes(attribute.String("embedding.model", c.model))

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, op, req)
	})
	metrics.EmbeddingCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		status := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "rejected"
		}
		metrics.EmbeddingCallTotal.WithLabelValues(op, status).Inc()
		span.RecordError(err)
		return nil, err
	}
	metrics.EmbeddingCallTotal.WithLabelValues(op, "ok").Inc()
	return out.(*embedResponse), nil
}

func (c *Client) do(ctx context.Context, op string, req *embedRequest) (*embedResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	u := c.baseURL.JoinPath("embed", op)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding %s request failed: %w", op, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &StatusError{Op: op, Status: httpResp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var resp embedResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	return &resp, nil
}

func encodeImage(img entity.ImageData) imagePayload {
	return imagePayload{
		Data:        base64.StdEncoding.EncodeToString(img.Data),
		ContentType: img.ContentType,
	}
}
