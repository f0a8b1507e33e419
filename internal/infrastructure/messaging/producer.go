package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"media-search-api/internal/application/mediasearch"
	"media-search-api/pkg/metrics"
	pkgtracer "media-search-api/pkg/tracer"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	stream Stream
	maxLen int64
}

var _ mediasearch.IngestEventPublisher = (*Producer)(nil)

// NewProducer 创建消息生产者；stream 为空时使用 StreamMediaIngested
func NewProducer(client *redis.Client, stream string, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	s := Stream(stream)
	if s == "" {
		s = StreamMediaIngested
	}
	return &Producer{
		client: client,
		stream: s,
		maxLen: maxLen,
	}
}

// Stream 目标流
func (p *Producer) Stream() Stream {
	return p.stream
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": msg.Type,
			"data": string(data),
		},
	}).Result()

	if err != nil {
		metrics.EventsPublished.WithLabelValues(string(stream), "error").Inc()
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	metrics.EventsPublished.WithLabelValues(string(stream), "ok").Inc()
	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishIngested 发布单个媒体的入库结果
func (p *Producer) PublishIngested(ctx context.Context, evt *mediasearch.IngestEvent) error {
	payload := &MediaIngestedMessage{
		MediaID:       evt.MediaID,
		Kind:          evt.Kind.String(),
		Source:        evt.Source,
		Status:        string(evt.Status),
		Reason:        evt.Reason,
		Dimension:     evt.Dimension,
		FramesDecoded: evt.FramesDecoded,
		TraceID:       pkgtracer.TraceID(ctx),
		OccurredAt:    evt.OccurredAt,
	}
	msg, err := NewMessage(uuid.NewString(), MessageTypeMediaIngested, payload)
	if err != nil {
		return err
	}
	msg.SetMetadata("media_id", evt.MediaID)
	msg.SetMetadata("status", string(evt.Status))

	_, err = p.Publish(ctx, p.stream, msg)
	return err
}
