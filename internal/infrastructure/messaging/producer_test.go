package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-search-api/internal/application/mediasearch"
	"media-search-api/internal/domain/entity"
)

func newTestProducer(t *testing.T, stream string) (*Producer, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewProducer(rdb, stream, 0), rdb, mr
}

func TestProducer_PublishIngested(t *testing.T) {
	p, rdb, _ := newTestProducer(t, "")
	assert.Equal(t, StreamMediaIngested, p.Stream())

	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	err := p.PublishIngested(context.Background(), &mediasearch.IngestEvent{
		MediaID:       "clip.mp4",
		Kind:          entity.MediaKindVideo,
		Source:        "static/uploads/clip.mp4",
		Status:        mediasearch.IngestStatusEmbedded,
		Dimension:     512,
		FramesDecoded: 8,
		OccurredAt:    at,
	})
	require.NoError(t, err)

	entries, err := rdb.XRange(context.Background(), string(StreamMediaIngested), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, MessageTypeMediaIngested, entries[0].Values["type"])

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "clip.mp4", msg.Metadata["media_id"])
	assert.Equal(t, "embedded", msg.Metadata["status"])

	var payload MediaIngestedMessage
	require.NoError(t, msg.UnmarshalPayload(&payload))
	assert.Equal(t, "clip.mp4", payload.MediaID)
	assert.Equal(t, "video", payload.Kind)
	assert.Equal(t, 512, payload.Dimension)
	assert.Equal(t, 8, payload.FramesDecoded)
	assert.True(t, at.Equal(payload.OccurredAt))
}

func TestProducer_PublishSkipped(t *testing.T) {
	p, rdb, _ := newTestProducer(t, "stream:custom")

	require.NoError(t, p.PublishIngested(context.Background(), &mediasearch.IngestEvent{
		MediaID: "broken.mp4",
		Kind:    entity.MediaKindVideo,
		Status:  mediasearch.IngestStatusSkipped,
		Reason:  "no frames decoded",
	}))

	n, err := rdb.XLen(context.Background(), "stream:custom").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProducer_RedisDown(t *testing.T) {
	p, _, mr := newTestProducer(t, "")
	mr.Close()

	err := p.PublishIngested(context.Background(), &mediasearch.IngestEvent{MediaID: "a.png", Status: mediasearch.IngestStatusEmbedded})
	assert.Error(t, err)
}
