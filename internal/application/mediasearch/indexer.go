package mediasearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"media-search-api/internal/domain/entity"
	"media-search-api/pkg/logger"
	"media-search-api/pkg/metrics"
	"media-search-api/pkg/tracer"
)

const (
	defaultFrameSamples   = 8
	defaultEmbeddingBatch = 16
	defaultIngestWorkers  = 4
)

// IndexerOptions 入库参数
type IndexerOptions struct {
	FrameSamples       int
	EmbeddingBatchSize int
	Workers            int
}

// Indexer 把图片/视频转换为单个归一化向量并写入索引。
// 单个媒体失败只产生 skipped 结果，不影响同批次的其他媒体。
type Indexer struct {
	embedder  Embedder
	loader    MediaLoader
	index     *Index
	publisher IngestEventPublisher

	frameSamples       int
	embeddingBatchSize int
	workers            int
}

func NewIndexer(embedder Embedder, loader MediaLoader, index *Index, opts IndexerOptions) *Indexer {
	if opts.FrameSamples <= 0 {
		opts.FrameSamples = defaultFrameSamples
	}
	if opts.EmbeddingBatchSize <= 0 {
		opts.EmbeddingBatchSize = defaultEmbeddingBatch
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultIngestWorkers
	}
	return &Indexer{
		embedder:           embedder,
		loader:             loader,
		index:              index,
		frameSamples:       opts.FrameSamples,
		embeddingBatchSize: opts.EmbeddingBatchSize,
		workers:            opts.Workers,
	}
}

// WithPublisher 设置入库事件发布器（可选）
func (i *Indexer) WithPublisher(p IngestEventPublisher) *Indexer {
	i.publisher = p
	return i
}

func (i *Indexer) Enabled() bool {
	return i != nil && i.embedder != nil && i.loader != nil && i.index != nil
}

// pendingIngest 已计算完向量、尚未写入索引的媒体
type pendingIngest struct {
	in    IngestInput
	out   IngestOutcome
	vec   []float32
	err   error
	start time.Time
}

// Ingest 入库单个媒体。返回的 error 只用于上下文取消，业务失败体现在 IngestOutcome.Reason。
func (i *Indexer) Ingest(ctx context.Context, in IngestInput) (IngestOutcome, error) {
	p, err := i.prepare(ctx, in)
	if err != nil {
		return p.out, err
	}
	return i.commit(ctx, p), nil
}

// prepare 解码并计算向量，不触碰索引
func (i *Indexer) prepare(ctx context.Context, in IngestInput) (*pendingIngest, error) {
	p := &pendingIngest{
		in:    in,
		out:   IngestOutcome{ID: strings.TrimSpace(in.ID), Kind: in.Kind},
		start: time.Now(),
	}
	ctx = logger.WithContext(ctx, logger.MediaIDKey, in.ID)
	ctx, span := tracer.Start(ctx, "mediasearch.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("media.id", in.ID),
		attribute.String("media.kind", in.Kind.String()),
	)

	p.vec, p.out.FramesDecoded, p.err = i.embed(ctx, in)
	if ctxErr := ctx.Err(); ctxErr != nil && p.err != nil {
		p.out.Duration = time.Since(p.start)
		span.RecordError(ctxErr)
		return p, ctxErr
	}
	if p.err != nil {
		span.RecordError(p.err)
	}
	return p, nil
}

// commit 写入索引并记录结果
func (i *Indexer) commit(ctx context.Context, p *pendingIngest) IngestOutcome {
	ctx = logger.WithContext(ctx, logger.MediaIDKey, p.in.ID)
	in, out := p.in, p.out

	err := p.err
	if err == nil {
		err = i.index.Put(entity.MediaRecord{
			ID:         out.ID,
			Kind:       in.Kind,
			Source:     in.Source,
			Embedding:  p.vec,
			IndexedAt:  time.Now().UTC(),
			FrameCount: out.FramesDecoded,
		})
	}
	out.Duration = time.Since(p.start)

	if err != nil {
		out.Status = IngestStatusSkipped
		out.Reason = err
		logger.Warn(ctx, "media skipped", "kind", in.Kind.String(), "source", in.Source, "reason", err.Error())
	} else {
		out.Status = IngestStatusEmbedded
		logger.Info(ctx, "media indexed",
			"kind", in.Kind.String(),
			"frames", out.FramesDecoded,
			"duration_ms", out.Duration.Milliseconds(),
		)
	}

	kind := in.Kind.String()
	if kind == "" {
		kind = "unknown"
	}
	metrics.IngestTotal.WithLabelValues(kind, string(out.Status)).Inc()
	metrics.IngestDuration.WithLabelValues(kind).Observe(out.Duration.Seconds())
	metrics.IndexRecords.Set(float64(i.index.Len()))

	i.publish(ctx, in, out, len(p.vec))
	return out
}

// IngestBatch 并发计算向量，全部完成后按输入顺序写入索引；结果顺序与输入一致。
func (i *Indexer) IngestBatch(ctx context.Context, inputs []IngestInput) (*BatchResult, error) {
	batchID := uuid.NewString()
	ctx = logger.WithContext(ctx, logger.BatchIDKey, batchID)

	res := &BatchResult{
		Submitted: len(inputs),
		Outcomes:  make([]IngestOutcome, len(inputs)),
	}
	if len(inputs) == 0 {
		return res, nil
	}

	pending := make([]*pendingIngest, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)
	for idx := range inputs {
		g.Go(func() error {
			p, err := i.prepare(gctx, inputs[idx])
			pending[idx] = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for idx, p := range pending {
		res.Outcomes[idx] = i.commit(ctx, p)
		if res.Outcomes[idx].Embedded() {
			res.Embedded++
		}
	}
	logger.Info(ctx, "batch ingest completed",
		"submitted", res.Submitted,
		"embedded", res.Embedded,
		"skipped", res.Submitted-res.Embedded,
	)
	return res, nil
}

func (i *Indexer) embed(ctx context.Context, in IngestInput) ([]float32, int, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, 0, ErrInvalidMediaID
	}
	if !i.Enabled() {
		return nil, 0, ErrEmbedderUnavailable
	}

	switch in.Kind {
	case entity.MediaKindImage:
		vec, err := i.embedImage(ctx, in.Source)
		return vec, 0, err
	case entity.MediaKindVideo:
		return i.embedVideo(ctx, in.Source)
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, in.Kind)
	}
}

func (i *Indexer) embedImage(ctx context.Context, source string) ([]float32, error) {
	img, err := i.loader.LoadImage(ctx, source)
	if err != nil {
		return nil, wrapDecode(err)
	}
	raw, err := i.embedder.EmbedImage(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return Normalize(raw)
}

func (i *Indexer) embedVideo(ctx context.Context, source string) ([]float32, int, error) {
	src, err := i.loader.OpenVideo(ctx, source)
	if err != nil {
		return nil, 0, wrapDecode(err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Debug(ctx, "close video failed", "error", cerr.Error())
		}
	}()

	sampled, err := SampleFrames(ctx, src, i.frameSamples)
	if err != nil {
		return nil, 0, err
	}
	frames := len(sampled.Frames)
	metrics.VideoFramesDecoded.Observe(float64(frames))

	vectors := make([][]float32, 0, frames)
	for start := 0; start < frames; start += i.embeddingBatchSize {
		end := min(start+i.embeddingBatchSize, frames)
		batch, err := i.embedder.EmbedImages(ctx, sampled.Frames[start:end])
		if err != nil {
			return nil, frames, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		if len(batch) != end-start {
			return nil, frames, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, end-start, len(batch))
		}
		vectors = append(vectors, batch...)
	}

	vec, err := MeanPool(vectors)
	return vec, frames, err
}

func (i *Indexer) publish(ctx context.Context, in IngestInput, out IngestOutcome, dim int) {
	if i.publisher == nil {
		return
	}
	evt := &IngestEvent{
		MediaID:       out.ID,
		Kind:          in.Kind,
		Source:        in.Source,
		Status:        out.Status,
		Dimension:     dim,
		FramesDecoded: out.FramesDecoded,
		OccurredAt:    time.Now().UTC(),
	}
	if out.Reason != nil {
		evt.Reason = out.Reason.Error()
		evt.Dimension = 0
	}
	if err := i.publisher.PublishIngested(ctx, evt); err != nil {
		logger.Warn(ctx, "publish ingest event failed", "error", err.Error())
	}
}

func wrapDecode(err error) error {
	if errors.Is(err, ErrUnsupportedMediaType) || errors.Is(err, ErrMediaDecodeFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMediaDecodeFailed, err)
}
