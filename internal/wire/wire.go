// Package wire 组装应用依赖
package wire

import (
	"context"

	"github.com/gin-gonic/gin"

	"media-search-api/internal/application/mediasearch"
	"media-search-api/internal/config"
	"media-search-api/internal/domain/entity"
	"media-search-api/internal/infrastructure/embedding"
	"media-search-api/internal/infrastructure/media"
	"media-search-api/internal/infrastructure/messaging"
	"media-search-api/internal/infrastructure/persistence/redis"
	"media-search-api/internal/interfaces/http/handler"
	"media-search-api/internal/interfaces/http/router"
	"media-search-api/pkg/logger"
)

// DataLayer 外部依赖容器；Redis 相关字段在未启用或不可达时为 nil
type DataLayer struct {
	RedisClient *redis.Client
	Cache       *redis.Cache
	Producer    *messaging.Producer
}

// App 应用容器
type App struct {
	Config   *config.Config
	Data     *DataLayer
	Embedder *embedding.Client
	Index    *mediasearch.Index
	Engine   *mediasearch.Engine
	Indexer  *mediasearch.Indexer
	Store    *media.Store
	Router   *router.Router
}

// Handler 返回 HTTP 处理入口
func (a *App) Handler() *gin.Engine {
	return a.Router.Engine()
}

// InitializeApp 初始化整个应用（带路由器）。返回的 cleanup 负责释放外部连接。
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	data, cleanupData := InitializeDataLayer(ctx, cfg)

	client, err := ProvideEmbeddingClient(cfg)
	if err != nil {
		cleanupData()
		return nil, nil, err
	}

	store, err := ProvideUploadStore(cfg)
	if err != nil {
		cleanupData()
		return nil, nil, err
	}

	index := mediasearch.NewIndex(cfg.Embedding.Dimension)
	embedder := ProvideEmbedder(cfg, client, data.Cache)
	engine := ProvideSearchEngine(cfg, embedder, index)
	indexer := ProvideIndexer(ctx, cfg, embedder, index, data.Producer)

	mediaHandler := handler.NewMediaHandler(
		engine,
		indexer,
		store,
		entity.NewKindResolver(cfg.Media.ImageExts, cfg.Media.VideoExts),
		cfg.Media.MaxUploadBytes,
	)
	healthHandler := handler.NewHealthHandler(cfg.App.Version, data.RedisClient, client, engine)

	r := router.New(cfg, router.Handlers{
		Health: healthHandler,
		Media:  mediaHandler,
	}, data.RedisClient)

	return &App{
		Config:   cfg,
		Data:     data,
		Embedder: client,
		Index:    index,
		Engine:   engine,
		Indexer:  indexer,
		Store:    store,
		Router:   r,
	}, cleanupData, nil
}

// InitializeDataLayer 初始化数据层；Redis 连接失败时降级运行
func InitializeDataLayer(ctx context.Context, cfg *config.Config) (*DataLayer, func()) {
	data := &DataLayer{}
	client, cleanup, err := ProvideRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn(ctx, "redis unavailable, running without query cache, distributed rate limit and events",
			"error", err.Error())
		return data, func() {}
	}
	if client == nil {
		return data, cleanup
	}

	data.RedisClient = client
	data.Cache = redis.NewCache(client)
	if removed, err := data.Cache.SyncQueryEmbeddingModel(ctx, cfg.Embedding.Model); err != nil {
		logger.Warn(ctx, "failed to sync query embedding cache model", "error", err.Error())
	} else if removed > 0 {
		logger.Info(ctx, "embedding model changed, stale query embeddings removed",
			"model", cfg.Embedding.Model, "removed", removed)
	}
	data.Producer = ProvideMessagingProducer(client, cfg)
	return data, cleanup
}

// ProvideRedisClient 提供 Redis 客户端；未启用时返回 nil
func ProvideRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(ctx, &cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Warn(context.Background(), "failed to close redis client", "error", err.Error())
		}
	}
	return client, cleanup, nil
}

// ProvideMessagingProducer 提供消息生产者；未启用事件流时返回 nil
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	if redisClient == nil || !cfg.Messaging.RedisStream.Enabled {
		return nil
	}
	return messaging.NewProducer(redisClient.Redis(), cfg.Messaging.RedisStream.Stream, int64(cfg.Messaging.RedisStream.MaxLen))
}

// ProvideEmbeddingClient 提供 Embedder sidecar 客户端；未配置 endpoint 时启动失败
func ProvideEmbeddingClient(cfg *config.Config) (*embedding.Client, error) {
	return embedding.NewClient(&cfg.Embedding)
}

// ProvideEmbedder 在 Redis 可用时为查询文本向量加缓存
func ProvideEmbedder(cfg *config.Config, client *embedding.Client, cache *redis.Cache) mediasearch.Embedder {
	if cache == nil {
		return client
	}
	return embedding.NewCachedEmbedder(client, cache, cfg.Embedding.Model, cfg.Embedding.QueryCacheTTL)
}

// ProvideUploadStore 提供上传目录存储
func ProvideUploadStore(cfg *config.Config) (*media.Store, error) {
	return media.NewStore(cfg.Media.UploadDir)
}

// ProvideSearchEngine 提供检索引擎
func ProvideSearchEngine(cfg *config.Config, embedder mediasearch.Embedder, index *mediasearch.Index) *mediasearch.Engine {
	return mediasearch.NewEngine(embedder, index, mediasearch.SearchOptions{
		TopK:     cfg.Search.TopK,
		MaxTopK:  cfg.Search.MaxTopK,
		MinScore: cfg.Search.MinScore,
	})
}

// ProvideIndexer 提供入库器；ffmpeg 不可用时视频一律跳过
func ProvideIndexer(
	ctx context.Context,
	cfg *config.Config,
	embedder mediasearch.Embedder,
	index *mediasearch.Index,
	producer *messaging.Producer,
) *mediasearch.Indexer {
	ff := media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	if err := ff.Available(); err != nil {
		logger.Warn(ctx, "ffmpeg unavailable, videos will be skipped", "error", err.Error())
		ff = nil
	}

	indexer := mediasearch.NewIndexer(embedder, media.NewLoader(ff), index, mediasearch.IndexerOptions{
		FrameSamples:       cfg.Media.FrameSamples,
		EmbeddingBatchSize: cfg.Embedding.BatchSize,
		Workers:            cfg.Media.IngestWorkers,
	})
	if producer != nil {
		indexer = indexer.WithPublisher(producer)
	}
	return indexer
}
