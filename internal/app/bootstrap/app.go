package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"bobbrain/internal/db/blob"
	firestoredb "bobbrain/internal/db/firestore"
	neo4jdb "bobbrain/internal/db/neo4j"
	"bobbrain/internal/db/postgres"
	redisdb "bobbrain/internal/db/redis"
	"bobbrain/internal/domain/cache"
	"bobbrain/internal/domain/dedup"
	"bobbrain/internal/domain/ingest"
	"bobbrain/internal/domain/knowledge"
	"bobbrain/internal/domain/vectorindex"
	"bobbrain/internal/platform/config"
	applog "bobbrain/internal/platform/log"
	"bobbrain/internal/platform/metrics"
	"bobbrain/internal/provider"
)

// App 组装好的运行时组件，server 和 brainctl 共用。
type App struct {
	Config       *config.AppConfig
	Metrics      *metrics.Metrics
	Cache        *cache.ResponseCache
	Dedup        *dedup.Deduplicator // 仅 DEDUP_BACKEND=memory
	Index        *vectorindex.Index
	Orchestrator *knowledge.Orchestrator
	Ingester     *ingest.Ingester
	Providers    *provider.Registry
	Usage        *postgres.UsageStore // 未配置 DATABASE_URL 时为 nil
	JobLock      *redisdb.JobLock     // 未配置 REDIS_URL 时为 nil

	closers []func(context.Context) error
}

// Build 按配置连接外部依赖并组装组件。失败时已打开的连接会被关闭。
func Build(ctx context.Context, cfg *config.AppConfig) (_ *App, err error) {
	app := &App{Config: cfg, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			app.Close(context.Background())
		}
	}()

	var rdb *goredis.Client
	if cfg.Redis.URL != "" {
		rdb, err = redisdb.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return rdb.Close() })
		app.JobLock = redisdb.NewJobLock(rdb, 10*time.Minute)
		applog.Info("✅ Connected to Redis")
	}

	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return db.Close() })
		applog.Info("✅ Connected to PostgreSQL")
	}

	if err = app.buildCache(cfg, rdb); err != nil {
		return nil, err
	}

	embedder, err := NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}
	docs, err := app.documentStore(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	snaps, err := snapshotStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Index = vectorindex.New(docs, snaps, embedder, vectorindex.Options{
		Dims:              cfg.Embedding.Dims,
		Model:             embedder.Model(),
		SnapshotFreshness: time.Duration(cfg.Index.SnapshotFreshnessSeconds) * time.Second,
		MaxAge:            time.Duration(cfg.Index.MaxAgeSeconds) * time.Second,
	})
	app.Index.SetMetrics(app.Metrics)

	app.Ingester = ingest.New(embedder, app.Index, ingest.Options{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		MaxFileSize:  cfg.Ingest.MaxFileSize,
	})

	sources := []knowledge.Source{
		knowledge.NewVectorSource(app.Index, cfg.Index.DefaultTopK, cfg.Index.SimilarityThreshold),
	}
	if cfg.Neo4j.URI != "" {
		graph, gerr := neo4jdb.NewGraphSource(ctx, neo4jdb.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
		if gerr != nil {
			applog.Warnf("⚠️  Neo4j unavailable, graph source disabled: %v", gerr)
		} else {
			app.onClose(graph.Close)
			sources = append(sources, graph)
			applog.Info("✅ Graph source ready (Neo4j)")
		}
	}
	if db != nil {
		usage, uerr := postgres.NewUsageStore(db, cfg.Database.UsageTable)
		if uerr != nil {
			return nil, uerr
		}
		if uerr := usage.EnsureTable(ctx); uerr != nil {
			applog.Warnf("⚠️  Usage table unavailable, analytics source disabled: %v", uerr)
		} else {
			app.Usage = usage
			sources = append(sources, usage)
		}
	}

	app.Orchestrator = knowledge.New(app.Cache, sources, knowledge.Options{CacheTTL: cfg.CacheTTL()})
	app.Orchestrator.SetMetrics(app.Metrics)
	app.Orchestrator.SetEventGate(app.eventGate(cfg, rdb))

	app.Providers = RegisterLLMProviders(ctx, cfg.LLM)
	if p, perr := app.Providers.Get(cfg.LLM.Provider); perr == nil {
		gen := provider.NewGenerator(p, cfg.LLM.Model)
		if app.Usage != nil {
			gen.SetUsageRecorder(app.Usage)
		}
		app.Orchestrator.SetGenerator(gen)
		applog.Infof("✅ Answer generator ready (provider: %s, model: %s)", cfg.LLM.Provider, cfg.LLM.Model)
	} else if len(app.Providers.List()) > 0 {
		applog.Warnf("⚠️  LLM_PROVIDER %q not registered: %v", cfg.LLM.Provider, perr)
	}

	applog.Infof("✅ Knowledge sources: %v", app.Orchestrator.SourceNames())
	return app, nil
}

func (a *App) buildCache(cfg *config.AppConfig, rdb *goredis.Client) error {
	var backend cache.Backend
	switch cfg.Cache.Backend {
	case "redis":
		backend = redisdb.NewCacheBackend(rdb)
	default:
		mem, err := cache.NewMemoryBackend(cfg.Cache.MaxEntries)
		if err != nil {
			return err
		}
		backend = mem
	}
	a.Cache = cache.New(backend, cache.Options{
		DefaultTTL:     cfg.CacheTTL(),
		ComputeTimeout: cfg.ComputeTimeout(),
	})
	a.Cache.SetMetrics(a.Metrics)
	applog.Infof("✅ Response cache ready (backend: %s, ttl: %s)", cfg.Cache.Backend, cfg.CacheTTL())
	return nil
}

func (a *App) eventGate(cfg *config.AppConfig, rdb *goredis.Client) knowledge.EventGate {
	if cfg.Dedup.Backend == "redis" {
		store := redisdb.NewEventStore(rdb, cfg.DedupRetention())
		store.SetMetrics(a.Metrics)
		applog.Infof("✅ Event dedup ready (backend: redis, retention: %s)", cfg.DedupRetention())
		return store
	}
	a.Dedup = dedup.New(dedup.Options{
		Retention: cfg.DedupRetention(),
		Capacity:  cfg.Dedup.Capacity,
		Shards:    cfg.Dedup.Shards,
	})
	a.Dedup.SetMetrics(a.Metrics)
	applog.Infof("✅ Event dedup ready (backend: memory, retention: %s, capacity: %d)", cfg.DedupRetention(), a.Dedup.Capacity())
	return a.Dedup
}

func (a *App) documentStore(ctx context.Context, cfg *config.AppConfig, db *sql.DB) (vectorindex.DocumentStore, error) {
	switch cfg.Index.DocumentStore {
	case "postgres":
		store, err := postgres.NewDocumentStore(db, cfg.Database.DocumentTable)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "firestore":
		store, err := firestoredb.NewDocumentStore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.Collection)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return store.Close() })
		applog.Infof("✅ Connected to Firestore (project: %s, collection: %s)", cfg.Firestore.ProjectID, cfg.Firestore.Collection)
		return store, nil
	case "memory":
		applog.Warn("⚠️  DOC_STORE=memory, documents are lost on restart")
		return vectorindex.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported DOC_STORE %q", cfg.Index.DocumentStore)
	}
}

func snapshotStore(ctx context.Context, cfg *config.AppConfig) (vectorindex.SnapshotStore, error) {
	if cfg.Index.SnapshotStore == "minio" {
		store, err := blob.NewMinIOStore(ctx, blob.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Object:    cfg.MinIO.Object,
			Secure:    cfg.MinIO.Secure,
		})
		if err != nil {
			return nil, err
		}
		applog.Infof("✅ Snapshot store ready (minio: %s/%s)", cfg.MinIO.Bucket, cfg.MinIO.Object)
		return store, nil
	}
	applog.Infof("✅ Snapshot store ready (file: %s)", cfg.Index.SnapshotPath)
	return blob.NewFileStore(cfg.Index.SnapshotPath), nil
}

func (a *App) onClose(f func(context.Context) error) {
	a.closers = append(a.closers, f)
}

// Close 逆序释放连接。
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			applog.Warnf("⚠️  Close failed: %v", err)
		}
	}
	a.closers = nil
}
