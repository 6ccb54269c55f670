// Package app wires the pulling engine, sequential pipeline and their
// optional sinks into one long-lived container, acting as this service's
// dependency injection root.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/snapscore/pipeline/internal/archive"
	"github.com/snapscore/pipeline/internal/audit/postgres"
	"github.com/snapscore/pipeline/internal/config"
	"github.com/snapscore/pipeline/internal/ingest"
	"github.com/snapscore/pipeline/internal/logging"
	"github.com/snapscore/pipeline/internal/metrics"
	notifypubsub "github.com/snapscore/pipeline/internal/notify/pubsub"
	pubsubpub "github.com/snapscore/pipeline/internal/publisher/pubsub"
	"github.com/snapscore/pipeline/internal/pulling"
	"github.com/snapscore/pipeline/internal/scheduler"
	"github.com/snapscore/pipeline/internal/sequential"
	storagegcs "github.com/snapscore/pipeline/internal/storage/gcs"
	storagelocal "github.com/snapscore/pipeline/internal/storage/local"
	storagememory "github.com/snapscore/pipeline/internal/storage/memory"
	"github.com/snapscore/pipeline/internal/telemetry"
)

// shutdownGrace bounds how long Close waits for in-flight pulls to drain.
const shutdownGrace = 10 * time.Second

// App holds every shared, long-lived service.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Engine    *pulling.PullingEngine
	Pipeline  *ingest.Pipeline
	Scheduler *scheduler.Scheduler

	auditStore     *postgres.Store
	gcsClient      *storage.Client
	psClient       *pubsub.Client
	cancelPipeline context.CancelFunc
}

// New builds an App from cfg: the pulling engine, its optional sinks, and
// the sequential ingest pipeline reading its response stream. Fails fast if
// a configured sink cannot be reached.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}

	if _, err := telemetry.Init(ctx, cfg.Tracing); err != nil {
		return nil, fmt.Errorf("build tracer provider: %w", err)
	}

	opts := []pulling.Option{pulling.WithObserver(metrics.Recorder{})}

	if cfg.Storage.Enabled {
		blobStore, err := a.buildBlobStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pulling.WithArchiver(archive.New(blobStore, cfg.Storage.Prefix)))
	}

	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		a.psClient = client
		publisher := pubsubpub.New(client.Topic(cfg.PubSub.TopicName))
		opts = append(opts, pulling.WithNotifier(notifypubsub.New(publisher, cfg.PubSub.TopicName)))
	}

	if cfg.DB.Enabled {
		store, err := postgres.NewStore(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("build audit store: %w", err)
		}
		a.auditStore = store
		opts = append(opts, pulling.WithAuditSink(store))
	}

	engineCfg := pulling.EngineConfig{
		HTTPTimeout:        cfg.Pulling.HTTPTimeout(),
		DeliveryWorkers:    cfg.Pulling.DeliveryWorkers,
		DeliveryBuffer:     cfg.Pulling.DeliveryBuffer,
		RescheduleInterval: cfg.Pulling.RescheduleInterval(),
		SelfReschedule:     cfg.Pulling.SelfReschedule,
	}
	for i, rl := range cfg.Pulling.RateLimits {
		engineCfg.RateLimits[i] = pulling.RateLimitConfig{Concurrency: rl.Concurrency, RPS: rl.RPS, Burst: rl.Burst}
	}

	retryPolicy := &pulling.ExponentialRetryPolicy{
		MaxAttempts: cfg.Pulling.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.Pulling.RetryBaseMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Pulling.RetryMaxMs) * time.Millisecond,
	}

	transportFactory := pulling.DefaultTransportFactory(cfg.Pulling.MaxConnsPerHost)
	a.Engine = pulling.NewPullingEngine(engineCfg, transportFactory, retryPolicy, logger, opts...)

	if !cfg.Pulling.SelfReschedule {
		sched, err := scheduler.New(a.Engine, "* * * * * *", logger)
		if err != nil {
			return nil, fmt.Errorf("build scheduler: %w", err)
		}
		a.Scheduler = sched
		sched.Start()
	}

	pipelineCtx, cancel := context.WithCancel(context.Background())
	a.cancelPipeline = cancel
	a.Pipeline = ingest.NewPipeline(a.Engine, cfg.Sequential.ShardCount, defaultHandler(logger), logger,
		sequential.WithStallThreshold(cfg.Sequential.StallThreshold()),
	)
	go a.Pipeline.Run(pipelineCtx)

	return a, nil
}

// buildBlobStore constructs the response-archival backend named by
// cfg.Provider, tracking any client that needs a Close on shutdown.
func (a *App) buildBlobStore(ctx context.Context, cfg config.StorageConfig) (archive.BlobStore, error) {
	switch cfg.Provider {
	case "local":
		store, err := storagelocal.New(storagelocal.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("build local blob store: %w", err)
		}
		return store, nil
	case "memory":
		return storagememory.NewBlobStore(), nil
	default:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := storagegcs.New(client, storagegcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("build gcs blob store: %w", err)
		}
		return store, nil
	}
}

// defaultHandler logs a completed response. Real deployments replace this
// with a handler that does something with the body; the pipeline's
// sequencing guarantee holds regardless of what the handler does.
func defaultHandler(logger *zap.Logger) func(ctx context.Context, resp pulling.FeedResponse) error {
	return func(_ context.Context, resp pulling.FeedResponse) error {
		logger.Debug("response processed",
			zap.String("fingerprint", resp.Fingerprint),
			zap.Int("status_code", resp.StatusCode),
			zap.Int("body_bytes", len(resp.Body)),
		)
		return nil
	}
}

// Close gracefully shuts down every owned service.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")

	if a.Pipeline != nil {
		a.Pipeline.Stop()
	}
	if a.cancelPipeline != nil {
		a.cancelPipeline()
	}
	if a.Engine != nil {
		a.Engine.Shutdown(shutdownGrace)
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.auditStore != nil {
		a.auditStore.Close()
	}
	if a.gcsClient != nil {
		_ = a.gcsClient.Close()
	}
	if a.psClient != nil {
		a.psClient.Close()
	}
	if err := a.Logger.Sync(); err != nil {
		a.Logger.Warn("error syncing logger on shutdown", zap.Error(err))
	}
}
