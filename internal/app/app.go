// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the serve and crawl commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/melody-hunter/internal/api"
	"github.com/JakeFAU/melody-hunter/internal/clock/system"
	"github.com/JakeFAU/melody-hunter/internal/config"
	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/melody-hunter/internal/fetcher/colly"
	"github.com/JakeFAU/melody-hunter/internal/id/uuid"
	"github.com/JakeFAU/melody-hunter/internal/orchestrator"
	"github.com/JakeFAU/melody-hunter/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/melody-hunter/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/melody-hunter/internal/queue/memory"
	"github.com/JakeFAU/melody-hunter/internal/registry"
	"github.com/JakeFAU/melody-hunter/internal/storage/gcs"
	"github.com/JakeFAU/melody-hunter/internal/storage/local"
	"github.com/JakeFAU/melody-hunter/internal/storage/memory"
	"github.com/JakeFAU/melody-hunter/internal/storage/postgres"
	"github.com/JakeFAU/melody-hunter/internal/storage/sqlite"
)

// App holds the shared, long-lived services of the process.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Store        crawler.Store
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Queue        *queueMemory.Queue
	Dispatcher   *dispatcher.Dispatcher
	IDs          crawler.IDGenerator
	Clock        crawler.Clock

	closers []func() error
}

// Option overrides a collaborator built by New.
type Option func(*options)

type options struct {
	store     crawler.Store
	fetchers  crawler.FetcherFactory
	publisher crawler.Publisher
	ids       crawler.IDGenerator
	clock     crawler.Clock
}

// WithStore uses store instead of the configured storage driver.
func WithStore(store crawler.Store) Option {
	return func(o *options) { o.store = store }
}

// WithFetchers replaces the colly fetcher factory.
func WithFetchers(f crawler.FetcherFactory) Option {
	return func(o *options) { o.fetchers = f }
}

// WithPublisher replaces the Pub/Sub task event publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithIDs replaces the UUID generator.
func WithIDs(ids crawler.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// WithClock replaces the system clock.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New builds every service described by cfg. It fails fast if any critical
// service cannot be initialized and releases what was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger, IDs: o.ids, Clock: o.clock}
	if a.IDs == nil {
		a.IDs = uuid.New()
	}
	if a.Clock == nil {
		a.Clock = system.New()
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Store = o.store
	if a.Store == nil {
		if a.Store, err = a.openStore(ctx); err != nil {
			return nil, err
		}
	}
	a.Registry = registry.Builtin(a.Store)

	fetchers := o.fetchers
	if fetchers == nil {
		if fetchers, err = a.newFetchers(ctx); err != nil {
			return nil, err
		}
	}

	publisher := o.publisher
	if publisher == nil && cfg.PubSub.TopicName != "" {
		if publisher, err = a.newPublisher(ctx); err != nil {
			return nil, err
		}
	}

	a.Orchestrator = orchestrator.New(a.Store, a.Registry, fetchers, publisher, a.IDs, a.Clock,
		orchestrator.Config{BatchSize: cfg.Crawler.BatchSize, Topic: cfg.PubSub.TopicName},
		logger)
	a.Queue = queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	a.Dispatcher = dispatcher.NewPool(a.Queue, a.Orchestrator, a.Clock, cfg.Crawler.Concurrency, logger)

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("workers", a.Dispatcher.Size()),
		zap.Strings("platforms", a.Registry.Names()),
		zap.Bool("archive", cfg.Archive.Enabled),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (crawler.Store, error) {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		a.Logger.Info("connecting to postgres")
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		a.Logger.Info("opening sqlite database", zap.String("path", cfg.Storage.SQLitePath))
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.DriverMemory, "":
		store := memory.NewStore()
		// The in-memory catalog starts empty on every boot.
		if _, err := registry.Seed(ctx, store, a.Clock.Now()); err != nil {
			return nil, fmt.Errorf("seed platforms: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}

func (a *App) newFetchers(ctx context.Context) (crawler.FetcherFactory, error) {
	cfg := a.Config
	fetchCfg := collyfetcher.Config{
		UserAgents: cfg.Crawler.UserAgents,
		Timeout:    cfg.FetchTimeout(),
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.HTTP.PlatformRPS,
			DefaultBurst: cfg.HTTP.PlatformBurst,
		}),
		Logger: a.Logger,
	}
	if cfg.Archive.Enabled {
		blobs, err := a.newArchive(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize archive: %w", err)
		}
		fetchCfg.Archive = blobs
	}
	return collyfetcher.New(fetchCfg), nil
}

func (a *App) newArchive(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.Config.Archive
	if cfg.GCSBucket == "" {
		a.Logger.Info("archiving responses to disk", zap.String("dir", cfg.LocalDir))
		return local.New(local.Config{BaseDir: filepath.Join(cfg.LocalDir, cfg.Prefix)})
	}
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.Logger.Info("archiving responses to gcs", zap.String("bucket", cfg.GCSBucket))
	return gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
}

func (a *App) newPublisher(ctx context.Context) (crawler.Publisher, error) {
	cfg := a.Config.PubSub
	a.Logger.Info("connecting to pub/sub", zap.String("project", cfg.ProjectID), zap.String("topic", cfg.TopicName))
	client, err := gpubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("initialize pubsub: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	publisher := pubsubpublisher.New(client)
	a.closers = append(a.closers, func() error {
		publisher.Close()
		return nil
	})
	return publisher, nil
}

// Server builds the HTTP task façade over the app's store and worker pool.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Store, a.Dispatcher, a.IDs, a.Clock, a.Config, a.Logger)
}

// Close releases services in reverse order of creation.
func (a *App) Close() error {
	if a.Queue != nil {
		a.Queue.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error closing application services", zap.Error(err))
		return err
	}
	return nil
}
