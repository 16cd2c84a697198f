// Package bootstrap builds the coordinator's object graph from configuration.
// The server and the ledgerctl CLI share it so both run against the same
// stores, pools and policies.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	docapp "github.com/ledgerlink/backend/internal/application/document"
	"github.com/ledgerlink/backend/internal/application/posting"
	"github.com/ledgerlink/backend/internal/application/reconciliation"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/infrastructure/cache"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/ledgerlink/backend/internal/infrastructure/event"
	"github.com/ledgerlink/backend/internal/infrastructure/extraction"
	"github.com/ledgerlink/backend/internal/infrastructure/logger"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence"
	"github.com/ledgerlink/backend/internal/infrastructure/pool"
	"github.com/ledgerlink/backend/internal/infrastructure/scheduler"
	"github.com/ledgerlink/backend/internal/infrastructure/storage"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
	"github.com/ledgerlink/backend/internal/infrastructure/usage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// auditLockKey is shared by every replica running the orphan audit
const auditLockKey = "ledgerlink:reconciliation:audit"

// Container holds every long-lived component. Close releases them in reverse
// order of construction.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	StructuredDB *persistence.Database
	DocumentDB   *persistence.Database
	// Redis is nil when the cache backend is memory
	Redis *redis.Client
	Pools *pool.Manager

	LedgerStore   *persistence.StructuredStore
	DocumentStore *persistence.DocumentStore
	Cache         *cache.Cache
	Publisher     event.Publisher

	Pipeline  *posting.Pipeline
	Resolver  *reconciliation.Resolver
	Documents *docapp.Service
	Usage     *usage.Tracker

	closers []func() error
}

// Option configures New
type Option func(*options)

type options struct {
	metrics *telemetry.CoordinatorMetrics
}

// WithMetrics records pool, cache, pipeline and audit metrics
func WithMetrics(m *telemetry.CoordinatorMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// New opens both databases, the pools and every service built on them. On
// failure whatever was already opened is closed again.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...Option) (_ *Container, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	c := &Container{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			if closeErr := c.Close(); closeErr != nil {
				log.Warn("Error releasing partially built container", zap.Error(closeErr))
			}
		}
	}()

	if err := c.openDatabases(cfg, log); err != nil {
		return nil, err
	}
	if err := c.openPools(ctx, cfg, log, o.metrics); err != nil {
		return nil, err
	}

	content, contentCloser, err := storage.NewContentStore(ctx, &cfg.Storage, log.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}
	if contentCloser != nil {
		c.onClose(contentCloser.Close)
	}

	backend, err := cache.NewBackendFactory(cfg.Cache, cache.WithFactoryLogger(log.Named("cache"))).
		CreateBackend(ctx, c.Pools.Cache)
	if err != nil {
		return nil, err
	}
	c.onClose(backend.Close)
	c.Cache = cache.NewFromConfig(cfg.Cache, backend, cache.WithLogger(log.Named("cache")), cache.WithMetrics(o.metrics))

	storeOpts := []persistence.StoreOption{persistence.WithLogger(log)}
	if content != nil {
		storeOpts = append(storeOpts, persistence.WithContentStore(content))
	}
	c.LedgerStore = persistence.NewStructuredStore(c.Pools.Structured, storeOpts...)
	c.DocumentStore = persistence.NewDocumentStore(c.Pools.Document,
		append(storeOpts, persistence.WithQuarantineHook(c.dropCachedViews(log)))...)

	if c.Publisher, err = event.NewPublisher(ctx, cfg.Events, log.Named("events")); err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	c.onClose(c.Publisher.Close)

	// ExtractionTimeout bounds the whole call; each attempt gets a share of it
	extractor, err := extraction.NewClient(cfg.Pipeline.ExtractorURL, cfg.Pipeline.ExtractionTimeout/extraction.MaxAttempts,
		extraction.WithLogger(log.Named("extraction")))
	if err != nil {
		return nil, err
	}

	c.Pipeline, err = posting.New(c.LedgerStore, c.DocumentStore, extractor, cfg.Pipeline,
		posting.WithCache(c.Cache),
		posting.WithPublisher(c.Publisher),
		posting.WithMetrics(o.metrics),
		posting.WithLogger(log.Named("pipeline")),
	)
	if err != nil {
		return nil, err
	}

	var seen reconciliation.SeenSet = cache.NewMemorySeenSet()
	if c.Pools.Cache != nil {
		seen = cache.NewRedisSeenSet(c.Pools.Cache, cfg.Cache.KeyPrefix+":orphans")
	}
	c.Resolver = reconciliation.NewResolver(c.DocumentStore, c.LedgerStore, cfg.Reconciliation,
		reconciliation.WithSeenSet(seen, seenTTL(cfg.Reconciliation)),
		reconciliation.WithPublisher(c.Publisher),
		reconciliation.WithMetrics(o.metrics),
		reconciliation.WithLogger(log.Named("reconciliation")),
	)

	svcOpts := []docapp.Option{docapp.WithCache(c.Cache), docapp.WithLogger(log.Named("documents"))}
	if content != nil {
		svcOpts = append(svcOpts, docapp.WithContentStore(content))
	}
	c.Documents = docapp.NewService(c.LedgerStore, c.DocumentStore, c.Pipeline, c.Resolver, svcOpts...)

	if c.Usage, err = usage.New(cfg.Usage, usage.WithLogger(log.Named("usage"))); err != nil {
		return nil, err
	}
	c.onClose(c.Usage.Close)

	return c, nil
}

func (c *Container) openDatabases(cfg *config.Config, log *zap.Logger) error {
	dbOpts := func(store string) persistence.Options {
		return persistence.Options{
			Store:         store,
			Logger:        log,
			LogLevel:      logger.GormLevel(cfg.Log.Level),
			SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
			Tracing:       cfg.Telemetry.DBTraceEnabled,
		}
	}

	var err error
	if c.StructuredDB, err = persistence.NewDatabase(&cfg.Database, dbOpts(persistence.StoreStructured)); err != nil {
		return err
	}
	c.onClose(c.StructuredDB.Close)
	log.Info("Structured store connected", zap.String("db", cfg.Database.DBName))

	if c.DocumentDB, err = persistence.NewDatabase(&cfg.DocumentStore, dbOpts(persistence.StoreDocument)); err != nil {
		return err
	}
	c.onClose(c.DocumentDB.Close)
	log.Info("Document store connected", zap.String("db", cfg.DocumentStore.DBName))
	return nil
}

func (c *Container) openPools(ctx context.Context, cfg *config.Config, log *zap.Logger, metrics *telemetry.CoordinatorMetrics) error {
	poolOpts := func(k config.PoolKindConfig) pool.Options {
		return pool.Options{
			MinSize:        k.MinSize,
			MaxSize:        k.MaxSize,
			AcquireTimeout: k.AcquireTimeout,
			Logger:         log.Named("pool"),
			Metrics:        metrics,
		}
	}
	mcfg := pool.ManagerConfig{
		Structured:        poolOpts(cfg.Pool.Structured),
		StructuredFactory: pool.NewGormConnFactory(c.StructuredDB.DB),
		Document:          poolOpts(cfg.Pool.Document),
		DocumentFactory:   pool.NewGormConnFactory(c.DocumentDB.DB),
		Cache:             poolOpts(cfg.Pool.Cache),
	}
	if cfg.Cache.Backend == "redis" {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Pool.Cache.MaxSize,
		})
		c.onClose(c.Redis.Close)
		mcfg.CacheFactory = pool.NewRedisConnFactory(c.Redis)
	}

	var err error
	if c.Pools, err = pool.NewManager(ctx, mcfg); err != nil {
		return fmt.Errorf("failed to open connection pools: %w", err)
	}
	c.onClose(func() error {
		c.Pools.Close()
		return nil
	})
	return nil
}

// AuditScheduler returns the periodic orphan audit. Replicas elect a runner
// through a Redis lock when Redis is configured.
func (c *Container) AuditScheduler() (*scheduler.AuditScheduler, error) {
	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if c.Redis != nil {
		locker = scheduler.NewRedisLocker(c.Redis)
	}
	return scheduler.NewAuditScheduler(c.Resolver.RunAudit, locker, c.Logger.Named("scheduler"),
		scheduler.AuditSchedulerConfig{
			Enabled:  c.Config.Reconciliation.Enabled,
			Interval: c.Config.Reconciliation.AuditInterval,
			LockKey:  auditLockKey,
			LockTTL:  c.Config.Reconciliation.LockTTL,
		})
}

func (c *Container) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close releases every component, most recently opened first
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// seenTTL keeps a finding deduplicated for a few audit runs
func seenTTL(cfg config.ReconciliationConfig) time.Duration {
	if cfg.AuditInterval <= 0 {
		return 0
	}
	return 3 * cfg.AuditInterval
}

var _ io.Closer = (*Container)(nil)

// dropCachedViews invalidates the lists that show a document once a read
// quarantines it.
func (c *Container) dropCachedViews(log *zap.Logger) func(ctx context.Context, doc *document.Document) {
	return func(ctx context.Context, doc *document.Document) {
		if err := c.Cache.InvalidateTags(ctx, cache.WriteTags(doc.CompanyID, doc.ProjectID)...); err != nil {
			log.Warn("Cache invalidation after quarantine failed",
				zap.String("document_id", doc.ID.String()), zap.Error(err))
		}
	}
}
