package cache

import (
	"context"
	"fmt"

	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/ledgerlink/backend/internal/infrastructure/pool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BackendFactory picks the cache backend from configuration
type BackendFactory struct {
	cfg                   config.CacheConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*BackendFactory)

// WithFactoryLogger sets the logger for the factory and the backends it builds
func WithFactoryLogger(logger *zap.Logger) FactoryOption {
	return func(f *BackendFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to
// the memory backend. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *BackendFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewBackendFactory creates a new factory
func NewBackendFactory(cfg config.CacheConfig, opts ...FactoryOption) *BackendFactory {
	f := &BackendFactory{
		cfg:                   cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateBackend returns the Redis backend over redisPool when configured and
// reachable. The memory backend is used for cache.backend=memory and, when
// fallback is allowed, when Redis cannot be reached.
func (f *BackendFactory) CreateBackend(ctx context.Context, redisPool *pool.Pool[*redis.Conn]) (Backend, error) {
	if f.cfg.Backend == "memory" {
		f.logger.Info("Using in-memory cache backend")
		return NewMemoryBackend(WithMemoryLogger(f.logger)), nil
	}

	err := fmt.Errorf("no cache connection pool configured")
	if redisPool != nil {
		err = redisPool.Do(ctx, func(ctx context.Context, conn *redis.Conn) error {
			return conn.Ping(ctx).Err()
		})
	}
	if err == nil {
		f.logger.Info("Using Redis cache backend")
		return NewRedisBackend(redisPool,
			WithRedisLogger(f.logger),
			WithGenerationPrefix(f.cfg.KeyPrefix+":gen")), nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for cache but unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, falling back to in-memory cache. "+
		"Invalidations will not reach other instances.",
		zap.Error(err),
	)
	return NewMemoryBackend(WithMemoryLogger(f.logger)), nil
}

// NewFromConfig builds the cache layer over a backend from CreateBackend
func NewFromConfig(cfg config.CacheConfig, backend Backend, opts ...Option) *Cache {
	base := []Option{WithPrefix(cfg.KeyPrefix), WithDefaultTTL(cfg.DefaultTTL)}
	return New(backend, append(base, opts...)...)
}
