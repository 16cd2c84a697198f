package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ledgerlink/backend/internal/infrastructure/pool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultGenerationPrefix = "gen"

// RedisBackend stores entries in Redis through the cache connection pool.
// Tag generations are plain counters bumped with INCR, so one write
// invalidates any number of cached entries.
type RedisBackend struct {
	pool      *pool.Pool[*redis.Conn]
	genPrefix string
	logger    *zap.Logger
}

// RedisBackendOption configures a RedisBackend
type RedisBackendOption func(*RedisBackend)

// WithRedisLogger sets the logger
func WithRedisLogger(logger *zap.Logger) RedisBackendOption {
	return func(b *RedisBackend) {
		b.logger = logger
	}
}

// WithGenerationPrefix sets the key prefix of the generation counters
func WithGenerationPrefix(prefix string) RedisBackendOption {
	return func(b *RedisBackend) {
		if prefix != "" {
			b.genPrefix = prefix
		}
	}
}

// NewRedisBackend creates a backend over p. The caller owns the pool.
func NewRedisBackend(p *pool.Pool[*redis.Conn], opts ...RedisBackendOption) *RedisBackend {
	b := &RedisBackend{
		pool:      p,
		genPrefix: defaultGenerationPrefix,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBackend) genKey(t Tag) string {
	return b.genPrefix + ":" + string(t)
}

// Get implements Backend
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		data []byte
		hit  bool
	)
	err := b.pool.Do(ctx, func(ctx context.Context, conn *redis.Conn) error {
		v, err := conn.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get %s from cache: %w", key, err)
		}
		data, hit = v, true
		return nil
	})
	return data, hit, err
}

// Set implements Backend
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.pool.Do(ctx, func(ctx context.Context, conn *redis.Conn) error {
		if err := conn.Set(ctx, key, value, ttl).Err(); err != nil {
			return fmt.Errorf("failed to set %s in cache: %w", key, err)
		}
		return nil
	})
}

// Generations implements Backend with a single MGET
func (b *RedisBackend) Generations(ctx context.Context, tags []Tag) ([]uint64, error) {
	if len(tags) == 0 {
		return []uint64{}, nil
	}
	keys := make([]string, len(tags))
	for i, t := range tags {
		keys[i] = b.genKey(t)
	}
	gens := make([]uint64, len(tags))
	err := b.pool.Do(ctx, func(ctx context.Context, conn *redis.Conn) error {
		values, err := conn.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("failed to read tag generations: %w", err)
		}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			g, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				b.logger.Warn("Ignoring malformed tag generation",
					zap.String("tag", string(tags[i])),
					zap.String("value", s))
				continue
			}
			gens[i] = g
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return gens, nil
}

// Bump implements Backend. All tags are incremented in one MULTI/EXEC.
func (b *RedisBackend) Bump(ctx context.Context, tags []Tag) error {
	if len(tags) == 0 {
		return nil
	}
	return b.pool.Do(ctx, func(ctx context.Context, conn *redis.Conn) error {
		_, err := conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, t := range tags {
				pipe.Incr(ctx, b.genKey(t))
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to bump tag generations: %w", err)
		}
		return nil
	})
}

// Close is a no-op; the pool belongs to the caller
func (b *RedisBackend) Close() error { return nil }

var _ Backend = (*RedisBackend)(nil)
