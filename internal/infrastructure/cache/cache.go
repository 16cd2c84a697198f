// Package cache is the tag-invalidated read cache in front of both stores.
package cache

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL bounds staleness if an invalidation is ever lost
	DefaultTTL    = 45 * time.Minute
	defaultPrefix = "ledgerlink"
	numStripes    = 64
)

// Cache stores JSON-encoded values under generation-tagged keys. Reads are
// lock-free; Set and InvalidateTags on the same company are serialized.
type Cache struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	group   singleflight.Group
	stripes [numStripes]sync.Mutex
	metrics *telemetry.CoordinatorMetrics
	logger  *zap.Logger
}

// Option configures a Cache
type Option func(*Cache)

// WithPrefix sets the namespace prepended to every physical key
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithDefaultTTL sets the TTL used when Set is given none
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics records hits and misses
func WithMetrics(m *telemetry.CoordinatorMetrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates a cache over backend
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		prefix:  defaultPrefix,
		ttl:     DefaultTTL,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) pin(ctx context.Context, k *Key) error {
	if k.pinned() {
		return nil
	}
	gens, err := c.backend.Generations(ctx, k.tags)
	if err != nil {
		return err
	}
	k.gens = gens
	return nil
}

// Get decodes the value stored under k into dest and reports whether it was found.
func (c *Cache) Get(ctx context.Context, k *Key, dest any) (bool, error) {
	if err := c.pin(ctx, k); err != nil {
		return false, err
	}
	data, ok, err := c.backend.Get(ctx, k.physical(c.prefix))
	if err != nil {
		return false, err
	}
	c.metrics.RecordCacheLookup(ctx, ok)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("Dropping undecodable cache entry", zap.String("key", k.name), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// Set stores value under k. If one of k's tags was invalidated after k was
// pinned the value is dropped, since it may have been loaded before the write.
func (c *Cache) Set(ctx context.Context, k *Key, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.pin(ctx, k); err != nil {
		return err
	}

	unlock := c.lock(k.tags)
	defer unlock()

	current, err := c.backend.Generations(ctx, k.tags)
	if err != nil {
		return err
	}
	if !slices.Equal(current, k.gens) {
		c.logger.Debug("Skipping cache set for invalidated snapshot", zap.String("key", k.name))
		return nil
	}
	return c.backend.Set(ctx, k.physical(c.prefix), data, ttl)
}

// InvalidateTags bumps the generation of every tag. Entries tagged with any of
// them become unreachable immediately, regardless of their TTL.
func (c *Cache) InvalidateTags(ctx context.Context, tags ...Tag) error {
	if len(tags) == 0 {
		return nil
	}
	unlock := c.lock(tags)
	defer unlock()
	if err := c.backend.Bump(ctx, tags); err != nil {
		return err
	}
	c.logger.Debug("Invalidated cache tags", zap.Int("tags", len(tags)), zap.String("first", string(tags[0])))
	return nil
}

// lock takes the stripes of the tags' company scopes in index order
func (c *Cache) lock(tags []Tag) func() {
	idx := make([]int, 0, len(tags))
	for _, t := range tags {
		i := int(xxhash.Sum64String(t.scope()) % numStripes)
		if !slices.Contains(idx, i) {
			idx = append(idx, i)
		}
	}
	slices.Sort(idx)
	for _, i := range idx {
		c.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			c.stripes[idx[j]].Unlock()
		}
	}
}

// Close closes the backend
func (c *Cache) Close() error {
	return c.backend.Close()
}

// GetOrLoad returns the cached value for k or calls load, caching its
// result. Concurrent misses on the same key share one load. Backend failures
// degrade to loading from the store.
func GetOrLoad[T any](ctx context.Context, c *Cache, k *Key, load func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	hit, err := c.Get(ctx, k, &cached)
	if err != nil {
		c.logger.Warn("Cache read failed, loading from store", zap.String("key", k.name), zap.Error(err))
	} else if hit {
		return cached, nil
	}

	flightKey := k.name
	if k.pinned() {
		flightKey = k.physical(c.prefix)
	}
	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		val, err := load(ctx)
		if err != nil {
			return val, err
		}
		if err := c.Set(ctx, k, val, 0); err != nil {
			c.logger.Warn("Cache write failed", zap.String("key", k.name), zap.Error(err))
		}
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
