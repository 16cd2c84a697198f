package cache

import (
	"context"
	"time"
)

// Backend is the key-value store behind the cache layer. Generations are
// counters that start at zero and only grow.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Generations returns the current generation of each tag, in order
	Generations(ctx context.Context, tags []Tag) ([]uint64, error)
	// Bump increments the generation of each tag
	Bump(ctx context.Context, tags []Tag) error
	Close() error
}
