package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultCleanupInterval = 30 * time.Second

// MemoryBackend keeps entries in process memory. It is used when no Redis is
// configured and in tests; generations are not shared across instances.
type MemoryBackend struct {
	entries     sync.Map // map[string]*memoryEntry
	mu          sync.Mutex
	generations map[Tag]uint64
	logger      *zap.Logger
	interval    time.Duration
	stopCh      chan struct{}
	stopped     int32
	now         func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memoryEntry) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryBackendOption configures a MemoryBackend
type MemoryBackendOption func(*MemoryBackend)

// WithMemoryLogger sets the logger
func WithMemoryLogger(logger *zap.Logger) MemoryBackendOption {
	return func(b *MemoryBackend) {
		b.logger = logger
	}
}

// WithCleanupInterval sets how often expired entries are dropped
func WithCleanupInterval(d time.Duration) MemoryBackendOption {
	return func(b *MemoryBackend) {
		if d > 0 {
			b.interval = d
		}
	}
}

// NewMemoryBackend creates the backend and starts its cleanup goroutine
func NewMemoryBackend(opts ...MemoryBackendOption) *MemoryBackend {
	b := &MemoryBackend{
		generations: make(map[Tag]uint64),
		logger:      zap.NewNop(),
		interval:    defaultCleanupInterval,
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.cleanupExpired()
	return b
}

// Get implements Backend
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := v.(*memoryEntry)
	if entry.isExpired(b.now()) {
		b.entries.CompareAndDelete(key, v)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set implements Backend
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.entries.Store(key, &memoryEntry{value: value, expiresAt: b.now().Add(ttl)})
	return nil
}

// Generations implements Backend
func (b *MemoryBackend) Generations(_ context.Context, tags []Tag) ([]uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	gens := make([]uint64, len(tags))
	for i, t := range tags {
		gens[i] = b.generations[t]
	}
	return gens, nil
}

// Bump implements Backend
func (b *MemoryBackend) Bump(_ context.Context, tags []Tag) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range tags {
		b.generations[t]++
	}
	return nil
}

// Len returns the number of stored entries, expired ones included
func (b *MemoryBackend) Len() int {
	n := 0
	b.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close stops the cleanup goroutine
func (b *MemoryBackend) Close() error {
	if atomic.CompareAndSwapInt32(&b.stopped, 0, 1) {
		close(b.stopCh)
	}
	return nil
}

func (b *MemoryBackend) cleanupExpired() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error("Panic in cache cleanup", zap.Any("panic", r))
					}
				}()
				b.doCleanup()
			}()
		}
	}
}

func (b *MemoryBackend) doCleanup() {
	now := b.now()
	removed := 0
	b.entries.Range(func(key, value any) bool {
		if value.(*memoryEntry).isExpired(now) {
			b.entries.Delete(key)
			removed++
		}
		return true
	})
	if removed > 0 {
		b.logger.Debug("Cleaned up expired cache entries", zap.Int("removed", removed))
	}
}

var _ Backend = (*MemoryBackend)(nil)
