package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerlink/backend/internal/infrastructure/pool"
	"github.com/redis/go-redis/v9"
)

// MemorySeenSet remembers identifiers for a TTL. The orphan audit uses it to
// publish each finding once; it is only correct for a single instance.
type MemorySeenSet struct {
	mu        sync.Mutex
	expiry    map[string]time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemorySeenSet creates the set and starts its cleanup goroutine
func NewMemorySeenSet() *MemorySeenSet {
	s := &MemorySeenSet{
		expiry:   make(map[string]time.Time),
		stopChan: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.cleanupLoop()
	return s
}

// MarkSeen records id and reports whether it was new
func (s *MemorySeenSet) MarkSeen(_ context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if exp, ok := s.expiry[id]; ok && now.Before(exp) {
		return false, nil
	}
	s.expiry[id] = now.Add(ttl)
	return true, nil
}

// Forget drops id so the next MarkSeen reports it as new
func (s *MemorySeenSet) Forget(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expiry, id)
	return nil
}

// Size returns the number of remembered ids
func (s *MemorySeenSet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expiry)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *MemorySeenSet) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *MemorySeenSet) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemorySeenSet) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, exp := range s.expiry {
		if now.After(exp) {
			delete(s.expiry, id)
		}
	}
}

// RedisSeenSet is the shared version of MemorySeenSet backed by SET NX
type RedisSeenSet struct {
	pool      *pool.Pool[*redis.Conn]
	keyPrefix string
}

// NewRedisSeenSet creates a set whose keys live under keyPrefix
func NewRedisSeenSet(p *pool.Pool[*redis.Conn], keyPrefix string) *RedisSeenSet {
	if keyPrefix == "" {
		keyPrefix = "ledgerlink:seen:"
	}
	return &RedisSeenSet{pool: p, keyPrefix: keyPrefix}
}

// MarkSeen records id and reports whether it was new
func (s *RedisSeenSet) MarkSeen(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	var isNew bool
	err := s.pool.Do(ctx, func(ctx context.Context, conn *redis.Conn) error {
		ok, err := conn.SetNX(ctx, s.keyPrefix+id, "1", ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to mark %s as seen: %w", id, err)
		}
		isNew = ok
		return nil
	})
	return isNew, err
}

// Forget drops id so the next MarkSeen reports it as new
func (s *RedisSeenSet) Forget(ctx context.Context, id string) error {
	return s.pool.Do(ctx, func(ctx context.Context, conn *redis.Conn) error {
		return conn.Del(ctx, s.keyPrefix+id).Err()
	})
}
