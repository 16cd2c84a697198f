package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// Lock is a held leader lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker elects a single runner per key across replicas
type Locker interface {
	// TryLock obtains key for ttl without waiting. It returns
	// ErrLockNotObtained when the key is held elsewhere.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// RedisLocker implements Locker on Redis with redislock
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker creates a locker. client is usually the *redis.Client shared
// with the cache connection pool.
func NewRedisLocker(client redislock.RedisClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

// TryLock implements Locker
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return redisLock{lock}, nil
}

type redisLock struct {
	*redislock.Lock
}

// Release ignores a lock that already expired
func (l redisLock) Release(ctx context.Context) error {
	if err := l.Lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return err
	}
	return nil
}

// LocalLocker is a process-local Locker for single-instance deployments
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocalLocker creates a LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

// TryLock implements Locker
func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, ErrLockNotObtained
	}
	until := now.Add(ttl)
	l.held[key] = until
	return &localLock{owner: l, key: key, until: until}, nil
}

type localLock struct {
	owner *LocalLocker
	key   string
	until time.Time
}

func (l *localLock) Release(context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if l.owner.held[l.key] == l.until {
		delete(l.owner.held, l.key)
	}
	return nil
}
