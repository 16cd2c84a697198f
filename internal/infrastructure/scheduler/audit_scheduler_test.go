package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() AuditSchedulerConfig {
	return AuditSchedulerConfig{
		Enabled:  true,
		Interval: 10 * time.Millisecond,
		LockKey:  "ledgerlink:audit",
		LockTTL:  time.Second,
	}
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client), mr
}

func TestAuditSchedulerConfig_Validate(t *testing.T) {
	assert.NoError(t, AuditSchedulerConfig{}.Validate())

	cfg := testConfig()
	cfg.Interval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = testConfig()
	cfg.LockKey = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	_, err := NewAuditScheduler(nil, nil, nil, AuditSchedulerConfig{Enabled: true})
	assert.Error(t, err)
}

func TestAuditScheduler_RunsPeriodically(t *testing.T) {
	var runs atomic.Int32
	audit := func(context.Context) (int, error) {
		runs.Add(1)
		return 0, nil
	}
	s, err := NewAuditScheduler(audit, nil, zaptest.NewLogger(t), testConfig())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
}

func TestAuditScheduler_Disabled(t *testing.T) {
	s, err := NewAuditScheduler(func(context.Context) (int, error) { return 0, nil }, nil, nil, AuditSchedulerConfig{})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.TriggerImmediate(context.Background()), ErrSchedulerNotRunning)
}

func TestAuditScheduler_OnlyOneReplicaAudits(t *testing.T) {
	locker, _ := newRedisLocker(t)
	release := make(chan struct{})
	var runs atomic.Int32
	audit := func(ctx context.Context) (int, error) {
		runs.Add(1)
		<-release
		return 1, nil
	}
	a, err := NewAuditScheduler(audit, locker, zaptest.NewLogger(t), testConfig())
	require.NoError(t, err)
	b, err := NewAuditScheduler(audit, locker, zaptest.NewLogger(t), testConfig())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := a.RunOnce(context.Background())
		done <- err
	}()
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)

	_, err = b.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrLockNotObtained)

	close(release)
	require.NoError(t, <-done)

	n, err := b.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(2), runs.Load())
}

func TestAuditScheduler_RunIsBoundedByLockTTL(t *testing.T) {
	cfg := testConfig()
	cfg.LockTTL = 20 * time.Millisecond
	audit := func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	s, err := NewAuditScheduler(audit, NewLocalLocker(), nil, cfg)
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRedisLocker_ExpiredLockCanBeRetaken(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	lock, err := locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	_, err = locker.TryLock(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotObtained)

	mr.FastForward(2 * time.Second)
	again, err := locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)

	assert.NoError(t, lock.Release(ctx), "releasing an expired lock is not an error")
	require.NoError(t, again.Release(ctx))
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = l.TryLock(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotObtained)

	require.NoError(t, first.Release(ctx))
	second, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	third, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
	_, err = l.TryLock(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotObtained, "a stale release must not free the new holder")
	require.NoError(t, third.Release(ctx))
}
