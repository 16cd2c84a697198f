package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	id   int64
	dead atomic.Bool
}

type fakeFactory struct {
	next    atomic.Int64
	opened  atomic.Int64
	closed  atomic.Int64
	openErr error
}

func (f *fakeFactory) Open(ctx context.Context) (*fakeConn, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened.Add(1)
	return &fakeConn{id: f.next.Add(1)}, nil
}

func (f *fakeFactory) Ping(ctx context.Context, c *fakeConn) error {
	if c.dead.Load() {
		return errors.New("connection reset")
	}
	return nil
}

func (f *fakeFactory) Close(c *fakeConn) error {
	f.closed.Add(1)
	return nil
}

func newTestPool(t *testing.T, f *fakeFactory, min, max int, timeout time.Duration) *Pool[*fakeConn] {
	t.Helper()
	p, err := New[*fakeConn](context.Background(), f, Options{
		Name:           "test",
		MinSize:        min,
		MaxSize:        max,
		AcquireTimeout: timeout,
		Logger:         zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestNew_ValidatesBounds(t *testing.T) {
	_, err := New[*fakeConn](context.Background(), &fakeFactory{}, Options{Name: "x", MaxSize: 0})
	assert.Error(t, err)

	_, err = New[*fakeConn](context.Background(), &fakeFactory{}, Options{Name: "x", MinSize: 3, MaxSize: 2})
	assert.Error(t, err)
}

func TestNew_WarmsMinSize(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 2, 4, time.Second)

	assert.Equal(t, int64(2), f.opened.Load())
	assert.Equal(t, 2, p.Stats().Idle)
}

func TestAcquire_ReusesIdleConnection(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 0, 2, time.Second)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	first := h.Conn().id
	h.Release()
	h.Release() // second release is a no-op

	h, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, h.Conn().id)
	h.Release()

	assert.Equal(t, int64(1), f.opened.Load())
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestAcquire_ExhaustedAfterTimeout(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 0, 1, 20*time.Millisecond)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	start := time.Now()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, shared.ErrPoolExhausted)
	assert.True(t, shared.IsRetryable(err))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, uint64(1), p.Stats().Exhausted)
}

func TestAcquire_DeadlineReturnsTimedOut(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 0, 1, time.Minute)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)

	var timedOut *shared.TimedOutError
	assert.ErrorAs(t, err, &timedOut)
	assert.Equal(t, 1, p.Stats().InUse, "failed acquire must not hold a slot")
}

func TestAcquire_ReplacesDeadConnection(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 1, 1, time.Second)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	dead := h.Conn()
	dead.dead.Store(true)
	h.Release()

	h, err = p.Acquire(context.Background())
	require.NoError(t, err)
	defer h.Release()

	assert.NotEqual(t, dead.id, h.Conn().id)
	assert.Equal(t, int64(1), f.closed.Load())
	assert.Equal(t, uint64(1), p.Stats().Replaced)
}

func TestAcquire_OpenFailureFreesSlot(t *testing.T) {
	f := &fakeFactory{openErr: errors.New("refused")}
	p := newTestPool(t, f, 0, 1, time.Second)

	_, err := p.Acquire(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestDo_ReleasesOnErrorAndPanic(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 0, 1, 50*time.Millisecond)
	ctx := context.Background()

	boom := errors.New("boom")
	err := p.Do(ctx, func(context.Context, *fakeConn) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.Stats().InUse)

	assert.Panics(t, func() {
		_ = p.Do(ctx, func(context.Context, *fakeConn) error { panic("kaboom") })
	})
	assert.Equal(t, 0, p.Stats().InUse)
	assert.Equal(t, int64(1), f.closed.Load(), "panicking connection is discarded")

	// the single slot is still usable
	assert.NoError(t, p.Do(ctx, func(context.Context, *fakeConn) error { return nil }))
}

func TestPool_NeverExceedsMaxSize(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 0, 3, time.Second)

	var (
		inUse, peak atomic.Int64
		wg          sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context, *fakeConn) error {
				n := inUse.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inUse.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.LessOrEqual(t, f.opened.Load(), int64(3))
}

func TestClose(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 2, 2, time.Second)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Close()
	assert.Equal(t, int64(1), f.closed.Load())

	h.Release()
	assert.Equal(t, int64(2), f.closed.Load(), "connection released after close is closed")

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}
