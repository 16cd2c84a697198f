package usage

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(t *testing.T, cfg config.UsageConfig) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	tr, err := New(cfg, WithClock(clock.Now), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, clock
}

func TestTracker_CountInWindow(t *testing.T) {
	tr, clock := newTestTracker(t, config.UsageConfig{MaxKeys: 10, MaxEventsPerKey: 100, Window: time.Minute, Limit: 5})

	tr.RecordEvent("a")
	clock.Advance(30 * time.Second)
	tr.RecordEvent("a")
	tr.RecordEvent("a")

	assert.Equal(t, 3, tr.CountInWindow("a", time.Minute))
	assert.Equal(t, 2, tr.CountInWindow("a", 10*time.Second))
	assert.Zero(t, tr.CountInWindow("unknown", time.Minute))

	clock.Advance(31 * time.Second)
	assert.Equal(t, 2, tr.CountInWindow("a", time.Minute))
}

func TestTracker_KeyBoundEvictsLeastRecentlyUsed(t *testing.T) {
	tr, _ := newTestTracker(t, config.UsageConfig{MaxKeys: 3, MaxEventsPerKey: 10, Window: time.Minute, Limit: 5})

	tr.RecordEvent("a")
	tr.RecordEvent("b")
	tr.RecordEvent("c")
	tr.RecordEvent("a")
	tr.RecordEvent("d")

	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, int64(1), tr.Evictions())
	assert.Zero(t, tr.CountInWindow("b", time.Minute), "b was least recently used")
	assert.Equal(t, 2, tr.CountInWindow("a", time.Minute))
	assert.Equal(t, 1, tr.CountInWindow("d", time.Minute))
}

func TestTracker_KeyBoundHoldsUnderChurn(t *testing.T) {
	tr, _ := newTestTracker(t, config.UsageConfig{MaxKeys: 50, MaxEventsPerKey: 4, Window: time.Minute, Limit: 4})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				tr.RecordEvent(fmt.Sprintf("client-%d-%d", w, i))
				assert.LessOrEqual(t, tr.Len(), 50)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 50, tr.Len())
	assert.Equal(t, int64(8*500-50), tr.Evictions())
}

func TestTracker_EventsPerKeyAreCapped(t *testing.T) {
	tr, _ := newTestTracker(t, config.UsageConfig{MaxKeys: 10, MaxEventsPerKey: 3, Window: time.Minute, Limit: 3})

	for i := 0; i < 10; i++ {
		tr.RecordEvent("a")
	}
	assert.Equal(t, 3, tr.CountInWindow("a", time.Minute))
	s, ok := tr.keys.Peek("a")
	require.True(t, ok)
	assert.Len(t, s.ring, 3)
}

func TestTracker_SweepRemovesIdleKeys(t *testing.T) {
	tr, clock := newTestTracker(t, config.UsageConfig{MaxKeys: 10, MaxEventsPerKey: 10, Window: time.Minute, Limit: 5})

	tr.RecordEvent("idle")
	clock.Advance(45 * time.Second)
	tr.RecordEvent("busy")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, tr.Sweep())
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, 1, tr.CountInWindow("busy", time.Minute))

	tr.RecordEvent("idle")
	assert.Equal(t, 1, tr.CountInWindow("idle", time.Minute))
}

func TestTracker_Allow(t *testing.T) {
	tr, clock := newTestTracker(t, config.UsageConfig{MaxKeys: 10, MaxEventsPerKey: 10, Window: time.Minute, Limit: 2})

	ok, remaining, _ := tr.Allow("k")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	clock.Advance(20 * time.Second)
	ok, remaining, _ = tr.Allow("k")
	assert.True(t, ok)
	assert.Zero(t, remaining)

	ok, _, retryAfter := tr.Allow("k")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, retryAfter)

	clock.Advance(41 * time.Second)
	ok, _, _ = tr.Allow("k")
	assert.False(t, ok, "rejected attempts still count against the window")

	clock.Advance(time.Minute)
	ok, _, _ = tr.Allow("k")
	assert.True(t, ok)
}

func TestTracker_SweeperStopsOnClose(t *testing.T) {
	tr, err := New(config.UsageConfig{MaxKeys: 1, MaxEventsPerKey: 1, Window: time.Millisecond, SweepInterval: time.Millisecond})
	require.NoError(t, err)
	tr.RecordEvent("a")
	assert.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(config.UsageConfig{MaxEventsPerKey: 1, Window: time.Second})
	assert.Error(t, err)
	_, err = New(config.UsageConfig{MaxKeys: 1, Window: time.Second})
	assert.Error(t, err)
	_, err = New(config.UsageConfig{MaxKeys: 1, MaxEventsPerKey: 1})
	assert.Error(t, err)
}
