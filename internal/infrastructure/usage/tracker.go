// Package usage tracks per-key request timestamps for rate limiting. Memory is
// bounded twice over: at most MaxKeys keys (least recently used evicted) and
// at most MaxEventsPerKey timestamps per key, with a periodic sweep dropping
// keys that have been idle for a whole window.
package usage

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Tracker records events per key. Safe for concurrent use.
type Tracker struct {
	keys          *lru.Cache[string, *series]
	maxEvents     int
	window        time.Duration
	limit         int
	sweepInterval time.Duration
	now           func() time.Time
	logger        *zap.Logger

	evictions atomic.Int64
	stop      chan struct{}
	done      chan struct{}
	closed    atomic.Bool
}

// Option configures a Tracker
type Option func(*Tracker)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New creates a tracker and starts its sweeper. Call Close to stop it.
func New(cfg config.UsageConfig, opts ...Option) (*Tracker, error) {
	if cfg.MaxKeys <= 0 {
		return nil, errors.New("usage: max keys must be positive")
	}
	if cfg.MaxEventsPerKey <= 0 {
		return nil, errors.New("usage: max events per key must be positive")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("usage: window must be positive")
	}
	keys, err := lru.New[string, *series](cfg.MaxKeys)
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		keys:          keys,
		maxEvents:     cfg.MaxEventsPerKey,
		window:        cfg.Window,
		limit:         cfg.Limit,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		logger:        zap.NewNop(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sweepInterval > 0 {
		go t.sweepLoop()
	} else {
		close(t.done)
	}
	return t, nil
}

// RecordEvent appends an event for key at the current time and marks key as
// most recently used.
func (t *Tracker) RecordEvent(key string) {
	at := t.now()
	for !t.series(key).add(at, t.maxEvents) {
		runtime.Gosched()
	}
}

// CountInWindow returns how many events for key fall within the last window.
// Windows longer than the tracker's own window may undercount because the
// sweeper and the per-key cap drop older events.
func (t *Tracker) CountInWindow(key string, window time.Duration) int {
	s, ok := t.keys.Peek(key)
	if !ok {
		return 0
	}
	return s.count(t.now().Add(-window))
}

// Allow records an event for key and reports whether the key is still within
// the configured limit. When it is not, retryAfter is the time until the
// oldest event in the window expires.
func (t *Tracker) Allow(key string) (allowed bool, remaining int, retryAfter time.Duration) {
	now := t.now()
	var n int
	var oldest time.Time
	for {
		var ok bool
		if n, oldest, ok = t.series(key).addAndCount(now, now.Add(-t.window), t.maxEvents); ok {
			break
		}
		runtime.Gosched()
	}
	if n <= t.limit {
		return true, t.limit - n, 0
	}
	retryAfter = oldest.Add(t.window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, 0, retryAfter
}

// Limit returns the configured per-window limit
func (t *Tracker) Limit() int { return t.limit }

// Len returns the number of tracked keys. It never exceeds MaxKeys.
func (t *Tracker) Len() int { return t.keys.Len() }

// Evictions returns how many keys were dropped to respect MaxKeys
func (t *Tracker) Evictions() int64 { return t.evictions.Load() }

// series returns the series for key, creating it if needed. The caller must
// retry when the series turns out to be retired by a concurrent sweep.
func (t *Tracker) series(key string) *series {
	if s, ok := t.keys.Get(key); ok {
		return s
	}
	fresh := &series{}
	prev, found, evicted := t.keys.PeekOrAdd(key, fresh)
	if evicted {
		t.evictions.Add(1)
	}
	if found {
		t.keys.Get(key)
		return prev
	}
	return fresh
}

// Sweep drops events older than the window and removes keys left empty
func (t *Tracker) Sweep() int {
	cutoff := t.now().Add(-t.window)
	removed := 0
	for _, key := range t.keys.Keys() {
		s, ok := t.keys.Peek(key)
		if !ok {
			continue
		}
		if s.prune(cutoff) {
			t.keys.Remove(key)
			removed++
		}
	}
	return removed
}

func (t *Tracker) sweepLoop() {
	defer close(t.done)
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				t.logger.Debug("usage sweep removed idle keys",
					zap.Int("removed", n),
					zap.Int("tracked", t.keys.Len()),
				)
			}
		case <-t.stop:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (t *Tracker) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		if t.sweepInterval > 0 {
			close(t.stop)
		}
		<-t.done
	}
	return nil
}

// series is a fixed-capacity ring of event times, oldest first
type series struct {
	mu    sync.Mutex
	ring  []time.Time
	start int
	n     int
	dead  bool
}

func (s *series) push(at time.Time, capacity int) {
	if s.ring == nil {
		s.ring = make([]time.Time, capacity)
	}
	if s.n < len(s.ring) {
		s.ring[(s.start+s.n)%len(s.ring)] = at
		s.n++
		return
	}
	s.ring[s.start] = at
	s.start = (s.start + 1) % len(s.ring)
}

func (s *series) add(at time.Time, capacity int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return false
	}
	s.push(at, capacity)
	return true
}

// addAndCount pushes at and returns the count after cutoff plus the oldest
// such event
func (s *series) addAndCount(at, cutoff time.Time, capacity int) (int, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return 0, time.Time{}, false
	}
	s.push(at, capacity)
	s.dropBefore(cutoff)
	return s.n, s.ring[s.start], true
}

func (s *series) count(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := 0
	for i := 0; i < s.n; i++ {
		if s.ring[(s.start+i)%len(s.ring)].After(cutoff) {
			c++
		}
	}
	return c
}

// dropBefore discards events at or before cutoff. Events are appended in
// clock order, so the expired ones are a prefix.
func (s *series) dropBefore(cutoff time.Time) {
	for s.n > 0 && !s.ring[s.start].After(cutoff) {
		s.start = (s.start + 1) % len(s.ring)
		s.n--
	}
}

// prune drops expired events and retires the series when nothing is left
func (s *series) prune(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n > 0 {
		s.dropBefore(cutoff)
	}
	if s.n == 0 {
		s.dead = true
	}
	return s.dead
}
