// Package pool provides bounded connection pools for the structured store,
// the document store and the cache.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Acquire after Close
var ErrPoolClosed = errors.New("pool is closed")

// Factory opens, checks and closes the connections held by a Pool.
type Factory[T any] interface {
	Open(ctx context.Context) (T, error)
	Ping(ctx context.Context, conn T) error
	Close(conn T) error
}

// Options configures a Pool
type Options struct {
	Name           string
	MinSize        int
	MaxSize        int
	AcquireTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *telemetry.CoordinatorMetrics
}

// Pool is a fixed-capacity pool. At most MaxSize connections exist at any
// time; callers beyond that wait up to AcquireTimeout and then get
// shared.ErrPoolExhausted.
type Pool[T any] struct {
	name           string
	factory        Factory[T]
	slots          chan struct{}
	acquireTimeout time.Duration
	logger         *zap.Logger
	metrics        *telemetry.CoordinatorMetrics

	mu     sync.Mutex
	idle   []T
	closed bool

	acquired  atomic.Uint64
	exhausted atomic.Uint64
	replaced  atomic.Uint64
}

// New creates a pool and opens MinSize connections up front.
func New[T any](ctx context.Context, factory Factory[T], opts Options) (*Pool[T], error) {
	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("pool %s: max size must be positive", opts.Name)
	}
	if opts.MinSize < 0 || opts.MinSize > opts.MaxSize {
		return nil, fmt.Errorf("pool %s: min size %d outside [0, %d]", opts.Name, opts.MinSize, opts.MaxSize)
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	p := &Pool[T]{
		name:           opts.Name,
		factory:        factory,
		slots:          make(chan struct{}, opts.MaxSize),
		acquireTimeout: opts.AcquireTimeout,
		logger:         opts.Logger.With(zap.String("pool", opts.Name)),
		metrics:        opts.Metrics,
		idle:           make([]T, 0, opts.MaxSize),
	}

	for i := 0; i < opts.MinSize; i++ {
		conn, err := factory.Open(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("pool %s: warm up: %w", opts.Name, err)
		}
		p.idle = append(p.idle, conn)
	}
	return p, nil
}

// Name returns the pool name
func (p *Pool[T]) Name() string { return p.name }

// Acquire borrows a live connection. The handle must be released exactly once;
// Do is the safer form.
func (p *Pool[T]) Acquire(ctx context.Context) (*Handle[T], error) {
	start := time.Now()
	if err := p.waitForSlot(ctx); err != nil {
		p.metrics.RecordPoolAcquire(ctx, p.name, time.Since(start), errors.Is(err, shared.ErrPoolExhausted))
		return nil, err
	}
	p.metrics.RecordPoolAcquire(ctx, p.name, time.Since(start), false)

	conn, err := p.take(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.acquired.Add(1)
	return &Handle[T]{pool: p, conn: conn}, nil
}

func (p *Pool[T]) waitForSlot(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return contextError("acquire "+p.name, ctx.Err())
	case <-timer.C:
		p.exhausted.Add(1)
		p.logger.Warn("Connection pool exhausted", zap.Duration("waited", p.acquireTimeout))
		return fmt.Errorf("%s pool: %w", p.name, shared.ErrPoolExhausted)
	}
}

// take returns an idle connection that answers a ping, replacing dead ones,
// or opens a new one. The caller holds a slot.
func (p *Pool[T]) take(ctx context.Context) (T, error) {
	var zero T
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, ErrPoolClosed
		}
		n := len(p.idle)
		if n == 0 {
			p.mu.Unlock()
			break
		}
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		if err := p.factory.Ping(ctx, conn); err != nil {
			if ctx.Err() != nil {
				p.put(conn)
				return zero, contextError("ping "+p.name, ctx.Err())
			}
			p.replaced.Add(1)
			p.logger.Debug("Discarding dead connection", zap.Error(err))
			_ = p.factory.Close(conn)
			continue
		}
		return conn, nil
	}

	conn, err := p.factory.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return zero, contextError("open "+p.name, ctx.Err())
		}
		return zero, fmt.Errorf("%s pool: open connection: %w", p.name, err)
	}
	return conn, nil
}

func (p *Pool[T]) put(conn T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = p.factory.Close(conn)
		return
	}
	p.idle = append(p.idle, conn)
}

// Do acquires a connection, runs fn with it and always gives it back. If fn
// panics the connection is discarded and the panic continues.
func (p *Pool[T]) Do(ctx context.Context, fn func(ctx context.Context, conn T) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			h.Discard()
			panic(r)
		}
	}()

	err = fn(ctx, h.Conn())
	h.Release()
	return err
}

// Close closes idle connections and refuses further acquires. Borrowed
// connections are closed when they are released.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, conn := range idle {
		_ = p.factory.Close(conn)
	}
}

// Stats is a point-in-time view of a pool
type Stats struct {
	Name      string `json:"name"`
	MaxSize   int    `json:"max_size"`
	InUse     int    `json:"in_use"`
	Idle      int    `json:"idle"`
	Acquired  uint64 `json:"acquired"`
	Exhausted uint64 `json:"exhausted"`
	Replaced  uint64 `json:"replaced"`
}

// Stats returns current pool counters
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	return Stats{
		Name:      p.name,
		MaxSize:   cap(p.slots),
		InUse:     len(p.slots),
		Idle:      idle,
		Acquired:  p.acquired.Load(),
		Exhausted: p.exhausted.Load(),
		Replaced:  p.replaced.Load(),
	}
}

// Handle is a borrowed connection
type Handle[T any] struct {
	pool *Pool[T]
	conn T
	once sync.Once
}

// Conn returns the borrowed connection
func (h *Handle[T]) Conn() T { return h.conn }

// Release returns the connection to the pool. Later calls are no-ops.
func (h *Handle[T]) Release() {
	h.once.Do(func() {
		h.pool.put(h.conn)
		<-h.pool.slots
	})
}

// Discard closes the connection instead of returning it, freeing its slot.
func (h *Handle[T]) Discard() {
	h.once.Do(func() {
		_ = h.pool.factory.Close(h.conn)
		h.pool.replaced.Add(1)
		<-h.pool.slots
	})
}

func contextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &shared.TimedOutError{Op: op, Err: err}
	}
	return err
}
