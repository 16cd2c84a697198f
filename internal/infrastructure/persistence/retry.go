package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Default retry policy for transient store failures
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 100 * time.Millisecond
)

// RetryPolicy bounds the local retries of transient failures
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
}

// DefaultRetryPolicy returns 3 retries with exponential backoff from 100ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, InitialInterval: DefaultInitialInterval}
}

type retrier struct {
	store  string
	policy RetryPolicy
	logger *zap.Logger
}

// run calls fn until it succeeds, returns a non-transient error, or the
// retry budget is spent. A pool that stayed exhausted counts as transient.
// Exhausted transient failures become StoreUnavailableError; a pool still
// exhausted after the last retry is returned as is; an expired deadline
// becomes TimedOutError.
func (r retrier) run(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn()
		if err == nil || isTransient(err) || errors.Is(err, shared.ErrPoolExhausted) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, r.policy.MaxRetries), ctx),
		func(err error, wait time.Duration) {
			r.logger.Warn("Transient store failure, retrying",
				zap.String("store", r.store),
				zap.String("op", op),
				zap.Int("attempt", attempts),
				zap.Duration("wait", wait),
				zap.Error(err))
		})
	if err == nil {
		return nil
	}

	var transient *errTransient
	if errors.As(err, &transient) {
		r.logger.Error("Store unavailable",
			zap.String("store", r.store),
			zap.String("op", op),
			zap.Int("attempts", attempts),
			zap.Error(transient.err))
		return &shared.StoreUnavailableError{Store: r.store, Attempts: attempts, Err: transient.err}
	}
	return contextError(op, err)
}

func contextError(op string, err error) error {
	var timedOut *shared.TimedOutError
	if errors.As(err, &timedOut) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &shared.TimedOutError{Op: op, Err: err}
	}
	return err
}
