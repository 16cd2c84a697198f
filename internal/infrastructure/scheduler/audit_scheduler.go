package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditFunc runs one orphan audit and returns the number of new findings
type AuditFunc func(ctx context.Context) (int, error)

// AuditSchedulerConfig holds configuration for the audit scheduler
type AuditSchedulerConfig struct {
	Enabled bool
	// Interval between audit runs. Required when enabled.
	Interval time.Duration
	// LockKey names the leader lock shared by all replicas
	LockKey string
	// LockTTL bounds a single run; the run is cancelled when the lock expires.
	LockTTL time.Duration
}

// Validate checks the configuration
func (c AuditSchedulerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("%w: lock ttl must be positive", ErrInvalidConfig)
	}
	if c.LockKey == "" {
		return fmt.Errorf("%w: lock key is required", ErrInvalidConfig)
	}
	return nil
}

// AuditScheduler runs the orphan audit every interval on whichever replica
// wins the leader lock.
type AuditScheduler struct {
	audit  AuditFunc
	locker Locker
	logger *zap.Logger
	config AuditSchedulerConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewAuditScheduler creates a new audit scheduler
func NewAuditScheduler(audit AuditFunc, locker Locker, logger *zap.Logger, config AuditSchedulerConfig) (*AuditScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditScheduler{
		audit:  audit,
		locker: locker,
		logger: logger,
		config: config,
	}, nil
}

// Start starts the periodic audit loop
func (s *AuditScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Orphan audit scheduler is disabled")
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Orphan audit scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("lock_ttl", s.config.LockTTL),
	)
	return nil
}

// Stop cancels the loop and waits for a running audit to finish
func (s *AuditScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Orphan audit scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Orphan audit scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *AuditScheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrLockNotObtained) {
				s.logger.Error("Orphan audit failed", zap.Error(err))
			}
		}
	}
}

// RunOnce takes the leader lock and runs one audit. It returns
// ErrLockNotObtained when another replica is auditing.
func (s *AuditScheduler) RunOnce(ctx context.Context) (int, error) {
	lock, err := s.locker.TryLock(ctx, s.config.LockKey, s.config.LockTTL)
	if err != nil {
		if errors.Is(err, ErrLockNotObtained) {
			s.logger.Debug("Orphan audit skipped, lock held elsewhere")
		}
		return 0, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release audit lock", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.config.LockTTL)
	defer cancel()

	start := time.Now()
	findings, err := s.audit(runCtx)
	duration := time.Since(start)
	if err != nil {
		return findings, err
	}
	s.logger.Info("Orphan audit completed",
		zap.Duration("duration", duration),
		zap.Int("new_findings", findings),
	)
	return findings, nil
}

// TriggerImmediate runs an audit in the background
func (s *AuditScheduler) TriggerImmediate(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrLockNotObtained) {
			s.logger.Error("Orphan audit failed", zap.Error(err))
		}
	}()
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *AuditScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
