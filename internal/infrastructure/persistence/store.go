package persistence

import (
	"context"
	"errors"

	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store names used in errors and logs
const (
	StoreStructured = "structured"
	StoreDocument   = "document"
)

type storeConfig struct {
	logger  *zap.Logger
	policy  RetryPolicy
	content document.ContentStore
	// called after a read flags a document corrupt
	onQuarantine func(ctx context.Context, doc *document.Document)
}

// StoreOption configures an accessor
type StoreOption func(*storeConfig)

// WithLogger sets the accessor logger
func WithLogger(logger *zap.Logger) StoreOption {
	return func(c *storeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryPolicy overrides the transient retry policy
func WithRetryPolicy(policy RetryPolicy) StoreOption {
	return func(c *storeConfig) {
		c.policy = policy
	}
}

// WithContentStore enables checksum verification on document reads.
// It has no effect on the structured store.
func WithContentStore(content document.ContentStore) StoreOption {
	return func(c *storeConfig) {
		c.content = content
	}
}

// WithQuarantineHook registers fn to run after a checksum mismatch flags a
// document corrupt. It has no effect on the structured store.
func WithQuarantineHook(fn func(ctx context.Context, doc *document.Document)) StoreOption {
	return func(c *storeConfig) {
		c.onQuarantine = fn
	}
}

func newStoreConfig(opts []StoreOption) storeConfig {
	cfg := storeConfig{logger: zap.NewNop(), policy: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// notFound maps gorm's not-found error to the domain sentinel
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound
	}
	return err
}
