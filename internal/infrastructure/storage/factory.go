package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewContentStore builds the configured content store. The "none" backend
// returns a nil store, which disables existence and checksum verification.
func NewContentStore(ctx context.Context, cfg *config.StorageConfig, logger *zap.Logger) (document.ContentStore, io.Closer, error) {
	switch cfg.Backend {
	case "s3":
		s, err := NewS3ContentStore(ctx, cfg, WithS3Logger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	case "gcs":
		s, err := NewGCSContentStore(ctx, cfg, WithGCSLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "none", "":
		return nil, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
