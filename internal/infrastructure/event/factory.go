package event

import (
	"context"
	"fmt"

	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewPublisher builds the publisher selected by cfg.Backend
func NewPublisher(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Backend {
	case "pubsub":
		p, err := NewPubSubPublisher(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := p.EnsureTopic(ctx); err != nil {
			_ = p.Close()
			return nil, err
		}
		return p, nil
	case "memory", "":
		return NewMemoryBus(logger), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}
