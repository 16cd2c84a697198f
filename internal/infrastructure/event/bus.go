// Package event publishes the domain events raised by the posting pipeline and
// the orphan audit: linked documents, review requests and reconciliation markers.
package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/ledgerlink/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Publisher is an EventPublisher that owns a connection
type Publisher interface {
	shared.EventPublisher
	Close() error
}

// MemoryBus delivers events to in-process handlers synchronously
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]shared.EventHandler
	wildcard []shared.EventHandler
	logger   *zap.Logger
}

// NewMemoryBus creates an empty bus
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		handlers: make(map[string][]shared.EventHandler),
		logger:   logger,
	}
}

// Subscribe registers handler for eventTypes, or for handler.EventTypes() when
// none are given. A handler with no types receives every event.
func (b *MemoryBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(eventTypes) == 0 {
		b.wildcard = append(b.wildcard, handler)
		return
	}
	for _, t := range eventTypes {
		b.handlers[t] = append(b.handlers[t], handler)
	}
}

// Unsubscribe removes handler everywhere it was registered
func (b *MemoryBus) Unsubscribe(handler shared.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = without(b.wildcard, handler)
	for t, hs := range b.handlers {
		if hs = without(hs, handler); len(hs) == 0 {
			delete(b.handlers, t)
		} else {
			b.handlers[t] = hs
		}
	}
}

func (b *MemoryBus) handlersFor(eventType string) []shared.EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]shared.EventHandler, 0, len(b.handlers[eventType])+len(b.wildcard))
	out = append(out, b.handlers[eventType]...)
	return append(out, b.wildcard...)
}

// Publish hands every event to its handlers. Handler failures are logged and
// do not stop delivery to the remaining handlers.
func (b *MemoryBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, ev := range events {
		for _, h := range b.handlersFor(ev.EventType()) {
			if err := b.dispatch(ctx, h, ev); err != nil {
				b.logger.Error("event handler failed",
					zap.String("event_type", ev.EventType()),
					zap.String("event_id", ev.EventID().String()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// Close is a no-op
func (b *MemoryBus) Close() error { return nil }

func (b *MemoryBus) dispatch(ctx context.Context, h shared.EventHandler, ev shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}

func without(hs []shared.EventHandler, target shared.EventHandler) []shared.EventHandler {
	out := hs[:0:0]
	for _, h := range hs {
		if h != target {
			out = append(out, h)
		}
	}
	return out
}

// HandlerFunc adapts a function to shared.EventHandler. Register it by pointer.
type HandlerFunc struct {
	Types []string
	Fn    func(ctx context.Context, ev shared.DomainEvent) error
}

func (f *HandlerFunc) Handle(ctx context.Context, ev shared.DomainEvent) error { return f.Fn(ctx, ev) }

func (f *HandlerFunc) EventTypes() []string { return f.Types }

var _ Publisher = (*MemoryBus)(nil)
