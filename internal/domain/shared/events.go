package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact raised by an aggregate after the state it describes
// is durable. Every event belongs to exactly one company.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	AggregateID() uuid.UUID
	CompanyID() uuid.UUID
}

// EventHeader is embedded by every concrete event
type EventHeader struct {
	ID        uuid.UUID `json:"event_id"`
	Type      string    `json:"event_type"`
	RaisedAt  time.Time `json:"raised_at"`
	Aggregate uuid.UUID `json:"aggregate_id"`
	Company   uuid.UUID `json:"company_id"`
}

// NewEventHeader stamps a fresh event ID and the current time
func NewEventHeader(eventType string, aggregateID, companyID uuid.UUID) EventHeader {
	return EventHeader{
		ID:        uuid.New(),
		Type:      eventType,
		RaisedAt:  time.Now().UTC(),
		Aggregate: aggregateID,
		Company:   companyID,
	}
}

func (h *EventHeader) EventID() uuid.UUID     { return h.ID }
func (h *EventHeader) EventType() string      { return h.Type }
func (h *EventHeader) AggregateID() uuid.UUID { return h.Aggregate }
func (h *EventHeader) CompanyID() uuid.UUID   { return h.Company }

// EventPublisher delivers events to subscribers or a broker
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventHandler consumes events in process. An empty EventTypes subscribes
// to everything.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}
