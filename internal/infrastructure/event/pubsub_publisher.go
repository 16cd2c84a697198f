package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Message attributes set on every published event
const (
	AttrEventType   = "event_type"
	AttrCompanyID   = "company_id"
	AttrAggregateID = "aggregate_id"
)

// PubSubPublisher publishes events to a Google Cloud Pub/Sub topic
type PubSubPublisher struct {
	client     *pubsub.Client
	topic      *pubsub.Topic
	logger     *zap.Logger
	ownsClient bool
}

// NewPubSubPublisher dials Pub/Sub for cfg.ProjectID. PUBSUB_EMULATOR_HOST is
// honoured by the client library.
func NewPubSubPublisher(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger, opts ...option.ClientOption) (*PubSubPublisher, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	p := NewPubSubPublisherFromClient(client, cfg.Topic, logger)
	p.ownsClient = true
	return p, nil
}

// NewPubSubPublisherFromClient publishes through an existing client. The
// caller keeps ownership of client.
func NewPubSubPublisherFromClient(client *pubsub.Client, topic string, logger *zap.Logger) *PubSubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubPublisher{
		client: client,
		topic:  client.Topic(topic),
		logger: logger,
	}
}

// EnsureTopic fails when the topic does not exist
func (p *PubSubPublisher) EnsureTopic(ctx context.Context) error {
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check topic %s: %w", p.topic.ID(), err)
	}
	if !ok {
		return fmt.Errorf("topic %s does not exist", p.topic.ID())
	}
	return nil
}

// Publish sends every event as JSON, typed by the event_type attribute, and
// waits for the server acknowledgements. All events are attempted; the
// returned error joins the individual failures.
func (p *PubSubPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	results := make([]*pubsub.PublishResult, len(events))
	var errs []error
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to serialize %s: %w", ev.EventType(), err))
			continue
		}
		results[i] = p.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				AttrEventType:   ev.EventType(),
				AttrCompanyID:   ev.CompanyID().String(),
				AttrAggregateID: ev.AggregateID().String(),
			},
		})
	}

	for i, res := range results {
		if res == nil {
			continue
		}
		id, err := res.Get(ctx)
		if err != nil {
			p.logger.Error("failed to publish event",
				zap.String("event_type", events[i].EventType()),
				zap.String("event_id", events[i].EventID().String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("publish %s: %w", events[i].EventType(), err))
			continue
		}
		p.logger.Debug("event published",
			zap.String("event_type", events[i].EventType()),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close flushes pending messages and releases the client when it is owned
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	if p.ownsClient {
		return p.client.Close()
	}
	return nil
}

var _ Publisher = (*PubSubPublisher)(nil)
