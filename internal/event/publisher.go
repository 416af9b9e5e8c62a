package event

import (
	"context"
	"time"

	"github.com/fluxmart/core/internal/domain"
)

// Record header keys stamped on every published event
const (
	HeaderEventID       = "event-id"
	HeaderEventType     = "event-type"
	HeaderCorrelationID = "correlation-id"
	HeaderSourceService = "source-service"
	HeaderOccurredAt    = "occurred-at"
)

// Failure-context headers added when a record is dead-lettered
const (
	HeaderDLQError         = "dlq-error"
	HeaderDLQStage         = "dlq-stage"
	HeaderDLQAttempts      = "dlq-attempts"
	HeaderDLQFailedAt      = "dlq-failed-at"
	HeaderDLQSourceTopic   = "dlq-source-topic"
	HeaderDLQConsumerGroup = "dlq-consumer-group"
)

// Publisher delivers domain events to the bus with at-least-once
// semantics. Publish blocks until the broker acknowledges the write or
// the publish deadline lapses; an event that cannot be delivered after
// bounded retries lands on the topic's DLQ.
type Publisher interface {
	Publish(ctx context.Context, envelope *domain.Envelope) error
	Close() error
}

// PublisherConfig carries publisher tuning
type PublisherConfig struct {
	Brokers  []string
	ClientID string
	// MaxRetries bounds delivery attempts before dead-lettering
	MaxRetries int
	// RetryBase is the first backoff interval
	RetryBase time.Duration
	// PublishTimeout caps one delivery attempt, detached from the
	// caller's deadline so a cancelled request cannot drop an event.
	PublishTimeout time.Duration
}

// DefaultPublisherConfig returns the publisher defaults
func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		Brokers:        []string{"localhost:9092"},
		ClientID:       "fluxmart",
		MaxRetries:     3,
		RetryBase:      time.Second,
		PublishTimeout: 30 * time.Second,
	}
}

func envelopeHeaders(e *domain.Envelope) map[string]string {
	return map[string]string{
		HeaderEventID:       e.EventID.String(),
		HeaderEventType:     e.EventType,
		HeaderCorrelationID: e.CorrelationID,
		HeaderSourceService: e.SourceService,
		HeaderOccurredAt:    e.OccurredAt.Format(time.RFC3339Nano),
	}
}
