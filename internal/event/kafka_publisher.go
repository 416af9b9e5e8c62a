package event

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/pkg/logger"
	"github.com/fluxmart/core/pkg/retry"
)

// KafkaPublisher publishes domain events over franz-go. The client runs
// with idempotence and full acks (kgo defaults) plus snappy
// compression; records are keyed by aggregate ID so one aggregate's
// events stay on one partition.
type KafkaPublisher struct {
	client  *kgo.Client
	config  *PublisherConfig
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewKafkaPublisher connects a publisher to the brokers
func NewKafkaPublisher(ctx context.Context, cfg *PublisherConfig, log *logger.Logger) (*KafkaPublisher, error) {
	if cfg == nil {
		cfg = DefaultPublisherConfig()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping kafka: %w", err)
	}

	retrier := retry.New(&retry.Config{
		MaxAttempts:     cfg.MaxRetries,
		InitialInterval: cfg.RetryBase,
		MaxInterval:     10 * cfg.RetryBase,
		Multiplier:      2,
		JitterFactor:    0.1,
	})

	return &KafkaPublisher{client: client, config: cfg, retrier: retrier, log: log}, nil
}

// Publish delivers one event to its topic, retrying transient broker
// failures and dead-lettering the record when retries run out. The
// publish deadline is detached from the caller's context so an
// abandoned request cannot lose an already committed state change.
func (p *KafkaPublisher) Publish(ctx context.Context, envelope *domain.Envelope) error {
	topic, ok := TopicFor(envelope.EventType)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownEventType, envelope.EventType)
	}

	value, err := domain.EncodeEvent(envelope)
	if err != nil {
		return err
	}
	record := buildRecord(topic, envelope, value)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.PublishTimeout)
	defer cancel()

	result := p.retrier.Do(pubCtx, func(ctx context.Context) error {
		return p.client.ProduceSync(ctx, record).FirstErr()
	})
	if result.Err == nil {
		return nil
	}

	p.log.Error("publish failed, dead-lettering",
		"topic", topic,
		"event_id", envelope.EventID,
		"attempts", result.Attempts,
		"error", result.LastError)

	if dlqErr := p.deadLetter(pubCtx, record, result.LastError, result.Attempts); dlqErr != nil {
		return fmt.Errorf("publish to %s failed (%v) and dead-letter failed: %w", topic, result.LastError, dlqErr)
	}
	return fmt.Errorf("publish to %s dead-lettered after %d attempts: %w", topic, result.Attempts, result.LastError)
}

func (p *KafkaPublisher) deadLetter(ctx context.Context, record *kgo.Record, cause error, attempts int) error {
	dlq := &kgo.Record{
		Topic:   DLQTopic(record.Topic),
		Key:     record.Key,
		Value:   record.Value,
		Headers: append([]kgo.RecordHeader(nil), record.Headers...),
	}
	dlq.Headers = append(dlq.Headers,
		kgo.RecordHeader{Key: HeaderDLQError, Value: []byte(cause.Error())},
		kgo.RecordHeader{Key: HeaderDLQStage, Value: []byte("publish")},
		kgo.RecordHeader{Key: HeaderDLQAttempts, Value: []byte(strconv.Itoa(attempts))},
		kgo.RecordHeader{Key: HeaderDLQFailedAt, Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
		kgo.RecordHeader{Key: HeaderDLQSourceTopic, Value: []byte(record.Topic)},
	)
	return p.client.ProduceSync(ctx, dlq).FirstErr()
}

// Close flushes buffered records and closes the client
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.log.Warn("kafka flush on close failed", "error", err)
	}
	p.client.Close()
	return nil
}

func buildRecord(topic string, envelope *domain.Envelope, value []byte) *kgo.Record {
	headers := envelopeHeaders(envelope)
	kgoHeaders := make([]kgo.RecordHeader, 0, len(headers))
	for k, v := range headers {
		kgoHeaders = append(kgoHeaders, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return &kgo.Record{
		Topic:   topic,
		Key:     []byte(envelope.PartitionKey()),
		Value:   value,
		Headers: kgoHeaders,
	}
}
