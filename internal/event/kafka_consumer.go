package event

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/pkg/logger"
	"github.com/fluxmart/core/pkg/retry"
)

// Handler processes one decoded event. Returning an error classified as
// business-rule or fatal dead-letters the record immediately; any other
// error is treated as transient and retried before dead-lettering.
type Handler func(ctx context.Context, envelope *domain.Envelope) error

// ConsumerConfig carries consumer tuning
type ConsumerConfig struct {
	Brokers          []string
	GroupID          string
	ClientID         string
	Topics           []string
	MaxRetries       int
	RetryBase        time.Duration
	SessionTimeout   time.Duration
	RebalanceTimeout time.Duration
}

// DefaultConsumerConfig returns the consumer defaults
func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers:          []string{"localhost:9092"},
		MaxRetries:       3,
		RetryBase:        time.Second,
		SessionTimeout:   30 * time.Second,
		RebalanceTimeout: 60 * time.Second,
	}
}

// KafkaConsumer polls topics with a consumer group, dispatches records
// serially per partition and commits offsets only after the batch is
// handled. Records whose handler fails permanently go to the topic's
// DLQ with failure-context headers; the offset is still committed so
// one poison record cannot wedge the partition.
type KafkaConsumer struct {
	client  *kgo.Client
	config  *ConsumerConfig
	handler Handler
	retrier *retry.Retrier
	log     *logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewKafkaConsumer connects a consumer group member to the brokers
func NewKafkaConsumer(ctx context.Context, cfg *ConsumerConfig, handler Handler, log *logger.Logger) (*KafkaConsumer, error) {
	if cfg == nil {
		cfg = DefaultConsumerConfig()
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("consumer requires at least one topic")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ClientID(cfg.ClientID),
		kgo.DisableAutoCommit(),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.RebalanceTimeout(cfg.RebalanceTimeout),
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

	return &KafkaConsumer{
		client:  client,
		config:  cfg,
		handler: handler,
		retrier: retrier,
		log:     log,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start runs the poll loop in a goroutine
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pollLoop(ctx)

	c.log.Info("consumer started", "group", c.config.GroupID, "topics", c.config.Topics)
	return nil
}

// Stop drains the poll loop and closes the client
func (c *KafkaConsumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
	c.client.Close()

	c.log.Info("consumer stopped", "group", c.config.GroupID)
	return nil
}

func (c *KafkaConsumer) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				c.log.Error("fetch error", "topic", e.Topic, "partition", e.Partition, "error", e.Err)
			}
			continue
		}

		// Serial dispatch per partition preserves per-aggregate order.
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, record := range p.Records {
				c.handleRecord(ctx, record)
			}
		})

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.log.Error("offset commit failed", "error", err)
		}
	}
}

func (c *KafkaConsumer) handleRecord(ctx context.Context, record *kgo.Record) {
	envelope, err := domain.DecodeEvent(record.Value)
	if err != nil {
		// Undecodable records are poison: straight to the DLQ.
		c.deadLetter(ctx, record, err, 1)
		return
	}

	result := c.retrier.Do(ctx, func(ctx context.Context) error {
		err := c.handler(ctx, envelope)
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if result.Err == nil {
		return
	}

	c.log.Error("event handling failed, dead-lettering",
		"topic", record.Topic,
		"event_id", envelope.EventID,
		"event_type", envelope.EventType,
		"attempts", result.Attempts,
		"error", result.LastError)
	c.deadLetter(ctx, record, result.LastError, result.Attempts)
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, record *kgo.Record, cause error, attempts int) {
	dlq := &kgo.Record{
		Topic:   DLQTopic(record.Topic),
		Key:     record.Key,
		Value:   record.Value,
		Headers: append([]kgo.RecordHeader(nil), record.Headers...),
	}
	dlq.Headers = append(dlq.Headers,
		kgo.RecordHeader{Key: HeaderDLQError, Value: []byte(cause.Error())},
		kgo.RecordHeader{Key: HeaderDLQStage, Value: []byte("consume")},
		kgo.RecordHeader{Key: HeaderDLQAttempts, Value: []byte(strconv.Itoa(attempts))},
		kgo.RecordHeader{Key: HeaderDLQFailedAt, Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
		kgo.RecordHeader{Key: HeaderDLQSourceTopic, Value: []byte(record.Topic)},
		kgo.RecordHeader{Key: HeaderDLQConsumerGroup, Value: []byte(c.config.GroupID)},
	)
	if err := c.client.ProduceSync(ctx, dlq).FirstErr(); err != nil {
		c.log.Error("dead-letter produce failed", "topic", dlq.Topic, "error", err)
	}
}
