package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/pkg/retry"
)

// Message is one record on the in-memory bus
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// MemoryBus is an in-process broker implementing Publisher. Published
// events queue per topic; Drain dispatches them to subscribed handlers
// with the same retry/DLQ policy as the Kafka consumer, looping until
// no handler publishes anything new. Tests drive whole sagas through it.
type MemoryBus struct {
	mu     sync.Mutex
	queue  []*Message
	subs   map[string][]Handler
	dlq    map[string][]*Message
	all    []*Message // every message ever published, for assertions
	closed bool

	// MaxRetries bounds handler attempts before dead-lettering
	MaxRetries int
}

// NewMemoryBus creates an in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:       make(map[string][]Handler),
		dlq:        make(map[string][]*Message),
		MaxRetries: 3,
	}
}

// Publish encodes the envelope and queues it on its topic
func (b *MemoryBus) Publish(_ context.Context, envelope *domain.Envelope) error {
	topic, ok := TopicFor(envelope.EventType)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownEventType, envelope.EventType)
	}
	value, err := domain.EncodeEvent(envelope)
	if err != nil {
		return err
	}

	msg := &Message{
		Topic:   topic,
		Key:     envelope.PartitionKey(),
		Value:   value,
		Headers: envelopeHeaders(envelope),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	b.queue = append(b.queue, msg)
	b.all = append(b.all, msg)
	return nil
}

// Subscribe registers a handler for a set of topics
func (b *MemoryBus) Subscribe(handler Handler, topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], handler)
	}
}

// Drain dispatches queued messages until the queue is empty, including
// messages the handlers publish while running.
func (b *MemoryBus) Drain(ctx context.Context) error {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return nil
		}
		msg := b.queue[0]
		b.queue = b.queue[1:]
		handlers := append([]Handler(nil), b.subs[msg.Topic]...)
		b.mu.Unlock()

		for _, h := range handlers {
			b.dispatch(ctx, msg, h)
		}
	}
}

func (b *MemoryBus) dispatch(ctx context.Context, msg *Message, h Handler) {
	envelope, err := domain.DecodeEvent(msg.Value)
	if err != nil {
		b.deadLetter(msg, err, 1)
		return
	}

	result := retry.Do(ctx, &retry.Config{MaxAttempts: b.MaxRetries, InitialInterval: time.Millisecond},
		func(ctx context.Context) error {
			err := h(ctx, envelope)
			if err == nil {
				return nil
			}
			if !domain.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		})
	if result.Err != nil {
		b.deadLetter(msg, result.LastError, result.Attempts)
	}
}

func (b *MemoryBus) deadLetter(msg *Message, cause error, attempts int) {
	dlqMsg := &Message{
		Topic:   DLQTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: map[string]string{},
	}
	for k, v := range msg.Headers {
		dlqMsg.Headers[k] = v
	}
	dlqMsg.Headers[HeaderDLQError] = cause.Error()
	dlqMsg.Headers[HeaderDLQStage] = "consume"
	dlqMsg.Headers[HeaderDLQAttempts] = fmt.Sprintf("%d", attempts)
	dlqMsg.Headers[HeaderDLQSourceTopic] = msg.Topic

	b.mu.Lock()
	b.dlq[msg.Topic] = append(b.dlq[msg.Topic], dlqMsg)
	b.mu.Unlock()
}

// DLQ returns the dead-lettered messages for a source topic
func (b *MemoryBus) DLQ(topic string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Message(nil), b.dlq[topic]...)
}

// Published returns every message published so far, in order
func (b *MemoryBus) Published() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Message(nil), b.all...)
}

// PublishedOfType returns published envelopes of one event type
func (b *MemoryBus) PublishedOfType(eventType string) []*domain.Envelope {
	b.mu.Lock()
	msgs := append([]*Message(nil), b.all...)
	b.mu.Unlock()

	var out []*domain.Envelope
	for _, m := range msgs {
		if m.Headers[HeaderEventType] != eventType {
			continue
		}
		e, err := domain.DecodeEvent(m.Value)
		if err == nil {
			out = append(out, e)
		}
	}
	return out
}

// Close marks the bus closed; further publishes fail
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
