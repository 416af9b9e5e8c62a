package event

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmart/core/internal/domain"
)

func failedEnvelope(orderID string) *domain.Envelope {
	return domain.NewEnvelope(
		domain.OrderFailed{OrderID: orderID, Reason: "no stock"},
		orderID, domain.AggregateOrder, "corr-1", "order-service")
}

func TestMemoryBus_PublishAndDrain(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	var handled atomic.Int64
	bus.Subscribe(func(_ context.Context, e *domain.Envelope) error {
		assert.Equal(t, domain.EventTypeOrderFailed, e.EventType)
		handled.Add(1)
		return nil
	}, TopicOrderFailed)

	require.NoError(t, bus.Publish(ctx, failedEnvelope("o-1")))
	require.NoError(t, bus.Publish(ctx, failedEnvelope("o-2")))
	require.NoError(t, bus.Drain(ctx))

	assert.Equal(t, int64(2), handled.Load())
	assert.Len(t, bus.PublishedOfType(domain.EventTypeOrderFailed), 2)
	assert.Empty(t, bus.DLQ(TopicOrderFailed))
}

func TestMemoryBus_HandlerPublishesFollowUp(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	bus.Subscribe(func(ctx context.Context, e *domain.Envelope) error {
		payload := e.Payload.(domain.OrderFailed)
		return bus.Publish(ctx, domain.NewEnvelope(
			domain.StockReleased{OrderID: payload.OrderID, ReleaseReason: domain.ReleaseReasonSystemError},
			payload.OrderID, domain.AggregateProduct, e.CorrelationID, "inventory-service"))
	}, TopicOrderFailed)

	var releases atomic.Int64
	bus.Subscribe(func(context.Context, *domain.Envelope) error {
		releases.Add(1)
		return nil
	}, TopicStockReleased)

	require.NoError(t, bus.Publish(ctx, failedEnvelope("o-1")))
	require.NoError(t, bus.Drain(ctx))
	assert.Equal(t, int64(1), releases.Load())
}

func TestMemoryBus_TransientErrorRetried(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	var attempts atomic.Int64
	bus.Subscribe(func(context.Context, *domain.Envelope) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient db hiccup")
		}
		return nil
	}, TopicOrderFailed)

	require.NoError(t, bus.Publish(ctx, failedEnvelope("o-1")))
	require.NoError(t, bus.Drain(ctx))

	assert.Equal(t, int64(3), attempts.Load())
	assert.Empty(t, bus.DLQ(TopicOrderFailed))
}

func TestMemoryBus_TransientErrorsExhaustedDeadLetters(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	var attempts atomic.Int64
	bus.Subscribe(func(context.Context, *domain.Envelope) error {
		attempts.Add(1)
		return errors.New("db down")
	}, TopicOrderFailed)

	require.NoError(t, bus.Publish(ctx, failedEnvelope("o-1")))
	require.NoError(t, bus.Drain(ctx))

	assert.Equal(t, int64(3), attempts.Load())
	dlq := bus.DLQ(TopicOrderFailed)
	require.Len(t, dlq, 1)
	assert.Equal(t, "3", dlq[0].Headers[HeaderDLQAttempts])
	assert.Equal(t, TopicOrderFailed, dlq[0].Headers[HeaderDLQSourceTopic])
}

func TestMemoryBus_BusinessRuleErrorNotRetried(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	var attempts atomic.Int64
	bus.Subscribe(func(context.Context, *domain.Envelope) error {
		attempts.Add(1)
		return domain.ErrDuplicateOrder
	}, TopicOrderFailed)

	require.NoError(t, bus.Publish(ctx, failedEnvelope("o-1")))
	require.NoError(t, bus.Drain(ctx))

	assert.Equal(t, int64(1), attempts.Load(), "business-rule failures go straight to the DLQ")
	require.Len(t, bus.DLQ(TopicOrderFailed), 1)
}

func TestMemoryBus_UnknownEventTypeRejected(t *testing.T) {
	bus := NewMemoryBus()

	envelope := domain.NewEnvelope(
		domain.OrderFailed{OrderID: "o-1", Reason: "x"},
		"o-1", domain.AggregateOrder, "", "order-service")
	envelope.EventType = "NotARealEvent"

	err := bus.Publish(context.Background(), envelope)
	assert.ErrorIs(t, err, domain.ErrUnknownEventType)
}

func TestTopicFor(t *testing.T) {
	topic, ok := TopicFor(domain.EventTypeStockReserved)
	require.True(t, ok)
	assert.Equal(t, TopicStockReserved, topic)

	_, ok = TopicFor("Nope")
	assert.False(t, ok)
}

func TestDLQTopic(t *testing.T) {
	assert.Equal(t, "order.created.dlq", DLQTopic(TopicOrderCreated))
}
