package event

import "github.com/fluxmart/core/internal/domain"

// One topic per event type. Partitioning by aggregate ID gives
// per-aggregate ordering inside each topic.
const (
	TopicOrderCreated     = "order.created"
	TopicOrderFailed      = "order.failed"
	TopicOrderCancelled   = "order.cancelled"
	TopicStockReserved    = "stock.reserved"
	TopicStockReleased    = "stock.released"
	TopicStockDeducted    = "stock.deducted"
	TopicPaymentCompleted = "payment.completed"
	TopicPaymentFailed    = "payment.failed"
	TopicLowStockAlert    = "stock.low-alert"
)

var topicByEventType = map[string]string{
	domain.EventTypeOrderCreated:     TopicOrderCreated,
	domain.EventTypeOrderFailed:      TopicOrderFailed,
	domain.EventTypeOrderCancelled:   TopicOrderCancelled,
	domain.EventTypeStockReserved:    TopicStockReserved,
	domain.EventTypeStockReleased:    TopicStockReleased,
	domain.EventTypeStockDeducted:    TopicStockDeducted,
	domain.EventTypePaymentCompleted: TopicPaymentCompleted,
	domain.EventTypePaymentFailed:    TopicPaymentFailed,
	domain.EventTypeLowStockAlert:    TopicLowStockAlert,
}

// TopicFor returns the topic carrying the given event type
func TopicFor(eventType string) (string, bool) {
	t, ok := topicByEventType[eventType]
	return t, ok
}

// DLQTopic returns the dead-letter topic paired with a topic
func DLQTopic(topic string) string {
	return topic + ".dlq"
}

// OrderTopics are the topics the order-side consumer subscribes to
func OrderTopics() []string {
	return []string{TopicOrderFailed, TopicStockReserved, TopicStockReleased, TopicPaymentCompleted, TopicPaymentFailed}
}

// InventoryTopics are the topics the inventory-side consumer subscribes to
func InventoryTopics() []string {
	return []string{TopicOrderCreated, TopicOrderCancelled, TopicPaymentCompleted, TopicPaymentFailed}
}
