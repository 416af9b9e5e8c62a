package domain

import (
	"fmt"
	"time"
)

// Event type tags. One broker topic exists per type; records are
// partitioned by aggregate ID so each aggregate's events stay ordered.
const (
	EventTypeOrderCreated     = "OrderCreated"
	EventTypeOrderFailed      = "OrderFailed"
	EventTypeOrderCancelled   = "OrderCancelled"
	EventTypeStockReserved    = "StockReserved"
	EventTypeStockReleased    = "StockReleased"
	EventTypeStockDeducted    = "StockDeducted"
	EventTypePaymentCompleted = "PaymentCompleted"
	EventTypePaymentFailed    = "PaymentFailed"
	EventTypeLowStockAlert    = "LowStockAlert"
)

// AggregateType tags the owning aggregate of an event
type AggregateType string

const (
	AggregateOrder   AggregateType = "ORDER"
	AggregateProduct AggregateType = "PRODUCT"
)

// EventPayload is implemented by every event payload variant
type EventPayload interface {
	EventType() string
}

// Envelope is the metadata wrapper carried by every domain event.
// Treat it as immutable after construction.
type Envelope struct {
	EventID       EventID       `json:"event_id"`
	EventType     string        `json:"event_type"`
	AggregateID   string        `json:"aggregate_id"`
	AggregateType AggregateType `json:"aggregate_type"`
	OccurredAt    time.Time     `json:"occurred_at"`
	Version       int           `json:"version"`
	CorrelationID string        `json:"correlation_id"`
	SourceService string        `json:"source_service"`
	Payload       EventPayload  `json:"-"`
}

// NewEnvelope wraps a payload with fresh event metadata
func NewEnvelope(payload EventPayload, aggregateID string, aggregateType AggregateType, correlationID, sourceService string) *Envelope {
	return &Envelope{
		EventID:       NewEventID(),
		EventType:     payload.EventType(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		OccurredAt:    time.Now().UTC(),
		Version:       1,
		CorrelationID: correlationID,
		SourceService: sourceService,
		Payload:       payload,
	}
}

// PartitionKey is the broker partitioning key: the aggregate ID
func (e *Envelope) PartitionKey() string { return e.AggregateID }

// Validate checks the envelope carries the mandatory metadata
func (e *Envelope) Validate() error {
	if e.EventID.IsZero() {
		return fmt.Errorf("envelope missing event id")
	}
	if e.EventType == "" || e.AggregateID == "" {
		return fmt.Errorf("envelope missing event type or aggregate id")
	}
	if e.Payload == nil {
		return fmt.Errorf("envelope missing payload")
	}
	return nil
}

// --- Payload variants (wire field names are canonical) ---

// OrderCreatedItem is a line in an OrderCreated event
type OrderCreatedItem struct {
	ProductID string   `json:"productId"`
	Quantity  Quantity `json:"quantity"`
	UnitPrice string   `json:"unitPrice"`
	Currency  string   `json:"currency"`
}

// OrderCreated starts the order saga
type OrderCreated struct {
	OrderID     string             `json:"orderId"`
	CustomerID  string             `json:"customerId"`
	Items       []OrderCreatedItem `json:"items"`
	TotalAmount string             `json:"totalAmount"`
	Currency    string             `json:"currency"`
	CreatedAt   time.Time          `json:"createdAt"`
}

func (OrderCreated) EventType() string { return EventTypeOrderCreated }

// OrderFailed terminates the saga when no stock could be reserved
type OrderFailed struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (OrderFailed) EventType() string { return EventTypeOrderFailed }

// CompensationAction instructs a downstream service to undo a step
type CompensationAction struct {
	ActionType    string            `json:"actionType"`
	TargetService string            `json:"targetService"`
	ActionData    map[string]string `json:"actionData,omitempty"`
}

// OrderCancelled carries the compensation plan for a cancelled order
type OrderCancelled struct {
	OrderID             string               `json:"orderId"`
	CancelReason        string               `json:"cancelReason"`
	CancelReasonCode    string               `json:"cancelReasonCode"`
	CancelledBy         string               `json:"cancelledBy"`
	CancelledByType     string               `json:"cancelledByType"`
	CompensationActions []CompensationAction `json:"compensationActions"`
}

func (OrderCancelled) EventType() string { return EventTypeOrderCancelled }

// StockItem is a per-product line in inventory events
type StockItem struct {
	ProductID     string   `json:"productId"`
	Quantity      Quantity `json:"quantity"`
	WarehouseID   string   `json:"warehouseId"`
	ReservationID string   `json:"reservationId,omitempty"`
}

// StockReserved confirms the whole order's stock is held
type StockReserved struct {
	InventoryID   string      `json:"inventoryId"`
	ReservationID string      `json:"reservationId"`
	OrderID       string      `json:"orderId"`
	Items         []StockItem `json:"items"`
	ExpiresAt     time.Time   `json:"expiresAt"`
}

func (StockReserved) EventType() string { return EventTypeStockReserved }

// StockReleased reports reserved stock returned to availability
type StockReleased struct {
	InventoryID    string        `json:"inventoryId"`
	ReservationID  string        `json:"reservationId"`
	OrderID        string        `json:"orderId"`
	ReleaseReason  ReleaseReason `json:"releaseReason"`
	Items          []StockItem   `json:"items"`
	ReleasedBy     string        `json:"releasedBy"`
	ReleasedByType string        `json:"releasedByType"`
}

func (StockReleased) EventType() string { return EventTypeStockReleased }

// StockDeducted reports reservations converted into deductions
type StockDeducted struct {
	InventoryID   string      `json:"inventoryId"`
	ReservationID string      `json:"reservationId"`
	OrderID       string      `json:"orderId"`
	Items         []StockItem `json:"items"`
	DeductedAt    time.Time   `json:"deductedAt"`
}

func (StockDeducted) EventType() string { return EventTypeStockDeducted }

// PaymentCompleted reports a successful charge
type PaymentCompleted struct {
	PaymentID     string    `json:"paymentId"`
	OrderID       string    `json:"orderId"`
	CustomerID    string    `json:"customerId"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	PaymentMethod string    `json:"paymentMethod"`
	TransactionID string    `json:"transactionId"`
	PaidAt        time.Time `json:"paidAt"`
}

func (PaymentCompleted) EventType() string { return EventTypePaymentCompleted }

// PaymentFailed triggers reservation release and order cancellation
type PaymentFailed struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	Reason     string `json:"reason"`
}

func (PaymentFailed) EventType() string { return EventTypePaymentFailed }

// LowStockItem describes one product below its alert threshold
type LowStockItem struct {
	ProductID string   `json:"productId"`
	Available Quantity `json:"availableQuantity"`
	Threshold Quantity `json:"threshold"`
}

// LowStockAlert is a fire-and-forget operational signal
type LowStockAlert struct {
	InventoryID   string         `json:"inventoryId"`
	AlertLevel    string         `json:"alertLevel"`
	LowStockItems []LowStockItem `json:"lowStockItems"`
}

func (LowStockAlert) EventType() string { return EventTypeLowStockAlert }
