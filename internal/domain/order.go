package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "PENDING"
	OrderStatusConfirmed         OrderStatus = "CONFIRMED"
	OrderStatusPaymentPending    OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaymentProcessing OrderStatus = "PAYMENT_PROCESSING"
	OrderStatusPaid              OrderStatus = "PAID"
	OrderStatusPreparing         OrderStatus = "PREPARING"
	OrderStatusShipped           OrderStatus = "SHIPPED"
	OrderStatusDelivered         OrderStatus = "DELIVERED"
	OrderStatusCompleted         OrderStatus = "COMPLETED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
	OrderStatusRefunding         OrderStatus = "REFUNDING"
	OrderStatusRefunded          OrderStatus = "REFUNDED"
	OrderStatusFailed            OrderStatus = "FAILED"
)

// IsValid checks if the status is a known OrderStatus
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPaymentPending, OrderStatusPaymentProcessing,
		OrderStatusPaid, OrderStatusPreparing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCompleted,
		OrderStatusCancelled, OrderStatusRefunding, OrderStatusRefunded, OrderStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is legal
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed, OrderStatusCompleted:
		return true
	}
	return false
}

func (s OrderStatus) String() string { return string(s) }

// MaxOrderItems is the maximum number of line items per order
const MaxOrderItems = 100

// DefaultCancellationWindow is how long after PAID a customer may cancel
const DefaultCancellationWindow = 24 * time.Hour

// CancelledByType distinguishes who triggered a cancellation
type CancelledByType string

const (
	CancelledByCustomer CancelledByType = "CUSTOMER"
	CancelledBySystem   CancelledByType = "SYSTEM"
)

// OrderItem is a single product line within an order
type OrderItem struct {
	ProductID     ProductID      `json:"product_id"`
	ProductName   string         `json:"product_name"`
	Quantity      Quantity       `json:"quantity"`
	UnitPrice     Money          `json:"unit_price"`
	LineTotal     Money          `json:"line_total"`
	ReservationID *ReservationID `json:"reservation_id,omitempty"`
}

// Order is the order-context aggregate root. It is mutated only through
// its state-machine methods; an illegal transition fails without
// touching the aggregate.
type Order struct {
	ID                 OrderID         `json:"order_id"`
	CustomerID         CustomerID      `json:"customer_id"`
	Status             OrderStatus     `json:"status"`
	Items              []OrderItem     `json:"items"`
	TotalAmount        Money           `json:"total_amount"`
	PaymentID          *PaymentID      `json:"payment_id,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CancelledBy        CancelledByType `json:"cancelled_by,omitempty"`
	IdempotencyKey     string          `json:"idempotency_key,omitempty"`
	ContentHash        string          `json:"content_hash"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	LastModifiedAt     time.Time       `json:"last_modified_at"`
	Version            int64           `json:"version"`
}

// NewOrder validates the request lines and creates a PENDING order
func NewOrder(customerID CustomerID, items []OrderItem) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if len(items) > MaxOrderItems {
		return nil, fmt.Errorf("%w: %d items, maximum is %d", ErrTooManyItems, len(items), MaxOrderItems)
	}

	seen := make(map[ProductID]struct{}, len(items))
	currency := items[0].UnitPrice.Currency()
	for i := range items {
		item := &items[i]
		if _, dup := seen[item.ProductID]; dup {
			return nil, fmt.Errorf("%w: product %s", ErrDuplicateLine, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}

		if item.Quantity.IsZero() {
			return nil, fmt.Errorf("%w: product %s", ErrZeroQuantityLine, item.ProductID)
		}
		if item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: product %s", ErrNegativePrice, item.ProductID)
		}
		if item.UnitPrice.Currency() != currency {
			return nil, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, item.UnitPrice.Currency(), currency)
		}

		lineTotal, err := item.UnitPrice.MulInt(item.Quantity.Int64())
		if err != nil {
			return nil, err
		}
		item.LineTotal = lineTotal
	}

	now := time.Now().UTC()
	o := &Order{
		ID:             NewOrderID(),
		CustomerID:     customerID,
		Status:         OrderStatusPending,
		Items:          items,
		CreatedAt:      now,
		LastModifiedAt: now,
		Version:        1,
	}
	if err := o.recomputeTotal(); err != nil {
		return nil, err
	}
	o.ContentHash = o.computeContentHash()
	return o, nil
}

// recomputeTotal recalculates line totals and the order total
func (o *Order) recomputeTotal() error {
	total, err := Zero(o.Items[0].UnitPrice.Currency())
	if err != nil {
		return err
	}
	for i := range o.Items {
		lineTotal, err := o.Items[i].UnitPrice.MulInt(o.Items[i].Quantity.Int64())
		if err != nil {
			return err
		}
		o.Items[i].LineTotal = lineTotal
		if total, err = total.Add(lineTotal); err != nil {
			return err
		}
	}
	o.TotalAmount = total
	return nil
}

// computeContentHash digests the customer and the sorted line items.
// Two requests with the same hash inside the duplicate window are
// treated as one order submitted twice.
func (o *Order) computeContentHash() string {
	lines := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, fmt.Sprintf("%s:%s:%s", item.ProductID, item.Quantity, item.UnitPrice))
	}
	sort.Strings(lines)

	h := sha256.New()
	h.Write([]byte(o.CustomerID.String()))
	h.Write([]byte("|"))
	h.Write([]byte(strings.Join(lines, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

func (o *Order) touch() {
	o.Version++
	o.LastModifiedAt = time.Now().UTC()
}

func (o *Order) invalid(action string) error {
	return &InvalidTransitionError{From: o.Status, Action: action}
}

// Confirm moves PENDING -> CONFIRMED (stock reserved)
func (o *Order) Confirm() error {
	if o.Status != OrderStatusPending {
		return o.invalid("confirm")
	}
	o.Status = OrderStatusConfirmed
	o.touch()
	return nil
}

// AttachReservation links a line item to its stock reservation
func (o *Order) AttachReservation(productID ProductID, reservationID ReservationID) error {
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			id := reservationID
			o.Items[i].ReservationID = &id
			o.touch()
			return nil
		}
	}
	return fmt.Errorf("%w: product %s has no line in order %s", ErrProductNotFound, productID, o.ID)
}

// StartPayment advances CONFIRMED -> PAYMENT_PENDING, then
// PAYMENT_PENDING -> PAYMENT_PROCESSING on the second call.
func (o *Order) StartPayment() error {
	switch o.Status {
	case OrderStatusConfirmed:
		o.Status = OrderStatusPaymentPending
	case OrderStatusPaymentPending:
		o.Status = OrderStatusPaymentProcessing
	default:
		return o.invalid("startPayment")
	}
	o.touch()
	return nil
}

// MarkPaid records a successful payment: PAYMENT_PROCESSING -> PAID
func (o *Order) MarkPaid(paymentID PaymentID, paidAt time.Time) error {
	if o.Status != OrderStatusPaymentProcessing {
		return o.invalid("markPaid")
	}
	o.Status = OrderStatusPaid
	o.PaymentID = &paymentID
	o.PaidAt = &paidAt
	o.touch()
	return nil
}

// Fail moves the order to the terminal FAILED state. Legal from PENDING
// (reservation failed) and PAYMENT_PROCESSING (unrecoverable payment
// error). A plain decline cancels instead. Repeating on FAILED is a
// no-op.
func (o *Order) Fail(reason string) error {
	if o.Status == OrderStatusFailed {
		return nil
	}
	switch o.Status {
	case OrderStatusPending, OrderStatusPaymentProcessing:
		o.Status = OrderStatusFailed
		o.CancellationReason = reason
		o.touch()
		return nil
	}
	return o.invalid("fail")
}

// Cancel moves the order to CANCELLED. PAYMENT_PENDING is deliberately
// not cancellable: the gateway has been engaged, so compensation must
// flow through PAYMENT_PROCESSING. Customer cancellation of a PAID
// order is subject to the cancellation window. Repeating on CANCELLED
// is a no-op success.
func (o *Order) Cancel(reason string, by CancelledByType, window time.Duration, now time.Time) error {
	if o.Status == OrderStatusCancelled {
		return nil
	}
	switch o.Status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPaymentProcessing, OrderStatusPreparing:
	case OrderStatusPaid:
		if by == CancelledByCustomer && o.PaidAt != nil && now.Sub(*o.PaidAt) > window {
			return fmt.Errorf("%w: paid at %s", ErrCancellationExpired, o.PaidAt.Format(time.RFC3339))
		}
	default:
		return o.invalid("cancel")
	}
	o.Status = OrderStatusCancelled
	o.CancellationReason = reason
	o.CancelledBy = by
	o.touch()
	return nil
}

// StartRefund moves a paid-side state to REFUNDING
func (o *Order) StartRefund(reason string) error {
	switch o.Status {
	case OrderStatusPaid, OrderStatusPreparing, OrderStatusShipped, OrderStatusDelivered:
		o.Status = OrderStatusRefunding
		o.CancellationReason = reason
		o.touch()
		return nil
	}
	return o.invalid("refund")
}

// CompleteRefund finishes REFUNDING -> REFUNDED. No-op on REFUNDED.
func (o *Order) CompleteRefund() error {
	if o.Status == OrderStatusRefunded {
		return nil
	}
	if o.Status != OrderStatusRefunding {
		return o.invalid("completeRefund")
	}
	o.Status = OrderStatusRefunded
	o.touch()
	return nil
}

// StartPreparing moves PAID -> PREPARING (fulfilment picked up the order)
func (o *Order) StartPreparing() error {
	if o.Status != OrderStatusPaid {
		return o.invalid("prepare")
	}
	o.Status = OrderStatusPreparing
	o.touch()
	return nil
}

// Ship moves PREPARING -> SHIPPED
func (o *Order) Ship() error {
	if o.Status != OrderStatusPreparing {
		return o.invalid("ship")
	}
	o.Status = OrderStatusShipped
	o.touch()
	return nil
}

// Deliver moves SHIPPED -> DELIVERED
func (o *Order) Deliver() error {
	if o.Status != OrderStatusShipped {
		return o.invalid("deliver")
	}
	o.Status = OrderStatusDelivered
	o.touch()
	return nil
}

// Complete moves DELIVERED -> COMPLETED. No-op on COMPLETED.
func (o *Order) Complete() error {
	if o.Status == OrderStatusCompleted {
		return nil
	}
	if o.Status != OrderStatusDelivered {
		return o.invalid("complete")
	}
	o.Status = OrderStatusCompleted
	o.touch()
	return nil
}

// Currency returns the currency shared by all line items
func (o *Order) Currency() string {
	return o.TotalAmount.Currency()
}

// CheckInvariants verifies the order aggregate invariants
func (o *Order) CheckInvariants() error {
	if len(o.Items) == 0 {
		return ErrNoItems
	}
	if len(o.Items) > MaxOrderItems {
		return ErrTooManyItems
	}

	total, err := Zero(o.Currency())
	if err != nil {
		return err
	}
	for _, item := range o.Items {
		if total, err = total.Add(item.LineTotal); err != nil {
			return err
		}
	}
	if !total.Equal(o.TotalAmount) {
		return fmt.Errorf("total %s does not match line totals %s", o.TotalAmount, total)
	}

	paidState := false
	switch o.Status {
	case OrderStatusPaid, OrderStatusPreparing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCompleted, OrderStatusRefunding, OrderStatusRefunded:
		paidState = true
	}
	if paidState && o.PaymentID == nil {
		return fmt.Errorf("order %s in %s has no payment id", o.ID, o.Status)
	}
	if !paidState && o.PaymentID != nil {
		return fmt.Errorf("order %s in %s carries payment id %s", o.ID, o.Status, o.PaymentID)
	}
	return nil
}
