package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/internal/event"
	"github.com/fluxmart/core/internal/gateway"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/pkg/logger"
	"github.com/fluxmart/core/pkg/retry"
)

// OrderConfig holds order service tuning
type OrderConfig struct {
	// DuplicateWindow is how far back identical submissions count as
	// the same order
	DuplicateWindow time.Duration

	// CancellationWindow is how long after payment a customer may cancel
	CancellationWindow time.Duration

	ConflictRetry *retry.Config

	// RefundRetry bounds refund attempts on transient gateway failures
	RefundRetry *retry.Config
}

// DefaultOrderConfig returns the order service defaults
func DefaultOrderConfig() *OrderConfig {
	return &OrderConfig{
		DuplicateWindow:    5 * time.Minute,
		CancellationWindow: domain.DefaultCancellationWindow,
		ConflictRetry: &retry.Config{
			MaxAttempts:     3,
			InitialInterval: 25 * time.Millisecond,
			MaxInterval:     250 * time.Millisecond,
			Multiplier:      2.0,
			JitterFactor:    0.2,
		},
		RefundRetry: &retry.Config{
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.2,
		},
	}
}

// SourceOrderService tags events published by the order context
const SourceOrderService = "order-service"

// OrderService owns the order lifecycle: creation with duplicate
// detection, the state machine transitions driven by saga events, and
// the payment gateway interaction.
type OrderService struct {
	repos     *repository.Repositories
	publisher event.Publisher
	payments  gateway.PaymentGateway
	config    *OrderConfig
	log       *logger.Logger
}

// NewOrderService assembles the order service
func NewOrderService(repos *repository.Repositories, publisher event.Publisher, payments gateway.PaymentGateway, config *OrderConfig) *OrderService {
	if config == nil {
		config = DefaultOrderConfig()
	}
	return &OrderService{
		repos:     repos,
		publisher: publisher,
		payments:  payments,
		config:    config,
		log:       logger.Get().With("component", "order-service"),
	}
}

// WithRepos returns a copy bound to a different repository set, so
// event handlers can run transitions inside their own transaction.
func (s *OrderService) WithRepos(repos *repository.Repositories) *OrderService {
	clone := *s
	clone.repos = repos
	return &clone
}

// CreateOrder validates and persists a new PENDING order and starts the
// saga with an OrderCreated event. An identical submission by the same
// customer inside the duplicate window returns the existing order with
// ErrDuplicateOrder; a matching idempotency key returns the existing
// order with no error.
func (s *OrderService) CreateOrder(ctx context.Context, customerID domain.CustomerID, items []domain.OrderItem, idempotencyKey string) (*domain.Order, error) {
	if idempotencyKey != "" {
		existing, err := s.repos.Orders.GetByIdempotencyKey(ctx, customerID, idempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
	}

	o, err := domain.NewOrder(customerID, items)
	if err != nil {
		return nil, err
	}
	o.IdempotencyKey = idempotencyKey

	since := time.Now().UTC().Add(-s.config.DuplicateWindow)
	dup, err := s.repos.Orders.FindDuplicate(ctx, customerID, o.ContentHash, since)
	if err == nil {
		return dup, fmt.Errorf("%w: matches order %s", domain.ErrDuplicateOrder, dup.ID)
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return nil, err
	}

	if err := s.repos.Orders.Create(ctx, o); err != nil {
		return nil, err
	}

	s.publish(ctx, o.ID, orderCreatedPayload(o))
	return o, nil
}

// GetOrder loads an order by ID
func (s *OrderService) GetOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	return s.repos.Orders.GetByID(ctx, id)
}

// CancelOrder cancels an order and emits the compensation plan. For
// paid orders the refund is requested immediately with bounded retries
// on transient gateway failures; a refund that still fails is logged
// and escalated through the REFUND_PAYMENT action on the event.
func (s *OrderService) CancelOrder(ctx context.Context, orderID domain.OrderID, reason string, by domain.CancelledByType) (*domain.Order, error) {
	var statusBefore domain.OrderStatus
	o, err := s.apply(ctx, orderID, func(o *domain.Order) error {
		statusBefore = o.Status
		return o.Cancel(reason, by, s.config.CancellationWindow, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	if statusBefore == domain.OrderStatusCancelled {
		// Repeat cancel, already compensated.
		return o, nil
	}

	wasPaid := statusBefore == domain.OrderStatusPaid || statusBefore == domain.OrderStatusPreparing
	if wasPaid && o.PaymentID != nil && s.payments != nil {
		if err := s.refundWithRetry(ctx, o); err != nil {
			s.log.Error("refund on cancellation failed",
				"order_id", o.ID.String(),
				"payment_id", o.PaymentID.String(),
				"error", err)
		}
	}

	s.publish(ctx, o.ID, orderCancelledPayload(o, statusBefore))
	return o, nil
}

// AttachReservations records the stock holds taken for the order and
// confirms it: PENDING -> CONFIRMED.
func (s *OrderService) AttachReservations(ctx context.Context, orderID domain.OrderID, reserved []ReservedItem) (*domain.Order, error) {
	return s.apply(ctx, orderID, func(o *domain.Order) error {
		if o.Status == domain.OrderStatusPending {
			if err := o.Confirm(); err != nil {
				return err
			}
		}
		for _, item := range reserved {
			if err := o.AttachReservation(item.ProductID, item.Reservation.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// BeginPayment advances CONFIRMED through PAYMENT_PENDING into
// PAYMENT_PROCESSING.
func (s *OrderService) BeginPayment(ctx context.Context, orderID domain.OrderID) (*domain.Order, error) {
	return s.apply(ctx, orderID, func(o *domain.Order) error {
		if err := o.StartPayment(); err != nil {
			return err
		}
		return o.StartPayment()
	})
}

// ChargeOrder runs the gateway charge for an order in
// PAYMENT_PROCESSING and reports the outcome as a PaymentCompleted or
// PaymentFailed event. The state transitions happen in the handlers
// consuming those events. Transport failures return an error so the
// caller retries; a decline is a final outcome and does not.
func (s *OrderService) ChargeOrder(ctx context.Context, orderID domain.OrderID) error {
	o, err := s.repos.Orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == domain.OrderStatusPaid {
		return nil
	}
	if o.Status != domain.OrderStatusPaymentProcessing {
		return &domain.InvalidTransitionError{From: o.Status, Action: "charge"}
	}

	paymentID := domain.NewPaymentID()
	resp, err := s.payments.Charge(ctx, &gateway.ChargeRequest{
		PaymentID:      paymentID,
		OrderID:        o.ID,
		CustomerID:     o.CustomerID,
		Amount:         o.TotalAmount,
		Method:         "card",
		IdempotencyKey: o.ID.String(),
	})
	if err != nil {
		return fmt.Errorf("charge for order %s failed: %w", o.ID, err)
	}

	if !resp.Success {
		s.log.Info("payment declined",
			"order_id", o.ID.String(),
			"failure_code", resp.FailureCode)
		s.publish(ctx, o.ID, domain.PaymentFailed{
			OrderID:    o.ID.String(),
			CustomerID: o.CustomerID.String(),
			Reason:     resp.FailureReason,
		})
		return nil
	}

	s.publish(ctx, o.ID, domain.PaymentCompleted{
		PaymentID:     paymentID.String(),
		OrderID:       o.ID.String(),
		CustomerID:    o.CustomerID.String(),
		Amount:        o.TotalAmount.Amount().StringFixed(2),
		Currency:      o.TotalAmount.Currency(),
		PaymentMethod: "card",
		TransactionID: resp.TransactionID,
		PaidAt:        time.Now().UTC(),
	})
	return nil
}

// MarkPaid records a completed payment: PAYMENT_PROCESSING -> PAID
func (s *OrderService) MarkPaid(ctx context.Context, orderID domain.OrderID, paymentID domain.PaymentID, paidAt time.Time) (*domain.Order, error) {
	return s.apply(ctx, orderID, func(o *domain.Order) error {
		if o.Status == domain.OrderStatusPaid {
			return nil
		}
		return o.MarkPaid(paymentID, paidAt)
	})
}

// FailOrder moves an order to the terminal FAILED state
func (s *OrderService) FailOrder(ctx context.Context, orderID domain.OrderID, reason string) (*domain.Order, error) {
	return s.apply(ctx, orderID, func(o *domain.Order) error {
		return o.Fail(reason)
	})
}

// RefundOrder runs the refund flow for a paid-side order
func (s *OrderService) RefundOrder(ctx context.Context, orderID domain.OrderID, reason string) (*domain.Order, error) {
	o, err := s.apply(ctx, orderID, func(o *domain.Order) error {
		return o.StartRefund(reason)
	})
	if err != nil {
		return nil, err
	}

	if o.PaymentID != nil && s.payments != nil {
		if err := s.payments.Refund(ctx, o.PaymentID.String(), o.TotalAmount); err != nil {
			return nil, fmt.Errorf("refund for order %s failed: %w", o.ID, err)
		}
	}

	return s.apply(ctx, orderID, func(o *domain.Order) error {
		return o.CompleteRefund()
	})
}

// refundWithRetry runs the gateway refund, retrying transient failures
// with backoff. Declines and other final gateway answers are not
// retried.
func (s *OrderService) refundWithRetry(ctx context.Context, o *domain.Order) error {
	result := retry.Do(ctx, s.config.RefundRetry, func(ctx context.Context) error {
		err := s.payments.Refund(ctx, o.PaymentID.String(), o.TotalAmount)
		if err != nil && !domain.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if result.Err != nil {
		if errors.Is(result.Err, retry.ErrMaxAttemptsExceeded) {
			return result.LastError
		}
		return result.Err
	}
	return nil
}

// apply is the load-mutate-persist loop with bounded conflict retry
func (s *OrderService) apply(ctx context.Context, id domain.OrderID, fn func(o *domain.Order) error) (*domain.Order, error) {
	var updated *domain.Order
	result := retry.Do(ctx, s.config.ConflictRetry, func(ctx context.Context) error {
		o, err := s.repos.Orders.GetByID(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		expected := o.Version

		if err := fn(o); err != nil {
			return retry.Permanent(err)
		}
		if o.Version == expected {
			// No-op transition, nothing to persist.
			updated = o
			return nil
		}

		if err := s.repos.Orders.Update(ctx, o, expected); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		updated = o
		return nil
	})
	if result.Err != nil {
		if errors.Is(result.Err, retry.ErrMaxAttemptsExceeded) {
			return nil, result.LastError
		}
		return nil, result.Err
	}
	return updated, nil
}

func (s *OrderService) publish(ctx context.Context, orderID domain.OrderID, payload domain.EventPayload) {
	if s.publisher == nil {
		return
	}
	env := domain.NewEnvelope(payload, orderID.String(), domain.AggregateOrder, orderID.String(), SourceOrderService)
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.Error("event publish failed",
			"event_type", payload.EventType(),
			"order_id", orderID.String(),
			"error", err)
	}
}

func orderCreatedPayload(o *domain.Order) domain.OrderCreated {
	items := make([]domain.OrderCreatedItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, domain.OrderCreatedItem{
			ProductID: item.ProductID.String(),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Amount().StringFixed(2),
			Currency:  item.UnitPrice.Currency(),
		})
	}
	return domain.OrderCreated{
		OrderID:     o.ID.String(),
		CustomerID:  o.CustomerID.String(),
		Items:       items,
		TotalAmount: o.TotalAmount.Amount().StringFixed(2),
		Currency:    o.TotalAmount.Currency(),
		CreatedAt:   o.CreatedAt,
	}
}

func orderCancelledPayload(o *domain.Order, statusBefore domain.OrderStatus) domain.OrderCancelled {
	var actions []domain.CompensationAction

	holdsStock := false
	for _, item := range o.Items {
		if item.ReservationID != nil {
			holdsStock = true
			break
		}
	}
	if holdsStock {
		actions = append(actions, domain.CompensationAction{
			ActionType:    "STOCK_RESTORE",
			TargetService: "inventory-service",
		})
	}

	switch statusBefore {
	case domain.OrderStatusPaid, domain.OrderStatusPreparing:
		action := domain.CompensationAction{
			ActionType:    "REFUND_PAYMENT",
			TargetService: SourceOrderService,
		}
		if o.PaymentID != nil {
			action.ActionData = map[string]string{"payment_id": o.PaymentID.String()}
		}
		actions = append(actions, action)
	}

	reasonCode := "USER_REQUEST"
	cancelledBy := o.CustomerID.String()
	if o.CancelledBy == domain.CancelledBySystem {
		reasonCode = "SYSTEM"
		cancelledBy = "system"
	}

	return domain.OrderCancelled{
		OrderID:             o.ID.String(),
		CancelReason:        o.CancellationReason,
		CancelReasonCode:    reasonCode,
		CancelledBy:         cancelledBy,
		CancelledByType:     string(o.CancelledBy),
		CompensationActions: actions,
	}
}
