package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/internal/event"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/internal/service"
	"github.com/fluxmart/core/pkg/logger"
)

// Consumer group names, also used as the idempotence-log partition
const (
	ConsumerGroupOrders    = "order-service"
	ConsumerGroupInventory = "inventory-service"
)

// OrderHandlers is the order-side saga participant. It consumes the
// inventory and payment outcomes and drives the order state machine.
// Every event is processed inside one transaction together with its
// processed-event row, so a redelivery is a silent no-op.
type OrderHandlers struct {
	uow    repository.UnitOfWork
	orders *service.OrderService
	log    *logger.Logger
}

// NewOrderHandlers creates the order-side saga participant
func NewOrderHandlers(uow repository.UnitOfWork, orders *service.OrderService) *OrderHandlers {
	return &OrderHandlers{
		uow:    uow,
		orders: orders,
		log:    logger.Get().With("component", "order-saga"),
	}
}

// Topics lists the subscriptions of the order-side consumer
func (h *OrderHandlers) Topics() []string { return event.OrderTopics() }

// Handle dispatches one event. It is the event.Handler wired into the
// consumer.
func (h *OrderHandlers) Handle(ctx context.Context, env *domain.Envelope) error {
	return h.uow.Do(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		first, err := repos.ProcessedEvents.MarkProcessed(ctx, ConsumerGroupOrders, env.EventID, env.AggregateID)
		if err != nil {
			return err
		}
		if !first {
			h.log.Debug("skipping redelivered event",
				"event_id", env.EventID.String(),
				"event_type", env.EventType)
			return nil
		}

		svc := h.orders.WithRepos(repos)
		switch payload := env.Payload.(type) {
		case domain.StockReserved:
			return h.onStockReserved(ctx, svc, payload)
		case domain.StockReleased:
			return h.onStockReleased(ctx, svc, payload)
		case domain.PaymentCompleted:
			return h.onPaymentCompleted(ctx, svc, payload)
		case domain.PaymentFailed:
			return h.onPaymentFailed(ctx, svc, payload)
		case domain.OrderFailed:
			return h.onOrderFailed(ctx, svc, payload)
		default:
			h.log.Warn("unexpected event on order topics", "event_type", env.EventType)
			return nil
		}
	})
}

// onStockReserved confirms the order, records its holds and runs the
// payment step. The charge outcome comes back as a PaymentCompleted or
// PaymentFailed event.
func (h *OrderHandlers) onStockReserved(ctx context.Context, svc *service.OrderService, payload domain.StockReserved) error {
	orderID, err := domain.ParseOrderID(payload.OrderID)
	if err != nil {
		return err
	}

	reserved := make([]service.ReservedItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		productID, err := domain.ParseProductID(item.ProductID)
		if err != nil {
			return err
		}
		reservationID, err := domain.ParseReservationID(item.ReservationID)
		if err != nil {
			return err
		}
		reserved = append(reserved, service.ReservedItem{
			ProductID:   productID,
			Reservation: &domain.Reservation{ID: reservationID, OrderID: orderID},
		})
	}

	if _, err := svc.AttachReservations(ctx, orderID, reserved); err != nil {
		return err
	}
	if _, err := svc.BeginPayment(ctx, orderID); err != nil {
		return err
	}
	return svc.ChargeOrder(ctx, orderID)
}

// onStockReleased cancels the order when its reservation expired before
// payment. Releases for other reasons are compensations the order side
// already initiated.
func (h *OrderHandlers) onStockReleased(ctx context.Context, svc *service.OrderService, payload domain.StockReleased) error {
	if payload.ReleaseReason != domain.ReleaseReasonExpired {
		return nil
	}
	orderID, err := domain.ParseOrderID(payload.OrderID)
	if err != nil {
		return err
	}

	_, err = svc.CancelOrder(ctx, orderID, "reservation expired", domain.CancelledBySystem)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Already terminal, nothing left to cancel.
		h.log.Debug("expired reservation for settled order", "order_id", payload.OrderID)
		return nil
	}
	return err
}

func (h *OrderHandlers) onPaymentCompleted(ctx context.Context, svc *service.OrderService, payload domain.PaymentCompleted) error {
	orderID, err := domain.ParseOrderID(payload.OrderID)
	if err != nil {
		return err
	}
	paymentID, err := domain.ParsePaymentID(payload.PaymentID)
	if err != nil {
		return err
	}

	paidAt := payload.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	_, err = svc.MarkPaid(ctx, orderID, paymentID, paidAt)
	return err
}

// onPaymentFailed cancels the order so a decline compensates like any
// other cancellation. FAILED stays reserved for orders that never got
// their stock.
func (h *OrderHandlers) onPaymentFailed(ctx context.Context, svc *service.OrderService, payload domain.PaymentFailed) error {
	orderID, err := domain.ParseOrderID(payload.OrderID)
	if err != nil {
		return err
	}
	_, err = svc.CancelOrder(ctx, orderID, fmt.Sprintf("payment failed: %s", payload.Reason), domain.CancelledBySystem)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Already terminal, nothing left to cancel.
		h.log.Debug("payment failure for settled order", "order_id", payload.OrderID)
		return nil
	}
	return err
}

func (h *OrderHandlers) onOrderFailed(ctx context.Context, svc *service.OrderService, payload domain.OrderFailed) error {
	orderID, err := domain.ParseOrderID(payload.OrderID)
	if err != nil {
		return err
	}
	_, err = svc.FailOrder(ctx, orderID, payload.Reason)
	return err
}
