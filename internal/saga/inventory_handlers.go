package saga

import (
	"context"
	"time"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/internal/event"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/internal/service"
	"github.com/fluxmart/core/pkg/logger"
)

// SourceInventoryService tags events published by the inventory context
const SourceInventoryService = "inventory-service"

// InventoryHandlers is the inventory-side saga participant. It reserves
// stock for new orders, converts holds into deductions on payment, and
// releases them on cancellation or payment failure.
type InventoryHandlers struct {
	uow       repository.UnitOfWork
	inventory *service.InventoryService
	publisher event.Publisher
	log       *logger.Logger
}

// NewInventoryHandlers creates the inventory-side saga participant
func NewInventoryHandlers(uow repository.UnitOfWork, inventory *service.InventoryService, publisher event.Publisher) *InventoryHandlers {
	return &InventoryHandlers{
		uow:       uow,
		inventory: inventory,
		publisher: publisher,
		log:       logger.Get().With("component", "inventory-saga"),
	}
}

// Topics lists the subscriptions of the inventory-side consumer
func (h *InventoryHandlers) Topics() []string { return event.InventoryTopics() }

// Handle dispatches one event inside a transaction shared with the
// processed-event row.
func (h *InventoryHandlers) Handle(ctx context.Context, env *domain.Envelope) error {
	return h.uow.Do(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		first, err := repos.ProcessedEvents.MarkProcessed(ctx, ConsumerGroupInventory, env.EventID, env.AggregateID)
		if err != nil {
			return err
		}
		if !first {
			h.log.Debug("skipping redelivered event",
				"event_id", env.EventID.String(),
				"event_type", env.EventType)
			return nil
		}

		svc := h.inventory.WithRepos(repos)
		switch payload := env.Payload.(type) {
		case domain.OrderCreated:
			return h.onOrderCreated(ctx, repos, svc, payload, env.CorrelationID)
		case domain.OrderCancelled:
			return h.onOrderCancelled(ctx, repos, svc, payload, env.CorrelationID)
		case domain.PaymentCompleted:
			return h.onPaymentCompleted(ctx, repos, svc, payload, env.CorrelationID)
		case domain.PaymentFailed:
			return h.onPaymentFailed(ctx, repos, svc, payload, env.CorrelationID)
		default:
			h.log.Warn("unexpected event on inventory topics", "event_type", env.EventType)
			return nil
		}
	})
}

// onOrderCreated reserves every line of the order, all or nothing. An
// order that cannot be fulfilled fails the saga with an OrderFailed
// event instead of an error: the outcome is final, not retryable.
func (h *InventoryHandlers) onOrderCreated(ctx context.Context, repos *repository.Repositories, svc *service.InventoryService, payload domain.OrderCreated, correlationID string) error {
	orderID, err := domain.ParseOrderID(payload.OrderID)
	if err != nil {
		return err
	}

	lines := make([]service.ReserveLine, 0, len(payload.Items))
	for _, item := range payload.Items {
		productID, err := domain.ParseProductID(item.ProductID)
		if err != nil {
			return err
		}
		lines = append(lines, service.ReserveLine{ProductID: productID, Quantity: item.Quantity})
	}

	reserved, err := svc.ReserveBatch(ctx, orderID, lines)
	if err != nil {
		if domain.IsBusinessRuleError(err) || domain.IsNotFoundError(err) {
			h.log.Info("order cannot be fulfilled",
				"order_id", payload.OrderID,
				"reason", err.Error())
			return h.publish(ctx, payload.OrderID, correlationID, domain.OrderFailed{
				OrderID: payload.OrderID,
				Reason:  err.Error(),
			})
		}
		return err
	}

	items := make([]domain.StockItem, 0, len(reserved))
	for _, r := range reserved {
		items = append(items, domain.StockItem{
			ProductID:     r.ProductID.String(),
			Quantity:      r.Reservation.Quantity,
			WarehouseID:   r.Reservation.WarehouseID,
			ReservationID: r.Reservation.ID.String(),
		})
	}
	return h.publish(ctx, payload.OrderID, correlationID, domain.StockReserved{
		InventoryID:   domain.DefaultWarehouseID,
		ReservationID: reserved[0].Reservation.ID.String(),
		OrderID:       payload.OrderID,
		Items:         items,
		ExpiresAt:     reserved[0].Reservation.ExpiresAt,
	})
}

// onOrderCancelled undoes the order's claim on stock: ACTIVE holds go
// back to availability, and CONFIRMED holds whose quantity was already
// deducted are returned to the ledger.
func (h *InventoryHandlers) onOrderCancelled(ctx context.Context, repos *repository.Repositories, svc *service.InventoryService, payload domain.OrderCancelled, correlationID string) error {
	items, err := h.releaseForOrder(ctx, repos, svc, payload.OrderID, domain.ReleaseReasonOrderCancelled)
	if err != nil {
		return err
	}
	returned, err := h.returnForOrder(ctx, repos, svc, payload.OrderID)
	if err != nil {
		return err
	}
	items = append(items, returned...)
	if len(items) == 0 {
		return nil
	}
	return h.publish(ctx, payload.OrderID, correlationID, domain.StockReleased{
		InventoryID:    domain.DefaultWarehouseID,
		ReservationID:  items[0].ReservationID,
		OrderID:        payload.OrderID,
		ReleaseReason:  domain.ReleaseReasonOrderCancelled,
		Items:          items,
		ReleasedBy:     payload.CancelledBy,
		ReleasedByType: payload.CancelledByType,
	})
}

// onPaymentCompleted converts the order's holds into deductions
func (h *InventoryHandlers) onPaymentCompleted(ctx context.Context, repos *repository.Repositories, svc *service.InventoryService, payload domain.PaymentCompleted, correlationID string) error {
	orderID, err := domain.ParseOrderID(payload.OrderID)
	if err != nil {
		return err
	}
	holds, err := repos.Products.ActiveReservationsForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if len(holds) == 0 {
		return nil
	}

	items := make([]domain.StockItem, 0, len(holds))
	for _, hold := range holds {
		res, err := svc.ConfirmReservation(ctx, hold.ProductID, hold.ReservationID)
		if err != nil {
			return err
		}
		items = append(items, domain.StockItem{
			ProductID:     hold.ProductID.String(),
			Quantity:      res.Quantity,
			WarehouseID:   res.WarehouseID,
			ReservationID: res.ID.String(),
		})
	}
	return h.publish(ctx, payload.OrderID, correlationID, domain.StockDeducted{
		InventoryID:   domain.DefaultWarehouseID,
		ReservationID: items[0].ReservationID,
		OrderID:       payload.OrderID,
		Items:         items,
		DeductedAt:    time.Now().UTC(),
	})
}

func (h *InventoryHandlers) onPaymentFailed(ctx context.Context, repos *repository.Repositories, svc *service.InventoryService, payload domain.PaymentFailed, correlationID string) error {
	items, err := h.releaseForOrder(ctx, repos, svc, payload.OrderID, domain.ReleaseReasonPaymentFailed)
	if err != nil || len(items) == 0 {
		return err
	}
	return h.publish(ctx, payload.OrderID, correlationID, domain.StockReleased{
		InventoryID:    domain.DefaultWarehouseID,
		ReservationID:  items[0].ReservationID,
		OrderID:        payload.OrderID,
		ReleaseReason:  domain.ReleaseReasonPaymentFailed,
		Items:          items,
		ReleasedBy:     "system",
		ReleasedByType: string(domain.CancelledBySystem),
	})
}

// releaseForOrder returns every ACTIVE hold of the order to
// availability. Holds already released or expired are skipped, so the
// compensation is idempotent.
func (h *InventoryHandlers) releaseForOrder(ctx context.Context, repos *repository.Repositories, svc *service.InventoryService, orderIDStr string, reason domain.ReleaseReason) ([]domain.StockItem, error) {
	orderID, err := domain.ParseOrderID(orderIDStr)
	if err != nil {
		return nil, err
	}
	holds, err := repos.Products.ActiveReservationsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var items []domain.StockItem
	for _, hold := range holds {
		res, err := svc.ReleaseReservation(ctx, hold.ProductID, hold.ReservationID, reason)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.StockItem{
			ProductID:     hold.ProductID.String(),
			Quantity:      res.Quantity,
			WarehouseID:   res.WarehouseID,
			ReservationID: res.ID.String(),
		})
	}
	return items, nil
}

// returnForOrder restores the quantity of every CONFIRMED hold of the
// order. ReturnReservation is a no-op on holds already returned, so the
// compensation is idempotent.
func (h *InventoryHandlers) returnForOrder(ctx context.Context, repos *repository.Repositories, svc *service.InventoryService, orderIDStr string) ([]domain.StockItem, error) {
	orderID, err := domain.ParseOrderID(orderIDStr)
	if err != nil {
		return nil, err
	}
	deducted, err := repos.Products.ConfirmedReservationsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var items []domain.StockItem
	for _, hold := range deducted {
		res, err := svc.ReturnReservation(ctx, hold.ProductID, hold.ReservationID)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.StockItem{
			ProductID:     hold.ProductID.String(),
			Quantity:      res.Quantity,
			WarehouseID:   res.WarehouseID,
			ReservationID: res.ID.String(),
		})
	}
	return items, nil
}

func (h *InventoryHandlers) publish(ctx context.Context, orderID, correlationID string, payload domain.EventPayload) error {
	env := domain.NewEnvelope(payload, orderID, domain.AggregateOrder, correlationID, SourceInventoryService)
	return h.publisher.Publish(ctx, env)
}
