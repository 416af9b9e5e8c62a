package repository

import (
	"context"
	"time"

	"github.com/fluxmart/core/internal/domain"
)

// ProductRepository persists the product aggregate, reservations
// included. Updates are optimistic: the caller passes the version the
// aggregate was loaded at and a lost race surfaces as
// domain.ErrConcurrencyConflict.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	GetByID(ctx context.Context, id domain.ProductID) (*domain.Product, error)
	// Update persists the full aggregate conditional on expectedVersion
	Update(ctx context.Context, product *domain.Product, expectedVersion int64) error
	// ProductsWithExpiredReservations lists products holding ACTIVE
	// reservations past their deadline, for the expirer sweep.
	ProductsWithExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.ProductID, error)
	// ActiveReservationsForOrder lists the ACTIVE holds an order placed,
	// for saga compensation.
	ActiveReservationsForOrder(ctx context.Context, orderID domain.OrderID) ([]OrderReservation, error)
	// ConfirmedReservationsForOrder lists the CONFIRMED (already
	// deducted) reservations of an order, for stock return when the
	// order is cancelled after payment.
	ConfirmedReservationsForOrder(ctx context.Context, orderID domain.OrderID) ([]OrderReservation, error)
}

// OrderReservation locates one reservation within its product aggregate
type OrderReservation struct {
	ProductID     domain.ProductID
	ReservationID domain.ReservationID
}

// OrderRepository persists the order aggregate
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	Update(ctx context.Context, order *domain.Order, expectedVersion int64) error
	// FindDuplicate looks for a non-terminal order with the same
	// customer and content hash created at or after since. Returns
	// domain.ErrOrderNotFound when there is none.
	FindDuplicate(ctx context.Context, customerID domain.CustomerID, contentHash string, since time.Time) (*domain.Order, error)
	// GetByIdempotencyKey resolves a client-supplied idempotency key
	GetByIdempotencyKey(ctx context.Context, customerID domain.CustomerID, key string) (*domain.Order, error)
}

// ProcessedEventRepository is the consumer idempotence log. A row per
// (consumerGroup, eventId, aggregateId) is written in the same
// transaction as the handler's state change, so a redelivered event is
// detected even when the crash happened between commit and offset
// commit. The group dimension keeps consumers that share a database
// from shadowing each other.
type ProcessedEventRepository interface {
	// MarkProcessed records the triple; returns false when it was
	// already recorded.
	MarkProcessed(ctx context.Context, group string, eventID domain.EventID, aggregateID string) (bool, error)
	IsProcessed(ctx context.Context, group string, eventID domain.EventID, aggregateID string) (bool, error)
	// PurgeOlderThan trims entries past the retention window
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories bundles the repository set bound to one store or one
// open transaction.
type Repositories struct {
	Products        ProductRepository
	Orders          OrderRepository
	ProcessedEvents ProcessedEventRepository
}

// UnitOfWork runs a function with a Repositories set bound to a single
// transaction. The transaction commits when fn returns nil and rolls
// back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error
}
