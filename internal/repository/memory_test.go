package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmart/core/internal/domain"
)

func TestMemoryProductRepository_OptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProductRepository()

	p := domain.NewProduct("widget", domain.MustQuantity(10), domain.MustQuantity(2))
	require.NoError(t, repo.Create(ctx, p))

	// Two readers load the same version
	a, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	b, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = a.Reserve(domain.NewOrderID(), domain.MustQuantity(1), domain.DefaultReservationTTL, now)
	require.NoError(t, err)
	_, err = b.Reserve(domain.NewOrderID(), domain.MustQuantity(1), domain.DefaultReservationTTL, now)
	require.NoError(t, err)

	require.NoError(t, repo.Update(ctx, a, 1))
	err = repo.Update(ctx, b, 1)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), stored.Stock.Available.Int64())
	assert.Len(t, stored.Reservations, 1)
}

func TestMemoryProductRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProductRepository()

	p := domain.NewProduct("widget", domain.MustQuantity(10), domain.MustQuantity(2))
	require.NoError(t, repo.Create(ctx, p))

	loaded, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	_, err = loaded.Reserve(domain.NewOrderID(), domain.MustQuantity(5), domain.DefaultReservationTTL, time.Now())
	require.NoError(t, err)

	// Mutating the loaded copy must not leak into the store
	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.Stock.Available.Int64())
	assert.Empty(t, stored.Reservations)
}

func TestMemoryProductRepository_ProductsWithExpiredReservations(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProductRepository()
	now := time.Now().UTC()

	withExpired := domain.NewProduct("a", domain.MustQuantity(10), domain.MustQuantity(1))
	_, err := withExpired.Reserve(domain.NewOrderID(), domain.MustQuantity(1), time.Millisecond, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, withExpired))

	fresh := domain.NewProduct("b", domain.MustQuantity(10), domain.MustQuantity(1))
	_, err = fresh.Reserve(domain.NewOrderID(), domain.MustQuantity(1), time.Hour, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, fresh))

	ids, err := repo.ProductsWithExpiredReservations(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, withExpired.ID, ids[0])
}

func TestMemoryProductRepository_ReservationsForOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProductRepository()
	now := time.Now().UTC()
	orderID := domain.NewOrderID()

	p := domain.NewProduct("widget", domain.MustQuantity(10), domain.MustQuantity(1))
	active, err := p.Reserve(orderID, domain.MustQuantity(2), domain.DefaultReservationTTL, now)
	require.NoError(t, err)
	confirmed, err := p.Reserve(orderID, domain.MustQuantity(3), domain.DefaultReservationTTL, now)
	require.NoError(t, err)
	require.NoError(t, p.ConfirmReservation(confirmed.ID, now))
	_, err = p.Reserve(domain.NewOrderID(), domain.MustQuantity(1), domain.DefaultReservationTTL, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, p))

	activeHolds, err := repo.ActiveReservationsForOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, activeHolds, 1)
	assert.Equal(t, active.ID, activeHolds[0].ReservationID)

	confirmedHolds, err := repo.ConfirmedReservationsForOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, confirmedHolds, 1)
	assert.Equal(t, confirmed.ID, confirmedHolds[0].ReservationID)
	assert.Equal(t, p.ID, confirmedHolds[0].ProductID)
}

func TestMemoryOrderRepository_FindDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()

	customerID := domain.NewCustomerID()
	items := []domain.OrderItem{{
		ProductID: domain.NewProductID(),
		Quantity:  domain.MustQuantity(1),
		UnitPrice: domain.MustMoney("5.00", "USD"),
	}}
	o, err := domain.NewOrder(customerID, items)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, o))

	found, err := repo.FindDuplicate(ctx, customerID, o.ContentHash, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, o.ID, found.ID)

	// Outside the window
	_, err = repo.FindDuplicate(ctx, customerID, o.ContentHash, time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	// Terminal orders are not duplicates
	require.NoError(t, o.Fail("no stock"))
	require.NoError(t, repo.Update(ctx, o, 1))
	_, err = repo.FindDuplicate(ctx, customerID, o.ContentHash, time.Now().Add(-5*time.Minute))
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMemoryOrderRepository_OptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()

	o, err := domain.NewOrder(domain.NewCustomerID(), []domain.OrderItem{{
		ProductID: domain.NewProductID(),
		Quantity:  domain.MustQuantity(1),
		UnitPrice: domain.MustMoney("5.00", "USD"),
	}})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, o))

	loaded, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	require.NoError(t, loaded.Confirm())
	require.NoError(t, repo.Update(ctx, loaded, 1))

	// A stale writer loses
	require.NoError(t, o.Confirm())
	err = repo.Update(ctx, o, 1)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestMemoryProcessedEventRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProcessedEventRepository()

	eventID := domain.NewEventID()

	first, err := repo.MarkProcessed(ctx, "orders", eventID, "agg-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := repo.MarkProcessed(ctx, "orders", eventID, "agg-1")
	require.NoError(t, err)
	assert.False(t, again, "redelivery is detected")

	// Same event against a different aggregate is distinct
	other, err := repo.MarkProcessed(ctx, "orders", eventID, "agg-2")
	require.NoError(t, err)
	assert.True(t, other)

	// Another consumer group keeps its own log
	inventory, err := repo.MarkProcessed(ctx, "inventory", eventID, "agg-1")
	require.NoError(t, err)
	assert.True(t, inventory)

	seen, err := repo.IsProcessed(ctx, "orders", eventID, "agg-1")
	require.NoError(t, err)
	assert.True(t, seen)

	purged, err := repo.PurgeOlderThan(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)
}
