package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmart/core/internal/cache"
	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/internal/event"
	"github.com/fluxmart/core/internal/lock"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/pkg/logger"
	"github.com/fluxmart/core/pkg/retry"
)

func newInventoryFixture(t *testing.T) (*InventoryService, *repository.Repositories, *event.MemoryBus) {
	t.Helper()

	repos := repository.NewMemoryRepositories()
	locks := lock.NewMemoryLocker(&lock.Config{
		DefaultWait:   time.Second,
		DefaultLease:  5 * time.Second,
		RetryInterval: time.Millisecond,
	})
	cacheSvc := cache.NewService(cache.NewMemoryStore(), cache.NewMemoryBroadcaster(), cache.NewMemoryHotTracker(), nil, logger.Get())
	bus := event.NewMemoryBus()

	cfg := DefaultInventoryConfig()
	cfg.LockWait = time.Second
	cfg.LockLease = 5 * time.Second
	cfg.ConflictRetry = &retry.Config{MaxAttempts: 3, InitialInterval: time.Millisecond}

	return NewInventoryService(repos, locks, cacheSvc, bus, cfg), repos, bus
}

func createProduct(t *testing.T, svc *InventoryService, total, threshold int64) *domain.Product {
	t.Helper()
	p, err := svc.CreateProduct(context.Background(), "widget", domain.MustQuantity(total), domain.MustQuantity(threshold))
	require.NoError(t, err)
	return p
}

func TestInventoryService_Reserve(t *testing.T) {
	ctx := context.Background()
	svc, repos, _ := newInventoryFixture(t)
	p := createProduct(t, svc, 10, 2)

	res, err := svc.Reserve(ctx, p.ID, domain.NewOrderID(), domain.MustQuantity(3))
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationActive, res.State)

	stored, err := repos.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.Stock.Total.Int64())
	assert.Equal(t, int64(7), stored.Stock.Available.Int64())
	assert.Equal(t, int64(3), stored.Stock.Reserved.Int64())

	// The write-through cache serves the fresh counters
	view, err := svc.GetStock(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), view.Stock.Available.Int64())
}

func TestInventoryService_ReserveInsufficient(t *testing.T) {
	ctx := context.Background()
	svc, repos, _ := newInventoryFixture(t)
	p := createProduct(t, svc, 5, 1)

	_, err := svc.Reserve(ctx, p.ID, domain.NewOrderID(), domain.MustQuantity(6))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	stored, err := repos.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stored.Stock.Available.Int64())
}

func TestInventoryService_ConfirmAndRelease(t *testing.T) {
	ctx := context.Background()
	svc, repos, _ := newInventoryFixture(t)
	p := createProduct(t, svc, 10, 1)
	orderID := domain.NewOrderID()

	res, err := svc.Reserve(ctx, p.ID, orderID, domain.MustQuantity(4))
	require.NoError(t, err)

	confirmed, err := svc.ConfirmReservation(ctx, p.ID, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, confirmed.State)

	stored, err := repos.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stored.Stock.Total.Int64())
	assert.Equal(t, int64(6), stored.Stock.Available.Int64())
	assert.Equal(t, int64(0), stored.Stock.Reserved.Int64())

	// Releasing a confirmed hold is refused
	_, err = svc.ReleaseReservation(ctx, p.ID, res.ID, domain.ReleaseReasonOrderCancelled)
	assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)
}

func TestInventoryService_ReserveBatch(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newInventoryFixture(t)
	a := createProduct(t, svc, 10, 1)
	b := createProduct(t, svc, 10, 1)

	items, err := svc.ReserveBatch(ctx, domain.NewOrderID(), []ReserveLine{
		{ProductID: a.ID, Quantity: domain.MustQuantity(2)},
		{ProductID: b.ID, Quantity: domain.MustQuantity(3)},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, domain.ReservationActive, item.Reservation.State)
	}
}

func TestInventoryService_ReserveBatchRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, repos, _ := newInventoryFixture(t)
	a := createProduct(t, svc, 10, 1)
	b := createProduct(t, svc, 2, 1)

	_, err := svc.ReserveBatch(ctx, domain.NewOrderID(), []ReserveLine{
		{ProductID: a.ID, Quantity: domain.MustQuantity(5)},
		{ProductID: b.ID, Quantity: domain.MustQuantity(3)},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	// The hold taken on the first product was rolled back
	storedA, err := repos.Products.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), storedA.Stock.Available.Int64())
	assert.Equal(t, int64(0), storedA.Stock.Reserved.Int64())

	storedB, err := repos.Products.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), storedB.Stock.Available.Int64())
}

func TestInventoryService_ConcurrentReserves(t *testing.T) {
	ctx := context.Background()
	svc, repos, _ := newInventoryFixture(t)
	p := createProduct(t, svc, 15, 0)

	var ok, insufficient atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(ctx, p.ID, domain.NewOrderID(), domain.MustQuantity(1))
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, domain.ErrInsufficientStock):
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(15), ok.Load())
	assert.Equal(t, int64(5), insufficient.Load())

	stored, err := repos.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Stock.Available.Int64())
	assert.Equal(t, int64(15), stored.Stock.Reserved.Int64())
	assert.Equal(t, int64(15), stored.Stock.Total.Int64())
}

func TestInventoryService_LowStockAlertFiresOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, bus := newInventoryFixture(t)
	p := createProduct(t, svc, 10, 5)

	_, err := svc.Reserve(ctx, p.ID, domain.NewOrderID(), domain.MustQuantity(6))
	require.NoError(t, err)
	require.Len(t, bus.PublishedOfType(domain.EventTypeLowStockAlert), 1)

	// Already below threshold, no repeat alert
	_, err = svc.Reserve(ctx, p.ID, domain.NewOrderID(), domain.MustQuantity(1))
	require.NoError(t, err)
	assert.Len(t, bus.PublishedOfType(domain.EventTypeLowStockAlert), 1)
}

func TestInventoryService_Adjust(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newInventoryFixture(t)
	p := createProduct(t, svc, 10, 1)

	updated, err := svc.Adjust(ctx, p.ID, 5, domain.AdjustmentInbound)
	require.NoError(t, err)
	assert.Equal(t, int64(15), updated.Stock.Total.Int64())

	_, err = svc.Adjust(ctx, p.ID, -20, domain.AdjustmentLoss)
	assert.ErrorIs(t, err, domain.ErrStockInvariant)
}

func TestInventoryService_SweepExpired(t *testing.T) {
	ctx := context.Background()
	svc, repos, _ := newInventoryFixture(t)

	cfg := DefaultInventoryConfig()
	cfg.ReservationTTL = time.Millisecond
	cfg.ConflictRetry = &retry.Config{MaxAttempts: 3, InitialInterval: time.Millisecond}
	short := NewInventoryService(repos, lock.NewMemoryLocker(nil), nil, nil, cfg)

	p := createProduct(t, svc, 10, 1)
	_, err := short.Reserve(ctx, p.ID, domain.NewOrderID(), domain.MustQuantity(4))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	expired, err := short.SweepExpired(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, domain.ReservationExpired, expired[0].State)

	stored, err := repos.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.Stock.Available.Int64())
}
