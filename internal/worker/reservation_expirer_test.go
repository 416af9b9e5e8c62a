package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/internal/event"
	"github.com/fluxmart/core/internal/lock"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/internal/service"
	"github.com/fluxmart/core/pkg/retry"
)

func newExpirerFixture(t *testing.T, ttl time.Duration) (*ReservationExpirer, *service.InventoryService, *repository.Repositories, *event.MemoryBus) {
	t.Helper()

	repos := repository.NewMemoryRepositories()
	bus := event.NewMemoryBus()
	locks := lock.NewMemoryLocker(&lock.Config{
		DefaultWait:   time.Second,
		DefaultLease:  5 * time.Second,
		RetryInterval: time.Millisecond,
	})

	cfg := service.DefaultInventoryConfig()
	cfg.ReservationTTL = ttl
	cfg.ConflictRetry = &retry.Config{MaxAttempts: 3, InitialInterval: time.Millisecond}
	inventory := service.NewInventoryService(repos, locks, nil, bus, cfg)

	expirer := NewReservationExpirer(repos.Products, inventory, bus, &ExpirerConfig{
		ScanInterval: 10 * time.Millisecond,
		BatchSize:    100,
	})
	return expirer, inventory, repos, bus
}

func TestReservationExpirer_Sweep(t *testing.T) {
	ctx := context.Background()
	expirer, inventory, repos, bus := newExpirerFixture(t, time.Millisecond)

	p, err := inventory.CreateProduct(ctx, "widget", domain.MustQuantity(10), domain.MustQuantity(0))
	require.NoError(t, err)

	orderID := domain.NewOrderID()
	res, err := inventory.Reserve(ctx, p.ID, orderID, domain.MustQuantity(4))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	expirer.sweep(ctx)

	stored, err := repos.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.Stock.Available.Int64())
	assert.Equal(t, int64(0), stored.Stock.Reserved.Int64())

	released := bus.PublishedOfType(domain.EventTypeStockReleased)
	require.Len(t, released, 1)
	payload := released[0].Payload.(domain.StockReleased)
	assert.Equal(t, domain.ReleaseReasonExpired, payload.ReleaseReason)
	assert.Equal(t, orderID.String(), payload.OrderID)
	assert.Equal(t, res.ID.String(), payload.ReservationID)
	assert.Equal(t, orderID.String(), released[0].AggregateID)

	stats := expirer.Stats()
	assert.Equal(t, int64(1), stats.TotalExpired)
	assert.Equal(t, 1, stats.LastExpiredCount)
}

func TestReservationExpirer_SweepSkipsFreshHolds(t *testing.T) {
	ctx := context.Background()
	expirer, inventory, repos, bus := newExpirerFixture(t, time.Hour)

	p, err := inventory.CreateProduct(ctx, "widget", domain.MustQuantity(10), domain.MustQuantity(0))
	require.NoError(t, err)
	_, err = inventory.Reserve(ctx, p.ID, domain.NewOrderID(), domain.MustQuantity(4))
	require.NoError(t, err)

	expirer.sweep(ctx)

	stored, err := repos.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.Stock.Reserved.Int64())
	assert.Empty(t, bus.PublishedOfType(domain.EventTypeStockReleased))
}

func TestReservationExpirer_StartStop(t *testing.T) {
	ctx := context.Background()
	expirer, inventory, repos, _ := newExpirerFixture(t, time.Millisecond)

	p, err := inventory.CreateProduct(ctx, "widget", domain.MustQuantity(10), domain.MustQuantity(0))
	require.NoError(t, err)
	_, err = inventory.Reserve(ctx, p.ID, domain.NewOrderID(), domain.MustQuantity(2))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, expirer.Start(ctx))
	assert.Error(t, expirer.Start(ctx), "second start is rejected")

	assert.Eventually(t, func() bool {
		stored, err := repos.Products.GetByID(ctx, p.ID)
		return err == nil && stored.Stock.Reserved.Int64() == 0
	}, time.Second, 5*time.Millisecond)

	expirer.Stop()
	assert.False(t, expirer.Stats().IsRunning)
	expirer.Stop() // second stop is a no-op
}

func TestMaintenanceWorker_PurgesProcessedEvents(t *testing.T) {
	ctx := context.Background()
	repos := repository.NewMemoryRepositories()

	eventID := domain.NewEventID()
	_, err := repos.ProcessedEvents.MarkProcessed(ctx, "orders", eventID, "agg-1")
	require.NoError(t, err)

	w := NewMaintenanceWorker(nil, repos.ProcessedEvents, &MaintenanceConfig{
		Interval:           10 * time.Millisecond,
		HotKeyTTL:          time.Minute,
		ProcessedRetention: -time.Second,
	})
	w.run(ctx)

	seen, err := repos.ProcessedEvents.IsProcessed(ctx, "orders", eventID, "agg-1")
	require.NoError(t, err)
	assert.False(t, seen)
}
