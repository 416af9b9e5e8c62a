package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/internal/event"
	"github.com/fluxmart/core/internal/gateway"
	"github.com/fluxmart/core/internal/lock"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/internal/service"
	"github.com/fluxmart/core/pkg/retry"
)

type sagaFixture struct {
	bus       *event.MemoryBus
	repos     *repository.Repositories
	inventory *service.InventoryService
	orders    *service.OrderService
	gw        *gateway.MockGateway

	orderHandlers     *OrderHandlers
	inventoryHandlers *InventoryHandlers
}

type fixtureOpts struct {
	successRate     float64
	reservationTTL  time.Duration
	subscribeOrders bool
}

func newSagaFixture(t *testing.T, opts fixtureOpts) *sagaFixture {
	t.Helper()

	repos := repository.NewMemoryRepositories()
	uow := repository.NewMemoryUnitOfWork(repos)
	bus := event.NewMemoryBus()
	locks := lock.NewMemoryLocker(&lock.Config{
		DefaultWait:   time.Second,
		DefaultLease:  5 * time.Second,
		RetryInterval: time.Millisecond,
	})

	invCfg := service.DefaultInventoryConfig()
	invCfg.ConflictRetry = &retry.Config{MaxAttempts: 3, InitialInterval: time.Millisecond}
	if opts.reservationTTL > 0 {
		invCfg.ReservationTTL = opts.reservationTTL
	}
	inventory := service.NewInventoryService(repos, locks, nil, bus, invCfg)

	gw := gateway.NewMockGateway(&gateway.MockGatewayConfig{SuccessRate: opts.successRate})
	ordCfg := service.DefaultOrderConfig()
	ordCfg.ConflictRetry = &retry.Config{MaxAttempts: 3, InitialInterval: time.Millisecond}
	orders := service.NewOrderService(repos, bus, gw, ordCfg)

	f := &sagaFixture{
		bus:               bus,
		repos:             repos,
		inventory:         inventory,
		orders:            orders,
		gw:                gw,
		orderHandlers:     NewOrderHandlers(uow, orders),
		inventoryHandlers: NewInventoryHandlers(uow, inventory, bus),
	}
	bus.Subscribe(f.inventoryHandlers.Handle, f.inventoryHandlers.Topics()...)
	if opts.subscribeOrders {
		bus.Subscribe(f.orderHandlers.Handle, f.orderHandlers.Topics()...)
	}
	return f
}

func (f *sagaFixture) createProduct(t *testing.T, total int64) *domain.Product {
	t.Helper()
	p, err := f.inventory.CreateProduct(context.Background(), "widget", domain.MustQuantity(total), domain.MustQuantity(0))
	require.NoError(t, err)
	return p
}

func (f *sagaFixture) createOrder(t *testing.T, productID domain.ProductID, qty int64) *domain.Order {
	t.Helper()
	o, err := f.orders.CreateOrder(context.Background(), domain.NewCustomerID(), []domain.OrderItem{{
		ProductID: productID,
		Quantity:  domain.MustQuantity(qty),
		UnitPrice: domain.MustMoney("10.00", "USD"),
	}}, "")
	require.NoError(t, err)
	return o
}

func (f *sagaFixture) stock(t *testing.T, id domain.ProductID) domain.Stock {
	t.Helper()
	p, err := f.repos.Products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (f *sagaFixture) orderStatus(t *testing.T, id domain.OrderID) domain.OrderStatus {
	t.Helper()
	o, err := f.repos.Orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func TestSaga_HappyPath(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, fixtureOpts{successRate: 1, subscribeOrders: true})
	p := f.createProduct(t, 100)

	o := f.createOrder(t, p.ID, 3)
	require.NoError(t, f.bus.Drain(ctx))

	assert.Equal(t, domain.OrderStatusPaid, f.orderStatus(t, o.ID))
	stored, err := f.repos.Orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.PaymentID)
	assert.NotNil(t, stored.PaidAt)

	stock := f.stock(t, p.ID)
	assert.Equal(t, int64(97), stock.Total.Int64())
	assert.Equal(t, int64(97), stock.Available.Int64())
	assert.Equal(t, int64(0), stock.Reserved.Int64())

	assert.Len(t, f.bus.PublishedOfType(domain.EventTypeStockReserved), 1)
	assert.Len(t, f.bus.PublishedOfType(domain.EventTypePaymentCompleted), 1)
	assert.Len(t, f.bus.PublishedOfType(domain.EventTypeStockDeducted), 1)
	assert.Empty(t, f.bus.PublishedOfType(domain.EventTypeOrderFailed))
	assert.Empty(t, f.bus.DLQ(event.TopicOrderCreated))
}

func TestSaga_InsufficientStock(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, fixtureOpts{successRate: 1, subscribeOrders: true})
	p := f.createProduct(t, 2)

	o := f.createOrder(t, p.ID, 5)
	require.NoError(t, f.bus.Drain(ctx))

	assert.Equal(t, domain.OrderStatusFailed, f.orderStatus(t, o.ID))

	stock := f.stock(t, p.ID)
	assert.Equal(t, int64(2), stock.Total.Int64())
	assert.Equal(t, int64(2), stock.Available.Int64())

	failed := f.bus.PublishedOfType(domain.EventTypeOrderFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Payload.(domain.OrderFailed).Reason, "insufficient stock")
	assert.Empty(t, f.bus.PublishedOfType(domain.EventTypeStockReserved))
	assert.Empty(t, f.bus.DLQ(event.TopicOrderCreated), "a failed order is an outcome, not a poison message")
}

func TestSaga_ConcurrentOrdersNeverOversell(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, fixtureOpts{successRate: 1, subscribeOrders: true})
	p := f.createProduct(t, 15)

	orderIDs := make([]domain.OrderID, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := f.createOrder(t, p.ID, 1)
			orderIDs[i] = o.ID
		}(i)
	}
	wg.Wait()
	require.NoError(t, f.bus.Drain(ctx))

	paid, failed := 0, 0
	for _, id := range orderIDs {
		switch f.orderStatus(t, id) {
		case domain.OrderStatusPaid:
			paid++
		case domain.OrderStatusFailed:
			failed++
		}
	}
	assert.Equal(t, 15, paid)
	assert.Equal(t, 5, failed)

	stock := f.stock(t, p.ID)
	assert.Equal(t, int64(0), stock.Total.Int64())
	assert.Equal(t, int64(0), stock.Available.Int64())
	assert.Equal(t, int64(0), stock.Reserved.Int64())
}

func TestSaga_PaymentDeclinedReleasesStock(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, fixtureOpts{successRate: 0, subscribeOrders: true})
	p := f.createProduct(t, 10)

	o := f.createOrder(t, p.ID, 4)
	require.NoError(t, f.bus.Drain(ctx))

	// A decline is a cancellation by the system, not a failed order.
	assert.Equal(t, domain.OrderStatusCancelled, f.orderStatus(t, o.ID))
	stored, err := f.repos.Orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CancelledBySystem, stored.CancelledBy)

	stock := f.stock(t, p.ID)
	assert.Equal(t, int64(10), stock.Total.Int64())
	assert.Equal(t, int64(10), stock.Available.Int64())
	assert.Equal(t, int64(0), stock.Reserved.Int64())

	released := f.bus.PublishedOfType(domain.EventTypeStockReleased)
	require.Len(t, released, 1)
	assert.Equal(t, domain.ReleaseReasonPaymentFailed, released[0].Payload.(domain.StockReleased).ReleaseReason)
	assert.Empty(t, f.bus.PublishedOfType(domain.EventTypeStockDeducted))
}

func TestSaga_CancelBeforePaymentReleasesStock(t *testing.T) {
	ctx := context.Background()
	// Inventory side only: the order stays PENDING with stock held.
	f := newSagaFixture(t, fixtureOpts{successRate: 1, subscribeOrders: false})
	p := f.createProduct(t, 10)

	o := f.createOrder(t, p.ID, 4)
	require.NoError(t, f.bus.Drain(ctx))
	require.Equal(t, int64(4), f.stock(t, p.ID).Reserved.Int64())

	_, err := f.orders.CancelOrder(ctx, o.ID, "changed my mind", domain.CancelledByCustomer)
	require.NoError(t, err)
	require.NoError(t, f.bus.Drain(ctx))

	assert.Equal(t, domain.OrderStatusCancelled, f.orderStatus(t, o.ID))
	stock := f.stock(t, p.ID)
	assert.Equal(t, int64(10), stock.Available.Int64())
	assert.Equal(t, int64(0), stock.Reserved.Int64())

	released := f.bus.PublishedOfType(domain.EventTypeStockReleased)
	require.Len(t, released, 1)
	assert.Equal(t, domain.ReleaseReasonOrderCancelled, released[0].Payload.(domain.StockReleased).ReleaseReason)
}

func TestSaga_CancelPaidOrderRefundsAndRestocks(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, fixtureOpts{successRate: 1, subscribeOrders: true})
	p := f.createProduct(t, 10)

	o := f.createOrder(t, p.ID, 4)
	require.NoError(t, f.bus.Drain(ctx))
	require.Equal(t, domain.OrderStatusPaid, f.orderStatus(t, o.ID))

	_, err := f.orders.CancelOrder(ctx, o.ID, "defective", domain.CancelledByCustomer)
	require.NoError(t, err)
	require.NoError(t, f.bus.Drain(ctx))

	assert.Equal(t, domain.OrderStatusCancelled, f.orderStatus(t, o.ID))

	stored, err := f.repos.Orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentID)
	assert.True(t, f.gw.Refunded(stored.PaymentID.String()))

	// The deducted holds go back into the ledger alongside the refund.
	stock := f.stock(t, p.ID)
	assert.Equal(t, int64(10), stock.Total.Int64())
	assert.Equal(t, int64(10), stock.Available.Int64())
	assert.Equal(t, int64(0), stock.Reserved.Int64())

	released := f.bus.PublishedOfType(domain.EventTypeStockReleased)
	require.Len(t, released, 1)
	assert.Equal(t, domain.ReleaseReasonOrderCancelled, released[0].Payload.(domain.StockReleased).ReleaseReason)
}

func TestSaga_ExpiredReservationCancelsOrder(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, fixtureOpts{
		successRate:     1,
		reservationTTL:  time.Millisecond,
		subscribeOrders: false,
	})
	p := f.createProduct(t, 10)

	o := f.createOrder(t, p.ID, 4)
	require.NoError(t, f.bus.Drain(ctx))
	require.Equal(t, int64(4), f.stock(t, p.ID).Reserved.Int64())

	time.Sleep(5 * time.Millisecond)

	// What the reservation expirer does on its tick.
	expired, err := f.inventory.SweepExpired(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	env := domain.NewEnvelope(domain.StockReleased{
		InventoryID:    domain.DefaultWarehouseID,
		ReservationID:  expired[0].ID.String(),
		OrderID:        o.ID.String(),
		ReleaseReason:  domain.ReleaseReasonExpired,
		ReleasedBy:     "system",
		ReleasedByType: string(domain.CancelledBySystem),
	}, o.ID.String(), domain.AggregateOrder, o.ID.String(), SourceInventoryService)
	require.NoError(t, f.bus.Publish(ctx, env))

	f.bus.Subscribe(f.orderHandlers.Handle, f.orderHandlers.Topics()...)
	require.NoError(t, f.bus.Drain(ctx))

	stored, err := f.repos.Orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.Equal(t, domain.CancelledBySystem, stored.CancelledBy)

	stock := f.stock(t, p.ID)
	assert.Equal(t, int64(10), stock.Available.Int64())
	assert.Equal(t, int64(0), stock.Reserved.Int64())
}

func TestSaga_RedeliveredEventIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, fixtureOpts{successRate: 1, subscribeOrders: true})
	p := f.createProduct(t, 10)

	o := f.createOrder(t, p.ID, 2)
	created := f.bus.PublishedOfType(domain.EventTypeOrderCreated)
	require.Len(t, created, 1)
	require.NoError(t, f.bus.Drain(ctx))
	require.Equal(t, domain.OrderStatusPaid, f.orderStatus(t, o.ID))

	// Redeliver the original OrderCreated: same event ID, no effect.
	require.NoError(t, f.bus.Publish(ctx, created[0]))
	require.NoError(t, f.bus.Drain(ctx))

	stock := f.stock(t, p.ID)
	assert.Equal(t, int64(8), stock.Total.Int64())
	assert.Equal(t, int64(8), stock.Available.Int64())
	assert.Equal(t, int64(0), stock.Reserved.Int64())
	assert.Len(t, f.bus.PublishedOfType(domain.EventTypeStockReserved), 1)
}
