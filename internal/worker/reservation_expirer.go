package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/internal/event"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/internal/service"
	"github.com/fluxmart/core/pkg/logger"
)

// ExpirerConfig contains configuration for the reservation expirer
type ExpirerConfig struct {
	// ScanInterval is the interval between scans for expired reservations
	ScanInterval time.Duration
	// BatchSize caps the number of products processed per scan
	BatchSize int
}

// DefaultExpirerConfig returns default configuration
func DefaultExpirerConfig() *ExpirerConfig {
	return &ExpirerConfig{
		ScanInterval: 60 * time.Second,
		BatchSize:    100,
	}
}

// ReservationExpirer scans for lapsed reservations, returns their stock
// to availability and publishes a StockReleased event per reservation so
// the order side can cancel the abandoned order.
type ReservationExpirer struct {
	products  repository.ProductRepository
	inventory *service.InventoryService
	publisher event.Publisher
	config    *ExpirerConfig
	log       *logger.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool

	// Stats
	totalExpired     int64
	lastScanTime     time.Time
	lastExpiredCount int
}

// NewReservationExpirer creates a new reservation expirer
func NewReservationExpirer(
	products repository.ProductRepository,
	inventory *service.InventoryService,
	publisher event.Publisher,
	config *ExpirerConfig,
) *ReservationExpirer {
	if config == nil {
		config = DefaultExpirerConfig()
	}
	return &ReservationExpirer{
		products:  products,
		inventory: inventory,
		publisher: publisher,
		config:    config,
		log:       logger.Get().With("component", "reservation-expirer"),
		stopCh:    make(chan struct{}),
	}
}

// Start starts the expirer loop
func (w *ReservationExpirer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("reservation expirer already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("starting reservation expirer", "scan_interval", w.config.ScanInterval.String())

	w.wg.Add(1)
	go w.scanLoop(ctx)
	return nil
}

// Stop stops the expirer and waits for the in-flight scan
func (w *ReservationExpirer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("reservation expirer stopped")
}

func (w *ReservationExpirer) scanLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep processes one batch of products with expired reservations
func (w *ReservationExpirer) sweep(ctx context.Context) {
	w.mu.Lock()
	w.lastScanTime = time.Now()
	w.mu.Unlock()

	ids, err := w.products.ProductsWithExpiredReservations(ctx, time.Now().UTC(), w.config.BatchSize)
	if err != nil {
		w.log.Error("expired reservation scan failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	expired := 0
	for _, id := range ids {
		n, err := w.expireProduct(ctx, id)
		if err != nil {
			w.log.Error("reservation expiry failed", "product_id", id.String(), "error", err)
			continue
		}
		expired += n
	}

	w.mu.Lock()
	w.totalExpired += int64(expired)
	w.lastExpiredCount = expired
	w.mu.Unlock()

	if expired > 0 {
		w.log.Info("expired reservations released", "count", expired, "products", len(ids))
	}
}

// expireProduct sweeps one product and publishes a release per
// reservation, keyed by the owning order so the cancel lands on the
// order's partition.
func (w *ReservationExpirer) expireProduct(ctx context.Context, id domain.ProductID) (int, error) {
	swept, err := w.inventory.SweepExpired(ctx, id)
	if err != nil {
		return 0, err
	}

	for _, res := range swept {
		env := domain.NewEnvelope(domain.StockReleased{
			InventoryID:   res.WarehouseID,
			ReservationID: res.ID.String(),
			OrderID:       res.OrderID.String(),
			ReleaseReason: domain.ReleaseReasonExpired,
			Items: []domain.StockItem{{
				ProductID:     id.String(),
				Quantity:      res.Quantity,
				WarehouseID:   res.WarehouseID,
				ReservationID: res.ID.String(),
			}},
			ReleasedBy:     "system",
			ReleasedByType: string(domain.CancelledBySystem),
		}, res.OrderID.String(), domain.AggregateOrder, res.OrderID.String(), "inventory-service")

		if err := w.publisher.Publish(ctx, env); err != nil {
			// The hold is already released; the order stays stuck
			// until the next scan or a manual cancel.
			w.log.Error("stock released publish failed",
				"order_id", res.OrderID.String(),
				"reservation_id", res.ID.String(),
				"error", err)
		}
	}
	return len(swept), nil
}

// Stats returns a snapshot of expirer counters
func (w *ReservationExpirer) Stats() ExpirerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ExpirerStats{
		IsRunning:        w.running,
		TotalExpired:     w.totalExpired,
		LastScanTime:     w.lastScanTime,
		LastExpiredCount: w.lastExpiredCount,
	}
}

// ExpirerStats contains expirer counters
type ExpirerStats struct {
	IsRunning        bool      `json:"is_running"`
	TotalExpired     int64     `json:"total_expired"`
	LastScanTime     time.Time `json:"last_scan_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}
