package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fluxmart/core/internal/cache"
	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/internal/event"
	"github.com/fluxmart/core/internal/lock"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/pkg/logger"
	"github.com/fluxmart/core/pkg/retry"
)

// InventoryConfig holds inventory service tuning
type InventoryConfig struct {
	ReservationTTL time.Duration
	LockWait       time.Duration
	LockLease      time.Duration
	ProductTTL     time.Duration
	StockTTL       time.Duration

	// ConflictRetry bounds the reload-and-retry loop on version conflicts
	ConflictRetry *retry.Config
}

// DefaultInventoryConfig returns the inventory service defaults
func DefaultInventoryConfig() *InventoryConfig {
	return &InventoryConfig{
		ReservationTTL: domain.DefaultReservationTTL,
		LockWait:       3 * time.Second,
		LockLease:      10 * time.Second,
		ProductTTL:     10 * time.Minute,
		StockTTL:       5 * time.Minute,
		ConflictRetry: &retry.Config{
			MaxAttempts:     3,
			InitialInterval: 25 * time.Millisecond,
			MaxInterval:     250 * time.Millisecond,
			Multiplier:      2.0,
			JitterFactor:    0.2,
		},
	}
}

// ReserveLine is one product line of a reservation request
type ReserveLine struct {
	ProductID domain.ProductID
	Quantity  domain.Quantity
}

// ReservedItem pairs a product with the reservation taken on it
type ReservedItem struct {
	ProductID   domain.ProductID
	Reservation *domain.Reservation
}

// StockView is the cacheable read model of a product's stock
type StockView struct {
	ProductID string       `json:"product_id"`
	Stock     domain.Stock `json:"stock"`
	Version   int64        `json:"version"`
}

// InventoryService wraps every stock mutation in the same discipline:
// acquire the product lock, load the aggregate, mutate, persist against
// the loaded version, write the fresh state through the cache, release.
// A lost version check is reloaded and retried a bounded number of
// times before surfacing ErrConcurrencyConflict.
type InventoryService struct {
	repos     *repository.Repositories
	locks     lock.Locker
	cache     *cache.Service
	publisher event.Publisher
	config    *InventoryConfig
	log       *logger.Logger
}

// NewInventoryService assembles the inventory service
func NewInventoryService(repos *repository.Repositories, locks lock.Locker, cacheSvc *cache.Service, publisher event.Publisher, config *InventoryConfig) *InventoryService {
	if config == nil {
		config = DefaultInventoryConfig()
	}
	return &InventoryService{
		repos:     repos,
		locks:     locks,
		cache:     cacheSvc,
		publisher: publisher,
		config:    config,
		log:       logger.Get().With("component", "inventory-service"),
	}
}

// WithRepos returns a copy bound to a different repository set, so
// event handlers can run mutations inside their own transaction.
func (s *InventoryService) WithRepos(repos *repository.Repositories) *InventoryService {
	clone := *s
	clone.repos = repos
	return &clone
}

// ProductLockKey is the distributed lock key guarding a product
func ProductLockKey(id domain.ProductID) string {
	return "product:" + id.String()
}

// CreateProduct registers a new product with its initial stock
func (s *InventoryService) CreateProduct(ctx context.Context, name string, initial, lowStockThreshold domain.Quantity) (*domain.Product, error) {
	p := domain.NewProduct(name, initial, lowStockThreshold)
	if err := s.repos.Products.Create(ctx, p); err != nil {
		return nil, err
	}
	s.cacheProduct(ctx, p)
	return p, nil
}

// GetProduct reads the product aggregate through the cache
func (s *InventoryService) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	if s.cache == nil {
		return s.repos.Products.GetByID(ctx, id)
	}
	data, err := s.cache.GetOrLoad(ctx, cache.ProductKey(id.String()), s.config.ProductTTL, func(ctx context.Context) ([]byte, int64, error) {
		p, err := s.repos.Products.GetByID(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		value, err := json.Marshal(p)
		return value, p.Version, err
	})
	if err != nil {
		return nil, err
	}
	var p domain.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode cached product: %w", err)
	}
	return &p, nil
}

// GetStock reads a product's stock counters through the cache
func (s *InventoryService) GetStock(ctx context.Context, id domain.ProductID) (*StockView, error) {
	load := func(ctx context.Context) ([]byte, int64, error) {
		p, err := s.repos.Products.GetByID(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		view := &StockView{ProductID: p.ID.String(), Stock: p.Stock, Version: p.Version}
		value, err := json.Marshal(view)
		return value, p.Version, err
	}

	var data []byte
	var err error
	if s.cache == nil {
		data, _, err = load(ctx)
	} else {
		data, err = s.cache.GetOrLoad(ctx, cache.StockKey(id.String()), s.config.StockTTL, load)
	}
	if err != nil {
		return nil, err
	}
	var view StockView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("failed to decode cached stock: %w", err)
	}
	return &view, nil
}

// Reserve places a time-bounded hold on a product's stock
func (s *InventoryService) Reserve(ctx context.Context, productID domain.ProductID, orderID domain.OrderID, quantity domain.Quantity) (*domain.Reservation, error) {
	var res *domain.Reservation
	_, err := s.withProduct(ctx, productID, func(p *domain.Product, now time.Time) error {
		r, err := p.Reserve(orderID, quantity, s.config.ReservationTTL, now)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReserveBatch reserves every line or none. Locks are taken in
// ascending product ID order so concurrent batches cannot cycle; on any
// line failure the reservations already taken are rolled back.
func (s *InventoryService) ReserveBatch(ctx context.Context, orderID domain.OrderID, lines []ReserveLine) ([]ReservedItem, error) {
	if len(lines) == 0 {
		return nil, domain.ErrNoItems
	}

	ordered := make([]ReserveLine, len(lines))
	copy(ordered, lines)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ProductID.Compare(ordered[j].ProductID) < 0
	})

	handles := make([]lock.Handle, 0, len(ordered))
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(handles) - 1; i >= 0; i-- {
			if err := handles[i].Release(releaseCtx); err != nil {
				s.log.Warn("lock release failed", "key", handles[i].Key(), "error", err)
			}
		}
	}()
	for _, line := range ordered {
		h, err := s.locks.Acquire(ctx, ProductLockKey(line.ProductID), s.config.LockWait, s.config.LockLease)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}

	taken := make([]ReservedItem, 0, len(ordered))
	for _, line := range ordered {
		quantity := line.Quantity
		var res *domain.Reservation
		_, err := s.applyLocked(ctx, line.ProductID, func(p *domain.Product, now time.Time) error {
			r, rerr := p.Reserve(orderID, quantity, s.config.ReservationTTL, now)
			if rerr != nil {
				return rerr
			}
			res = r
			return nil
		})
		if err != nil {
			s.rollbackReservations(ctx, taken)
			return nil, err
		}
		taken = append(taken, ReservedItem{ProductID: line.ProductID, Reservation: res})
	}
	return taken, nil
}

func (s *InventoryService) rollbackReservations(ctx context.Context, taken []ReservedItem) {
	// Locks are still held by the caller.
	for i := len(taken) - 1; i >= 0; i-- {
		item := taken[i]
		_, err := s.applyLocked(ctx, item.ProductID, func(p *domain.Product, now time.Time) error {
			return p.ReleaseReservation(item.Reservation.ID, domain.ReleaseReasonSystemError, now)
		})
		if err != nil {
			s.log.Error("reservation rollback failed",
				"product_id", item.ProductID.String(),
				"reservation_id", item.Reservation.ID.String(),
				"error", err)
		}
	}
}

// ConfirmReservation converts a hold into a deduction
func (s *InventoryService) ConfirmReservation(ctx context.Context, productID domain.ProductID, reservationID domain.ReservationID) (*domain.Reservation, error) {
	var res *domain.Reservation
	_, err := s.withProduct(ctx, productID, func(p *domain.Product, now time.Time) error {
		if err := p.ConfirmReservation(reservationID, now); err != nil {
			return err
		}
		res = p.Reservations[reservationID]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReleaseReservation returns a hold to availability
func (s *InventoryService) ReleaseReservation(ctx context.Context, productID domain.ProductID, reservationID domain.ReservationID, reason domain.ReleaseReason) (*domain.Reservation, error) {
	var res *domain.Reservation
	_, err := s.withProduct(ctx, productID, func(p *domain.Product, now time.Time) error {
		if err := p.ReleaseReservation(reservationID, reason, now); err != nil {
			return err
		}
		res = p.Reservations[reservationID]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReturnReservation restores a deducted reservation's quantity to the
// stock ledger, for orders cancelled after payment.
func (s *InventoryService) ReturnReservation(ctx context.Context, productID domain.ProductID, reservationID domain.ReservationID) (*domain.Reservation, error) {
	var res *domain.Reservation
	_, err := s.withProduct(ctx, productID, func(p *domain.Product, now time.Time) error {
		if err := p.ReturnReservation(reservationID, now); err != nil {
			return err
		}
		res = p.Reservations[reservationID]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Adjust applies a direct stock delta with an audit reason
func (s *InventoryService) Adjust(ctx context.Context, productID domain.ProductID, delta int64, reason domain.AdjustmentReason) (*domain.Product, error) {
	return s.withProduct(ctx, productID, func(p *domain.Product, now time.Time) error {
		return p.Adjust(delta, reason, now)
	})
}

// SweepExpired expires every lapsed reservation on one product and
// returns them for event emission. Used by the reservation expirer.
func (s *InventoryService) SweepExpired(ctx context.Context, productID domain.ProductID) ([]*domain.Reservation, error) {
	var expired []*domain.Reservation
	_, err := s.withProduct(ctx, productID, func(p *domain.Product, now time.Time) error {
		swept, serr := p.SweepExpired(now)
		if serr != nil {
			return serr
		}
		expired = swept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// withProduct runs fn under the product's distributed lock
func (s *InventoryService) withProduct(ctx context.Context, id domain.ProductID, fn func(p *domain.Product, now time.Time) error) (*domain.Product, error) {
	handle, err := s.locks.Acquire(ctx, ProductLockKey(id), s.config.LockWait, s.config.LockLease)
	if err != nil {
		return nil, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := handle.Release(releaseCtx); err != nil {
			s.log.Warn("lock release failed", "key", handle.Key(), "error", err)
		}
	}()
	return s.applyLocked(ctx, id, fn)
}

// applyLocked is the load-mutate-persist loop. The caller holds the
// product lock; conflicts can still happen against writers that bypass
// it, so the version check stays and losing it reloads and retries.
func (s *InventoryService) applyLocked(ctx context.Context, id domain.ProductID, fn func(p *domain.Product, now time.Time) error) (*domain.Product, error) {
	var updated *domain.Product
	result := retry.Do(ctx, s.config.ConflictRetry, func(ctx context.Context) error {
		p, err := s.repos.Products.GetByID(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		expected := p.Version
		lowBefore := p.LowStock()

		now := time.Now().UTC()
		if err := fn(p, now); err != nil {
			return retry.Permanent(err)
		}

		if err := s.repos.Products.Update(ctx, p, expected); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				return err
			}
			return retry.Permanent(err)
		}

		updated = p
		if !lowBefore && p.LowStock() {
			s.alertLowStock(ctx, p)
		}
		return nil
	})
	if result.Err != nil {
		if errors.Is(result.Err, retry.ErrMaxAttemptsExceeded) {
			return nil, result.LastError
		}
		return nil, result.Err
	}

	s.cacheProduct(ctx, updated)
	return updated, nil
}

func (s *InventoryService) cacheProduct(ctx context.Context, p *domain.Product) {
	if s.cache == nil {
		return
	}
	if value, err := json.Marshal(p); err == nil {
		s.cache.WriteThrough(ctx, cache.ProductKey(p.ID.String()), value, p.Version, s.config.ProductTTL)
	}
	view := &StockView{ProductID: p.ID.String(), Stock: p.Stock, Version: p.Version}
	if value, err := json.Marshal(view); err == nil {
		s.cache.WriteThrough(ctx, cache.StockKey(p.ID.String()), value, p.Version, s.config.StockTTL)
	}
}

// alertLowStock emits a fire-and-forget operational signal when a
// mutation takes available stock down to the alert threshold.
func (s *InventoryService) alertLowStock(ctx context.Context, p *domain.Product) {
	if s.publisher == nil {
		return
	}
	payload := domain.LowStockAlert{
		InventoryID: p.ID.String(),
		AlertLevel:  "WARNING",
		LowStockItems: []domain.LowStockItem{{
			ProductID: p.ID.String(),
			Available: p.Stock.Available,
			Threshold: p.LowStockThreshold,
		}},
	}
	env := domain.NewEnvelope(payload, p.ID.String(), domain.AggregateProduct, "", "inventory-service")
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.Warn("low stock alert publish failed", "product_id", p.ID.String(), "error", err)
	}
}
