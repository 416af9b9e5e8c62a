package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxmart/core/internal/domain"
)

// Memory implementations back the test suites and single-node runs.
// They enforce the same optimistic concurrency contract as the
// Postgres repositories.

// MemoryProductRepository stores product aggregates in a map
type MemoryProductRepository struct {
	mu       sync.RWMutex
	products map[domain.ProductID]*domain.Product
}

// NewMemoryProductRepository creates an in-process product repository
func NewMemoryProductRepository() *MemoryProductRepository {
	return &MemoryProductRepository{products: make(map[domain.ProductID]*domain.Product)}
}

func cloneProduct(p *domain.Product) *domain.Product {
	cp := *p
	cp.Reservations = make(map[domain.ReservationID]*domain.Reservation, len(p.Reservations))
	for id, r := range p.Reservations {
		res := *r
		cp.Reservations[id] = &res
	}
	return &cp
}

func (r *MemoryProductRepository) Create(_ context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.products[p.ID]; exists {
		return fmt.Errorf("product %s already exists", p.ID)
	}
	r.products[p.ID] = cloneProduct(p)
	return nil
}

func (r *MemoryProductRepository) GetByID(_ context.Context, id domain.ProductID) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	return cloneProduct(p), nil
}

func (r *MemoryProductRepository) Update(_ context.Context, p *domain.Product, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.products[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, p.ID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: product %s at version %d, stored %d",
			domain.ErrConcurrencyConflict, p.ID, expectedVersion, current.Version)
	}
	r.products[p.ID] = cloneProduct(p)
	return nil
}

func (r *MemoryProductRepository) ProductsWithExpiredReservations(_ context.Context, now time.Time, limit int) ([]domain.ProductID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []domain.ProductID
	for id, p := range r.products {
		for _, res := range p.Reservations {
			if res.IsExpiredAt(now) {
				ids = append(ids, id)
				break
			}
		}
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (r *MemoryProductRepository) ActiveReservationsForOrder(_ context.Context, orderID domain.OrderID) ([]OrderReservation, error) {
	return r.reservationsForOrder(orderID, domain.ReservationActive), nil
}

func (r *MemoryProductRepository) ConfirmedReservationsForOrder(_ context.Context, orderID domain.OrderID) ([]OrderReservation, error) {
	return r.reservationsForOrder(orderID, domain.ReservationConfirmed), nil
}

func (r *MemoryProductRepository) reservationsForOrder(orderID domain.OrderID, state domain.ReservationState) []OrderReservation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []OrderReservation
	for id, p := range r.products {
		for _, res := range p.Reservations {
			if res.OrderID == orderID && res.State == state {
				out = append(out, OrderReservation{ProductID: id, ReservationID: res.ID})
			}
		}
	}
	return out
}

// MemoryOrderRepository stores order aggregates in a map
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[domain.OrderID]*domain.Order
}

// NewMemoryOrderRepository creates an in-process order repository
func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[domain.OrderID]*domain.Order)}
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = make([]domain.OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	for i := range cp.Items {
		if o.Items[i].ReservationID != nil {
			id := *o.Items[i].ReservationID
			cp.Items[i].ReservationID = &id
		}
	}
	if o.PaymentID != nil {
		id := *o.PaymentID
		cp.PaymentID = &id
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		cp.PaidAt = &t
	}
	return &cp
}

func (r *MemoryOrderRepository) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *MemoryOrderRepository) GetByID(_ context.Context, id domain.OrderID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return cloneOrder(o), nil
}

func (r *MemoryOrderRepository) Update(_ context.Context, o *domain.Order, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[o.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, o.ID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: order %s at version %d, stored %d",
			domain.ErrConcurrencyConflict, o.ID, expectedVersion, current.Version)
	}
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *MemoryOrderRepository) FindDuplicate(_ context.Context, customerID domain.CustomerID, contentHash string, since time.Time) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var newest *domain.Order
	for _, o := range r.orders {
		if o.CustomerID != customerID || o.ContentHash != contentHash {
			continue
		}
		if o.CreatedAt.Before(since) || o.Status.IsTerminal() {
			continue
		}
		if newest == nil || o.CreatedAt.After(newest.CreatedAt) {
			newest = o
		}
	}
	if newest == nil {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(newest), nil
}

func (r *MemoryOrderRepository) GetByIdempotencyKey(_ context.Context, customerID domain.CustomerID, key string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.CustomerID == customerID && o.IdempotencyKey == key && key != "" {
			return cloneOrder(o), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

// MemoryProcessedEventRepository is the in-process idempotence log
type MemoryProcessedEventRepository struct {
	mu        sync.Mutex
	processed map[string]time.Time
}

// NewMemoryProcessedEventRepository creates an in-process log
func NewMemoryProcessedEventRepository() *MemoryProcessedEventRepository {
	return &MemoryProcessedEventRepository{processed: make(map[string]time.Time)}
}

func processedKey(group string, eventID domain.EventID, aggregateID string) string {
	return group + "|" + eventID.String() + "|" + aggregateID
}

func (r *MemoryProcessedEventRepository) MarkProcessed(_ context.Context, group string, eventID domain.EventID, aggregateID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := processedKey(group, eventID, aggregateID)
	if _, seen := r.processed[key]; seen {
		return false, nil
	}
	r.processed[key] = time.Now().UTC()
	return true, nil
}

func (r *MemoryProcessedEventRepository) IsProcessed(_ context.Context, group string, eventID domain.EventID, aggregateID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, seen := r.processed[processedKey(group, eventID, aggregateID)]
	return seen, nil
}

func (r *MemoryProcessedEventRepository) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, at := range r.processed {
		if at.Before(cutoff) {
			delete(r.processed, k)
			n++
		}
	}
	return n, nil
}

// MemoryUnitOfWork runs the function against the shared memory
// repositories. There is no transaction to roll back; tests accept the
// weaker semantics.
type MemoryUnitOfWork struct {
	repos *Repositories
}

// NewMemoryRepositories creates the full in-process repository set
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Products:        NewMemoryProductRepository(),
		Orders:          NewMemoryOrderRepository(),
		ProcessedEvents: NewMemoryProcessedEventRepository(),
	}
}

// NewMemoryUnitOfWork creates a unit of work over a repository set
func NewMemoryUnitOfWork(repos *Repositories) *MemoryUnitOfWork {
	return &MemoryUnitOfWork{repos: repos}
}

func (u *MemoryUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error {
	return fn(ctx, u.repos)
}
