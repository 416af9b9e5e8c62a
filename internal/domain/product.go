package domain

import (
	"fmt"
	"sort"
	"time"
)

// Stock is the quantity ledger of a product. The aggregate keeps
// total = available + reserved at every committed mutation.
type Stock struct {
	Total     Quantity `json:"total_quantity"`
	Available Quantity `json:"available_quantity"`
	Reserved  Quantity `json:"reserved_quantity"`
}

// AdjustmentReason classifies a direct stock adjustment
type AdjustmentReason string

const (
	AdjustmentInbound    AdjustmentReason = "INBOUND"
	AdjustmentLoss       AdjustmentReason = "LOSS"
	AdjustmentCorrection AdjustmentReason = "CORRECTION"
)

// Product is the inventory aggregate root. All mutations go through its
// methods, which re-check the stock invariants and bump the optimistic
// version before returning.
type Product struct {
	ID                ProductID                      `json:"product_id"`
	Name              string                         `json:"name"`
	Active            bool                           `json:"active"`
	Category          string                         `json:"category,omitempty"`
	Stock             Stock                          `json:"stock"`
	Reservations      map[ReservationID]*Reservation `json:"reservations"`
	LowStockThreshold Quantity                       `json:"low_stock_threshold"`
	Version           int64                          `json:"version"`
	CreatedAt         time.Time                      `json:"created_at"`
	UpdatedAt         time.Time                      `json:"updated_at"`
}

// NewProduct creates an active product with the given initial stock
func NewProduct(name string, initial Quantity, lowStockThreshold Quantity) *Product {
	now := time.Now().UTC()
	return &Product{
		ID:     NewProductID(),
		Name:   name,
		Active: true,
		Stock: Stock{
			Total:     initial,
			Available: initial,
			Reserved:  ZeroQuantity,
		},
		Reservations:      make(map[ReservationID]*Reservation),
		LowStockThreshold: lowStockThreshold,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Reserve moves quantity from available to reserved and records an
// ACTIVE reservation expiring at now + ttl.
func (p *Product) Reserve(orderID OrderID, quantity Quantity, ttl time.Duration, now time.Time) (*Reservation, error) {
	if !p.Active {
		return nil, fmt.Errorf("%w: %s", ErrProductInactive, p.ID)
	}
	if quantity.IsZero() {
		return nil, fmt.Errorf("%w: reserve quantity must be positive", ErrZeroQuantityLine)
	}
	if p.Stock.Available.Cmp(quantity) < 0 {
		return nil, &InsufficientStockError{
			ProductID: p.ID,
			Requested: quantity,
			Available: p.Stock.Available,
		}
	}

	available, err := p.Stock.Available.Sub(quantity)
	if err != nil {
		return nil, err
	}
	reserved, err := p.Stock.Reserved.Add(quantity)
	if err != nil {
		return nil, err
	}

	r := &Reservation{
		ID:          NewReservationID(),
		OrderID:     orderID,
		Quantity:    quantity,
		State:       ReservationActive,
		WarehouseID: DefaultWarehouseID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	p.Stock.Available = available
	p.Stock.Reserved = reserved
	p.Reservations[r.ID] = r
	p.touch(now)

	if err := p.checkInvariants(); err != nil {
		return nil, err
	}
	return r, nil
}

// ConfirmReservation converts a reservation into a deduction: quantity
// leaves both reserved and total. Re-confirming a CONFIRMED reservation
// is a no-op success.
func (p *Product) ConfirmReservation(id ReservationID, now time.Time) error {
	r, ok := p.Reservations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}

	switch r.State {
	case ReservationConfirmed:
		return nil
	case ReservationReleased, ReservationExpired:
		return fmt.Errorf("%w: cannot confirm %s reservation %s", ErrReservationInvalid, r.State, id)
	}

	reserved, err := p.Stock.Reserved.Sub(r.Quantity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStockInvariant, err)
	}
	total, err := p.Stock.Total.Sub(r.Quantity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStockInvariant, err)
	}

	r.State = ReservationConfirmed
	p.Stock.Reserved = reserved
	p.Stock.Total = total
	p.touch(now)

	return p.checkInvariants()
}

// ReleaseReservation returns a reservation's quantity from reserved to
// available. Releasing an already RELEASED or EXPIRED reservation is a
// no-op success; releasing a CONFIRMED one fails.
func (p *Product) ReleaseReservation(id ReservationID, reason ReleaseReason, now time.Time) error {
	r, ok := p.Reservations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}

	switch r.State {
	case ReservationReleased, ReservationExpired:
		return nil
	case ReservationConfirmed:
		return fmt.Errorf("%w: reservation %s", ErrAlreadyConfirmed, id)
	}

	reserved, err := p.Stock.Reserved.Sub(r.Quantity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStockInvariant, err)
	}
	available, err := p.Stock.Available.Add(r.Quantity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStockInvariant, err)
	}

	if reason == ReleaseReasonExpired {
		r.State = ReservationExpired
	} else {
		r.State = ReservationReleased
	}
	p.Stock.Reserved = reserved
	p.Stock.Available = available
	p.touch(now)

	return p.checkInvariants()
}

// ReturnReservation puts a CONFIRMED reservation's quantity back into
// total and available, for orders cancelled after their stock was
// deducted. Repeating on RELEASED is a no-op success; an ACTIVE or
// EXPIRED reservation never deducted anything and fails.
func (p *Product) ReturnReservation(id ReservationID, now time.Time) error {
	r, ok := p.Reservations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}

	switch r.State {
	case ReservationReleased:
		return nil
	case ReservationActive, ReservationExpired:
		return fmt.Errorf("%w: cannot return %s reservation %s", ErrReservationInvalid, r.State, id)
	}

	total, err := p.Stock.Total.Add(r.Quantity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStockInvariant, err)
	}
	available, err := p.Stock.Available.Add(r.Quantity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStockInvariant, err)
	}

	r.State = ReservationReleased
	p.Stock.Total = total
	p.Stock.Available = available
	p.touch(now)

	return p.checkInvariants()
}

// Adjust applies a direct inbound/loss/correction delta to both total
// and available stock. It fails when the result would go negative.
func (p *Product) Adjust(delta int64, reason AdjustmentReason, now time.Time) error {
	if delta == 0 {
		return nil
	}

	var total, available Quantity
	var err error
	if delta > 0 {
		d := Quantity{value: delta}
		if total, err = p.Stock.Total.Add(d); err != nil {
			return err
		}
		if available, err = p.Stock.Available.Add(d); err != nil {
			return err
		}
	} else {
		d := Quantity{value: -delta}
		if total, err = p.Stock.Total.Sub(d); err != nil {
			return fmt.Errorf("%w: adjustment %d for %s", ErrStockInvariant, delta, reason)
		}
		if available, err = p.Stock.Available.Sub(d); err != nil {
			return fmt.Errorf("%w: adjustment %d for %s", ErrStockInvariant, delta, reason)
		}
	}

	p.Stock.Total = total
	p.Stock.Available = available
	p.touch(now)

	return p.checkInvariants()
}

// SweepExpired moves every ACTIVE reservation past its deadline to
// EXPIRED, returning the expired reservations. Quantities flow back to
// available. Returns an empty slice when nothing expired.
func (p *Product) SweepExpired(now time.Time) ([]*Reservation, error) {
	var expired []*Reservation
	for _, r := range p.Reservations {
		if r.IsExpiredAt(now) {
			expired = append(expired, r)
		}
	}
	if len(expired) == 0 {
		return nil, nil
	}

	// Deterministic order keeps event emission stable.
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ID.String() < expired[j].ID.String()
	})

	for _, r := range expired {
		if err := p.ReleaseReservation(r.ID, ReleaseReasonExpired, now); err != nil {
			return nil, err
		}
	}
	return expired, nil
}

// CompactReservations drops terminal reservations older than cutoff,
// keeping the in-memory map bounded on hot products.
func (p *Product) CompactReservations(cutoff time.Time) int {
	removed := 0
	for id, r := range p.Reservations {
		if r.State.IsTerminal() && r.CreatedAt.Before(cutoff) {
			delete(p.Reservations, id)
			removed++
		}
	}
	return removed
}

// LowStock reports whether available has fallen to the alert threshold
func (p *Product) LowStock() bool {
	return p.Stock.Available.Cmp(p.LowStockThreshold) <= 0
}

// ActiveReservedTotal sums the quantity of all ACTIVE reservations
func (p *Product) ActiveReservedTotal() Quantity {
	sum := ZeroQuantity
	for _, r := range p.Reservations {
		if r.IsActive() {
			sum, _ = sum.Add(r.Quantity)
		}
	}
	return sum
}

func (p *Product) touch(now time.Time) {
	p.Version++
	p.UpdatedAt = now
}

// checkInvariants verifies the stock ledger invariants. A violation is
// a programming error, surfaced as ErrStockInvariant so callers abort
// the mutation before persisting.
func (p *Product) checkInvariants() error {
	sum, err := p.Stock.Available.Add(p.Stock.Reserved)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStockInvariant, err)
	}
	if sum.Cmp(p.Stock.Total) != 0 {
		return fmt.Errorf("%w: total %s != available %s + reserved %s",
			ErrStockInvariant, p.Stock.Total, p.Stock.Available, p.Stock.Reserved)
	}
	if p.ActiveReservedTotal().Cmp(p.Stock.Reserved) != 0 {
		return fmt.Errorf("%w: reserved %s does not match active reservations %s",
			ErrStockInvariant, p.Stock.Reserved, p.ActiveReservedTotal())
	}
	return nil
}
