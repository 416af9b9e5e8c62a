package domain

import "time"

// ReservationState is the lifecycle state of a stock reservation
type ReservationState string

const (
	ReservationActive    ReservationState = "ACTIVE"
	ReservationConfirmed ReservationState = "CONFIRMED"
	ReservationReleased  ReservationState = "RELEASED"
	ReservationExpired   ReservationState = "EXPIRED"
)

// IsValid checks if the state is a known ReservationState
func (s ReservationState) IsValid() bool {
	switch s {
	case ReservationActive, ReservationConfirmed, ReservationReleased, ReservationExpired:
		return true
	}
	return false
}

// IsTerminal reports whether the state is final
func (s ReservationState) IsTerminal() bool {
	return s != ReservationActive
}

func (s ReservationState) String() string { return string(s) }

// DefaultReservationTTL is the lifetime of an ACTIVE reservation
const DefaultReservationTTL = 30 * time.Minute

// DefaultWarehouseID is the single default location. Multi-warehouse
// routing is not supported; the field is carried opaquely.
const DefaultWarehouseID = "MAIN"

// ReleaseReason explains why stock was returned to availability
type ReleaseReason string

const (
	ReleaseReasonOrderCancelled ReleaseReason = "ORDER_CANCELLED"
	ReleaseReasonExpired        ReleaseReason = "EXPIRED"
	ReleaseReasonPaymentFailed  ReleaseReason = "PAYMENT_FAILED"
	ReleaseReasonSystemError    ReleaseReason = "SYSTEM_ERROR"
)

// Reservation is a time-bounded claim on a product's stock. It is
// created within the product aggregate and either confirmed into a
// deduction or released back to availability.
type Reservation struct {
	ID          ReservationID    `json:"reservation_id"`
	OrderID     OrderID          `json:"order_id"`
	Quantity    Quantity         `json:"quantity"`
	State       ReservationState `json:"state"`
	WarehouseID string           `json:"warehouse_id"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// IsActive reports whether the reservation still holds stock
func (r *Reservation) IsActive() bool {
	return r.State == ReservationActive
}

// IsExpiredAt reports whether an ACTIVE reservation has passed its deadline
func (r *Reservation) IsExpiredAt(now time.Time) bool {
	return r.State == ReservationActive && !r.ExpiresAt.After(now)
}
