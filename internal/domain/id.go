package domain

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// Domain identifiers are opaque 128-bit values with a canonical textual
// form. Equality is byte equality; ordering is byte ordering, which the
// lock layer relies on for deterministic multi-key acquisition.

// ProductID identifies a product aggregate
type ProductID struct{ id uuid.UUID }

// OrderID identifies an order aggregate
type OrderID struct{ id uuid.UUID }

// ReservationID identifies a stock reservation
type ReservationID struct{ id uuid.UUID }

// CustomerID identifies a customer
type CustomerID struct{ id uuid.UUID }

// PaymentID identifies a payment
type PaymentID struct{ id uuid.UUID }

// EventID identifies a domain event
type EventID struct{ id uuid.UUID }

// NewProductID allocates a fresh product ID
func NewProductID() ProductID { return ProductID{id: uuid.New()} }

// NewOrderID allocates a fresh order ID
func NewOrderID() OrderID { return OrderID{id: uuid.New()} }

// NewReservationID allocates a fresh reservation ID
func NewReservationID() ReservationID { return ReservationID{id: uuid.New()} }

// NewCustomerID allocates a fresh customer ID
func NewCustomerID() CustomerID { return CustomerID{id: uuid.New()} }

// NewPaymentID allocates a fresh payment ID
func NewPaymentID() PaymentID { return PaymentID{id: uuid.New()} }

// NewEventID allocates a fresh event ID
func NewEventID() EventID { return EventID{id: uuid.New()} }

func parseID(s, kind string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s %q", ErrInvalidID, kind, s)
	}
	return id, nil
}

// ParseProductID validates and parses the canonical textual form
func ParseProductID(s string) (ProductID, error) {
	id, err := parseID(s, "product id")
	return ProductID{id: id}, err
}

// ParseOrderID validates and parses the canonical textual form
func ParseOrderID(s string) (OrderID, error) {
	id, err := parseID(s, "order id")
	return OrderID{id: id}, err
}

// ParseReservationID validates and parses the canonical textual form
func ParseReservationID(s string) (ReservationID, error) {
	id, err := parseID(s, "reservation id")
	return ReservationID{id: id}, err
}

// ParseCustomerID validates and parses the canonical textual form
func ParseCustomerID(s string) (CustomerID, error) {
	id, err := parseID(s, "customer id")
	return CustomerID{id: id}, err
}

// ParsePaymentID validates and parses the canonical textual form
func ParsePaymentID(s string) (PaymentID, error) {
	id, err := parseID(s, "payment id")
	return PaymentID{id: id}, err
}

// ParseEventID validates and parses the canonical textual form
func ParseEventID(s string) (EventID, error) {
	id, err := parseID(s, "event id")
	return EventID{id: id}, err
}

func (p ProductID) String() string     { return p.id.String() }
func (o OrderID) String() string       { return o.id.String() }
func (r ReservationID) String() string { return r.id.String() }
func (c CustomerID) String() string    { return c.id.String() }
func (p PaymentID) String() string     { return p.id.String() }
func (e EventID) String() string       { return e.id.String() }

func (p ProductID) IsZero() bool     { return p.id == uuid.Nil }
func (o OrderID) IsZero() bool       { return o.id == uuid.Nil }
func (r ReservationID) IsZero() bool { return r.id == uuid.Nil }
func (c CustomerID) IsZero() bool    { return c.id == uuid.Nil }
func (p PaymentID) IsZero() bool     { return p.id == uuid.Nil }
func (e EventID) IsZero() bool       { return e.id == uuid.Nil }

// Compare returns -1, 0 or 1 by byte order. Multi-product operations
// acquire locks in ascending ProductID order to avoid lock cycles.
func (p ProductID) Compare(other ProductID) int {
	return bytes.Compare(p.id[:], other.id[:])
}

// MarshalText implements encoding.TextMarshaler
func (p ProductID) MarshalText() ([]byte, error) { return []byte(p.id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (p *ProductID) UnmarshalText(b []byte) error {
	parsed, err := ParseProductID(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (o OrderID) MarshalText() ([]byte, error) { return []byte(o.id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (o *OrderID) UnmarshalText(b []byte) error {
	parsed, err := ParseOrderID(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (r ReservationID) MarshalText() ([]byte, error) { return []byte(r.id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (r *ReservationID) UnmarshalText(b []byte) error {
	parsed, err := ParseReservationID(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (c CustomerID) MarshalText() ([]byte, error) { return []byte(c.id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (c *CustomerID) UnmarshalText(b []byte) error {
	parsed, err := ParseCustomerID(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (p PaymentID) MarshalText() ([]byte, error) { return []byte(p.id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (p *PaymentID) UnmarshalText(b []byte) error {
	parsed, err := ParsePaymentID(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (e EventID) MarshalText() ([]byte, error) { return []byte(e.id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (e *EventID) UnmarshalText(b []byte) error {
	parsed, err := ParseEventID(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
