package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// Quantity is a non-negative stock count. All arithmetic is checked:
// subtraction below zero and addition past the int64 range return errors
// instead of wrapping.
type Quantity struct {
	value int64
}

// NewQuantity validates v >= 0
func NewQuantity(v int64) (Quantity, error) {
	if v < 0 {
		return Quantity{}, fmt.Errorf("%w: %d", ErrNegativeQuantity, v)
	}
	return Quantity{value: v}, nil
}

// MustQuantity is NewQuantity that panics on invalid input. Test helper.
func MustQuantity(v int64) Quantity {
	q, err := NewQuantity(v)
	if err != nil {
		panic(err)
	}
	return q
}

// ZeroQuantity is the zero stock count
var ZeroQuantity = Quantity{}

// Int64 returns the raw count
func (q Quantity) Int64() int64 { return q.value }

// IsZero reports whether the count is zero
func (q Quantity) IsZero() bool { return q.value == 0 }

// Add returns q + other, failing on int64 overflow
func (q Quantity) Add(other Quantity) (Quantity, error) {
	if q.value > math.MaxInt64-other.value {
		return Quantity{}, fmt.Errorf("%w: %d + %d", ErrQuantityOverflow, q.value, other.value)
	}
	return Quantity{value: q.value + other.value}, nil
}

// Sub returns q - other, failing when the result would be negative
func (q Quantity) Sub(other Quantity) (Quantity, error) {
	if other.value > q.value {
		return Quantity{}, fmt.Errorf("%w: %d - %d", ErrNegativeQuantity, q.value, other.value)
	}
	return Quantity{value: q.value - other.value}, nil
}

// Cmp returns -1, 0 or 1
func (q Quantity) Cmp(other Quantity) int {
	switch {
	case q.value < other.value:
		return -1
	case q.value > other.value:
		return 1
	default:
		return 0
	}
}

func (q Quantity) String() string { return fmt.Sprintf("%d", q.value) }

// MarshalJSON renders the bare integer
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%d", q.value)), nil
}

// UnmarshalJSON parses and validates the bare integer
func (q *Quantity) UnmarshalJSON(data []byte) error {
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := NewQuantity(v)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
