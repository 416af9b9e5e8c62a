package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point decimal amount with two fractional digits and
// an ISO-4217 currency code. Arithmetic never silently loses precision:
// addition and subtraction require identical currencies, multiplication
// accepts only a non-negative integer scalar, and division is only
// permitted by a positive integer with half-even rounding.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney builds a Money value from a decimal string, e.g. "10.00".
func NewMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q is not a decimal amount", ErrInvalidMoney, amount)
	}
	return newMoney(d, currency)
}

// NewMoneyFromCents builds a Money value from a minor-unit integer.
func NewMoneyFromCents(cents int64, currency string) (Money, error) {
	return newMoney(decimal.New(cents, -2), currency)
}

func newMoney(d decimal.Decimal, currency string) (Money, error) {
	if err := validateCurrency(currency); err != nil {
		return Money{}, err
	}
	if d.Exponent() < -2 {
		return Money{}, fmt.Errorf("%w: amount %s has more than two fractional digits", ErrInvalidMoney, d)
	}
	return Money{amount: d.Round(2), currency: currency}, nil
}

// MustMoney is NewMoney that panics on invalid input. Test helper.
func MustMoney(amount, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func validateCurrency(currency string) error {
	if len(currency) != 3 {
		return fmt.Errorf("%w: currency %q must be a three-letter ISO-4217 code", ErrInvalidMoney, currency)
	}
	for _, c := range currency {
		if c < 'A' || c > 'Z' {
			return fmt.Errorf("%w: currency %q must be a three-letter ISO-4217 code", ErrInvalidMoney, currency)
		}
	}
	return nil
}

// Zero returns the zero amount in the given currency
func Zero(currency string) (Money, error) {
	return newMoney(decimal.Zero, currency)
}

// Amount returns the decimal amount
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the ISO-4217 code
func (m Money) Currency() string { return m.currency }

// Cents returns the amount in minor units
func (m Money) Cents() int64 {
	return m.amount.Mul(decimal.New(100, 0)).IntPart()
}

// String renders the canonical form, e.g. "10.00 USD"
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(2), m.currency)
}

// IsZero reports whether the amount is zero
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegative reports whether the amount is below zero
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}

// Add returns m + other; the currencies must match
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m - other; the currencies must match
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// MulInt returns m * n for a non-negative integer scalar
func (m Money) MulInt(n int64) (Money, error) {
	if n < 0 {
		return Money{}, fmt.Errorf("%w: scalar %d is negative", ErrInvalidMoney, n)
	}
	return Money{amount: m.amount.Mul(decimal.New(n, 0)), currency: m.currency}, nil
}

// DivInt returns m / n for a positive integer divisor, rounded half-even
// to two fractional digits.
func (m Money) DivInt(n int64) (Money, error) {
	if n <= 0 {
		return Money{}, fmt.Errorf("%w: divisor %d must be positive", ErrInvalidMoney, n)
	}
	q := m.amount.DivRound(decimal.New(n, 0), 8).RoundBank(2)
	return Money{amount: q, currency: m.currency}, nil
}

// Cmp compares amounts; the currencies must match
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// Equal reports value equality (same currency, same amount)
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON renders {"amount":"10.00","currency":"USD"}
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"amount":%q,"currency":%q}`, m.amount.StringFixed(2), m.currency)), nil
}

// UnmarshalJSON parses the canonical JSON form
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
