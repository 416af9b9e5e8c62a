package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoney(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		wantErr  bool
	}{
		{"valid", "10.00", "USD", false},
		{"valid integer", "10", "EUR", false},
		{"valid one decimal", "10.5", "USD", false},
		{"negative allowed", "-3.25", "USD", false},
		{"too many decimals", "10.005", "USD", true},
		{"not a number", "ten", "USD", true},
		{"bad currency length", "10.00", "US", true},
		{"lowercase currency", "10.00", "usd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMoney(tt.amount, tt.currency)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMoney)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMoney_AddSub(t *testing.T) {
	a := MustMoney("10.50", "USD")
	b := MustMoney("2.25", "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "12.75 USD", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "8.25 USD", diff.String())

	_, err = a.Add(MustMoney("1.00", "EUR"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	_, err = a.Sub(MustMoney("1.00", "EUR"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMoney_MulInt(t *testing.T) {
	m := MustMoney("10.01", "USD")

	product, err := m.MulInt(3)
	require.NoError(t, err)
	assert.Equal(t, "30.03 USD", product.String())

	zero, err := m.MulInt(0)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = m.MulInt(-1)
	assert.ErrorIs(t, err, ErrInvalidMoney)
}

func TestMoney_DivInt_RoundsHalfEven(t *testing.T) {
	// 10.01 / 2 = 5.005 -> banker's rounding gives 5.00
	m := MustMoney("10.01", "USD")
	half, err := m.DivInt(2)
	require.NoError(t, err)
	assert.Equal(t, "5.00 USD", half.String())

	// 10.03 / 2 = 5.015 -> 5.02
	m2 := MustMoney("10.03", "USD")
	half2, err := m2.DivInt(2)
	require.NoError(t, err)
	assert.Equal(t, "5.02 USD", half2.String())

	_, err = m.DivInt(0)
	assert.ErrorIs(t, err, ErrInvalidMoney)
	_, err = m.DivInt(-2)
	assert.ErrorIs(t, err, ErrInvalidMoney)
}

func TestMoney_JSONRoundTrip(t *testing.T) {
	m := MustMoney("99.90", "USD")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"99.90","currency":"USD"}`, string(data))

	var decoded Money
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, m.Equal(decoded))
}

func TestMoney_Cents(t *testing.T) {
	assert.Equal(t, int64(1050), MustMoney("10.50", "USD").Cents())

	fromCents, err := NewMoneyFromCents(1050, "USD")
	require.NoError(t, err)
	assert.True(t, fromCents.Equal(MustMoney("10.50", "USD")))
}
