package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmart/core/internal/domain"
)

func testChargeRequest(t *testing.T) *ChargeRequest {
	t.Helper()
	return &ChargeRequest{
		PaymentID:      domain.NewPaymentID(),
		OrderID:        domain.NewOrderID(),
		CustomerID:     domain.NewCustomerID(),
		Amount:         domain.MustMoney("25.50", "USD"),
		Method:         "card",
		IdempotencyKey: "idem-1",
	}
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewHTTPGateway(&HTTPGatewayConfig{
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
		Retries:   0,
		RetryWait: time.Millisecond,
		Breaker: &CircuitBreakerConfig{
			FailureThreshold: 2,
			OpenTimeout:      time.Minute,
			SuccessThreshold: 1,
		},
	})
	require.NoError(t, err)
	return g
}

func TestHTTPGateway_ChargeSuccess(t *testing.T) {
	var got chargeBody
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/charges", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chargeResult{TransactionID: "txn_1", Status: "completed"})
	})

	req := testChargeRequest(t)
	resp, err := g.Charge(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "txn_1", resp.TransactionID)
	assert.Equal(t, "25.50", got.Amount)
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, "idem-1", got.IdempotencyKey)
}

func TestHTTPGateway_ChargeDeclined(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(chargeResult{
			Status:        "failed",
			FailureReason: "insufficient_funds",
			FailureCode:   "insufficient_funds",
		})
	})

	resp, err := g.Charge(context.Background(), testChargeRequest(t))
	require.NoError(t, err, "a decline is a response, not an error")

	assert.False(t, resp.Success)
	assert.Equal(t, "insufficient_funds", resp.FailureCode)
	assert.Equal(t, "closed", g.BreakerState(), "declines do not count against the breaker")
}

func TestHTTPGateway_ServerErrorsTripBreaker(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := g.Charge(context.Background(), testChargeRequest(t))
	require.Error(t, err)
	_, err = g.Charge(context.Background(), testChargeRequest(t))
	require.Error(t, err)

	assert.Equal(t, "open", g.BreakerState())
	_, err = g.Charge(context.Background(), testChargeRequest(t))
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestHTTPGateway_Refund(t *testing.T) {
	var got refundBody
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := g.Refund(context.Background(), "txn_1", domain.MustMoney("25.50", "USD"))
	require.NoError(t, err)
	assert.Equal(t, "txn_1", got.TransactionID)
	assert.Equal(t, "25.50", got.Amount)
}

func TestMockGateway_Deterministic(t *testing.T) {
	always := NewMockGateway(&MockGatewayConfig{SuccessRate: 1})
	resp, err := always.Charge(context.Background(), testChargeRequest(t))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.TransactionID)

	never := NewMockGateway(&MockGatewayConfig{SuccessRate: 0, FailureReasons: []string{"card_declined"}})
	resp, err = never.Charge(context.Background(), testChargeRequest(t))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "card_declined", resp.FailureCode)

	require.NoError(t, always.Refund(context.Background(), "txn_9", domain.MustMoney("1.00", "USD")))
	assert.True(t, always.Refunded("txn_9"))
}
