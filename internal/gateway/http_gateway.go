package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/pkg/logger"
)

// HTTPGatewayConfig holds configuration for the HTTP payment provider
type HTTPGatewayConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration

	Breaker *CircuitBreakerConfig
}

// DefaultHTTPGatewayConfig returns default configuration
func DefaultHTTPGatewayConfig() *HTTPGatewayConfig {
	return &HTTPGatewayConfig{
		Timeout:   10 * time.Second,
		Retries:   2,
		RetryWait: 200 * time.Millisecond,
	}
}

// HTTPGateway implements PaymentGateway against a provider's REST API.
// Transport failures and 5xx responses count against the circuit
// breaker; declines are business outcomes and do not.
type HTTPGateway struct {
	client  *resty.Client
	breaker *CircuitBreaker
	log     *logger.Logger
}

type chargeBody struct {
	PaymentID      string            `json:"payment_id"`
	OrderID        string            `json:"order_id"`
	CustomerID     string            `json:"customer_id"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	Method         string            `json:"method"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type chargeResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
	FailureCode   string `json:"failure_code"`
}

type refundBody struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

// NewHTTPGateway creates a gateway client for the provider API
func NewHTTPGateway(config *HTTPGatewayConfig) (*HTTPGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("gateway config is required")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}

	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetRetryCount(config.Retries).
		SetRetryWaitTime(config.RetryWait).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if config.APIKey != "" {
		client.SetAuthToken(config.APIKey)
	}

	return &HTTPGateway{
		client:  client,
		breaker: NewCircuitBreaker(config.Breaker),
		log:     logger.Get().With("component", "payment-gateway"),
	}, nil
}

// Charge processes a payment charge through the provider
func (g *HTTPGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("charge request is required")
	}
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}

	body := &chargeBody{
		PaymentID:      req.PaymentID.String(),
		OrderID:        req.OrderID.String(),
		CustomerID:     req.CustomerID.String(),
		Amount:         req.Amount.Amount().StringFixed(2),
		Currency:       req.Amount.Currency(),
		Method:         req.Method,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	}

	var result chargeResult
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post("/v1/charges")
	if err != nil {
		g.breaker.RecordFailure()
		return nil, fmt.Errorf("charge request failed: %w", err)
	}

	switch {
	case resp.IsSuccess():
		g.breaker.RecordSuccess()
		return &ChargeResponse{
			Success:       true,
			TransactionID: result.TransactionID,
			Status:        result.Status,
		}, nil

	case resp.StatusCode() == http.StatusPaymentRequired ||
		resp.StatusCode() == http.StatusUnprocessableEntity:
		// Decline. The provider is healthy, it just said no.
		g.breaker.RecordSuccess()
		g.log.Info("charge declined",
			"payment_id", req.PaymentID.String(),
			"failure_code", result.FailureCode)
		return &ChargeResponse{
			Success:       false,
			TransactionID: result.TransactionID,
			Status:        result.Status,
			FailureReason: result.FailureReason,
			FailureCode:   result.FailureCode,
		}, nil

	default:
		g.breaker.RecordFailure()
		return nil, fmt.Errorf("charge request failed: provider returned %d", resp.StatusCode())
	}
}

// Refund processes a refund through the provider
func (g *HTTPGateway) Refund(ctx context.Context, transactionID string, amount domain.Money) error {
	if transactionID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	if err := g.breaker.Allow(); err != nil {
		return err
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(&refundBody{
			TransactionID: transactionID,
			Amount:        amount.Amount().StringFixed(2),
			Currency:      amount.Currency(),
		}).
		Post("/v1/refunds")
	if err != nil {
		g.breaker.RecordFailure()
		return fmt.Errorf("refund request failed: %w", err)
	}
	if !resp.IsSuccess() {
		g.breaker.RecordFailure()
		return fmt.Errorf("refund request failed: provider returned %d", resp.StatusCode())
	}
	g.breaker.RecordSuccess()
	return nil
}

// Name returns the gateway name
func (g *HTTPGateway) Name() string { return "http" }

// BreakerState exposes the circuit state for health reporting
func (g *HTTPGateway) BreakerState() string { return g.breaker.State() }
