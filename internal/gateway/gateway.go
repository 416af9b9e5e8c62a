package gateway

import (
	"context"

	"github.com/fluxmart/core/internal/domain"
)

// PaymentGateway defines the interface for payment processing
type PaymentGateway interface {
	// Charge processes a payment charge. A declined charge is not an
	// error: it comes back as a response with Success=false. Errors are
	// reserved for transport and provider failures.
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error)

	// Refund returns a captured amount to the customer
	Refund(ctx context.Context, transactionID string, amount domain.Money) error

	// Name returns the gateway name
	Name() string
}

// ChargeRequest represents a charge request
type ChargeRequest struct {
	PaymentID  domain.PaymentID
	OrderID    domain.OrderID
	CustomerID domain.CustomerID
	Amount     domain.Money
	Method     string

	// IdempotencyKey lets the provider deduplicate retried charges
	IdempotencyKey string

	Metadata map[string]string
}

// ChargeResponse represents a charge response
type ChargeResponse struct {
	Success       bool
	TransactionID string
	Status        string
	FailureReason string
	FailureCode   string
}
