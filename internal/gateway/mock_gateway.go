package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxmart/core/internal/domain"
)

// MockGateway implements PaymentGateway for testing and load testing
type MockGateway struct {
	config  *MockGatewayConfig
	refunds sync.Map
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// SuccessRate is the probability of a successful charge (0.0 to 1.0).
	// Set it to 1 or 0 for deterministic tests.
	SuccessRate float64

	// Delay is the simulated processing delay
	Delay time.Duration

	// FailureReasons is the pool of decline reasons
	FailureReasons []string
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		SuccessRate: 0.95,
		Delay:       50 * time.Millisecond,
		FailureReasons: []string{
			"insufficient_funds",
			"card_declined",
			"expired_card",
			"fraud_detected",
		},
	}
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}
	if config.SuccessRate < 0 {
		config.SuccessRate = 0
	}
	if config.SuccessRate > 1 {
		config.SuccessRate = 1
	}
	return &MockGateway{config: config}
}

// Charge processes a mock payment charge
func (g *MockGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("charge request is required")
	}

	if g.config.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.config.Delay):
		}
	}

	if rand.Float64() >= g.config.SuccessRate {
		reason := "payment_failed"
		if len(g.config.FailureReasons) > 0 {
			reason = g.config.FailureReasons[rand.Intn(len(g.config.FailureReasons))]
		}
		return &ChargeResponse{
			Success:       false,
			Status:        "failed",
			FailureReason: reason,
			FailureCode:   reason,
		}, nil
	}

	return &ChargeResponse{
		Success:       true,
		TransactionID: fmt.Sprintf("mock_txn_%s", uuid.New().String()[:8]),
		Status:        "completed",
	}, nil
}

// Refund records a mock refund
func (g *MockGateway) Refund(_ context.Context, transactionID string, amount domain.Money) error {
	if transactionID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	g.refunds.Store(transactionID, amount)
	return nil
}

// Refunded reports whether a transaction was refunded. Test helper.
func (g *MockGateway) Refunded(transactionID string) bool {
	_, ok := g.refunds.Load(transactionID)
	return ok
}

// Name returns the gateway name
func (g *MockGateway) Name() string { return "mock" }
