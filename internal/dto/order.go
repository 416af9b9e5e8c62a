package dto

import (
	"time"

	"github.com/fluxmart/core/internal/domain"
)

// CreateOrderItemRequest is one product line in an order request
type CreateOrderItemRequest struct {
	ProductID   string `json:"product_id" binding:"required"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int64  `json:"quantity" binding:"required,min=1"`
	UnitPrice   string `json:"unit_price" binding:"required"`
	Currency    string `json:"currency" binding:"required,len=3"`
}

// CreateOrderRequest represents request to place an order
type CreateOrderRequest struct {
	Items          []CreateOrderItemRequest `json:"items" binding:"required,min=1,max=100,dive"`
	IdempotencyKey string                   `json:"idempotency_key,omitempty"`
}

// CancelOrderRequest represents request to cancel an order
type CancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

// OrderItemResponse is one product line in an order response
type OrderItemResponse struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name,omitempty"`
	Quantity      int64  `json:"quantity"`
	UnitPrice     string `json:"unit_price"`
	LineTotal     string `json:"line_total"`
	ReservationID string `json:"reservation_id,omitempty"`
}

// OrderResponse represents an order in API responses
type OrderResponse struct {
	ID                 string              `json:"id"`
	CustomerID         string              `json:"customer_id"`
	Status             string              `json:"status"`
	Items              []OrderItemResponse `json:"items"`
	TotalAmount        string              `json:"total_amount"`
	Currency           string              `json:"currency"`
	PaymentID          string              `json:"payment_id,omitempty"`
	CancellationReason string              `json:"cancellation_reason,omitempty"`
	CancelledBy        string              `json:"cancelled_by,omitempty"`
	PaidAt             *time.Time          `json:"paid_at,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	LastModifiedAt     time.Time           `json:"last_modified_at"`
}

// FromOrder converts a domain order to its API representation
func FromOrder(o *domain.Order) *OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		resp := OrderItemResponse{
			ProductID:   item.ProductID.String(),
			ProductName: item.ProductName,
			Quantity:    item.Quantity.Int64(),
			UnitPrice:   item.UnitPrice.Amount().StringFixed(2),
			LineTotal:   item.LineTotal.Amount().StringFixed(2),
		}
		if item.ReservationID != nil {
			resp.ReservationID = item.ReservationID.String()
		}
		items = append(items, resp)
	}

	out := &OrderResponse{
		ID:                 o.ID.String(),
		CustomerID:         o.CustomerID.String(),
		Status:             o.Status.String(),
		Items:              items,
		TotalAmount:        o.TotalAmount.Amount().StringFixed(2),
		Currency:           o.TotalAmount.Currency(),
		CancellationReason: o.CancellationReason,
		CancelledBy:        string(o.CancelledBy),
		PaidAt:             o.PaidAt,
		CreatedAt:          o.CreatedAt,
		LastModifiedAt:     o.LastModifiedAt,
	}
	if o.PaymentID != nil {
		out.PaymentID = o.PaymentID.String()
	}
	return out
}

// StockResponse represents a product's stock counters
type StockResponse struct {
	ProductID string `json:"product_id"`
	Total     int64  `json:"total"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
	Version   int64  `json:"version"`
}

// ErrorResponse is the error body returned by every endpoint
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the health probe body
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
