package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/internal/dto"
	"github.com/fluxmart/core/internal/service"
	"github.com/fluxmart/core/pkg/telemetry"
)

// CustomerIDHeader carries the authenticated customer, set by the API
// gateway in front of this service.
const CustomerIDHeader = "X-Customer-ID"

// OrderHandler handles order HTTP requests
type OrderHandler struct {
	orders *service.OrderService
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// CreateOrder handles POST /orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.order.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	customerID, ok := h.customerID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	items, err := toOrderItems(req.Items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("customer_id", customerID.String()),
		attribute.Int("item_count", len(items)),
	)

	order, err := h.orders.CreateOrder(ctx, customerID, items, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) && order != nil {
			// The matching order is returned so the client can resume it.
			span.SetAttributes(attribute.String("duplicate_of", order.ID.String()))
			span.SetStatus(codes.Error, "duplicate order")
			c.JSON(http.StatusConflict, gin.H{
				"error": "duplicate order",
				"code":  "DUPLICATE_ORDER",
				"order": dto.FromOrder(order),
			})
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("order_id", order.ID.String()))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, dto.FromOrder(order))
}

// GetOrder handles GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.order.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	orderID, err := domain.ParseOrderID(c.Param("id"))
	if err != nil {
		span.SetStatus(codes.Error, "invalid order id")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "invalid order id",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	span.SetAttributes(attribute.String("order_id", orderID.String()))

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.FromOrder(order))
}

// CancelOrder handles POST /orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.order.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	if _, ok := h.customerID(c); !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	orderID, err := domain.ParseOrderID(c.Param("id"))
	if err != nil {
		span.SetStatus(codes.Error, "invalid order id")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "invalid order id",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var req dto.CancelOrderRequest
	// Reason is optional, an empty body is fine
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "customer request"
	}

	span.SetAttributes(attribute.String("order_id", orderID.String()))

	order, err := h.orders.CancelOrder(ctx, orderID, req.Reason, domain.CancelledByCustomer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.FromOrder(order))
}

func (h *OrderHandler) customerID(c *gin.Context) (domain.CustomerID, bool) {
	raw := c.GetHeader(CustomerIDHeader)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return domain.CustomerID{}, false
	}
	id, err := domain.ParseCustomerID(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "invalid customer id",
			Code:  "UNAUTHORIZED",
		})
		return domain.CustomerID{}, false
	}
	return id, true
}

func toOrderItems(reqs []dto.CreateOrderItemRequest) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(reqs))
	for _, r := range reqs {
		productID, err := domain.ParseProductID(r.ProductID)
		if err != nil {
			return nil, err
		}
		quantity, err := domain.NewQuantity(r.Quantity)
		if err != nil {
			return nil, err
		}
		price, err := domain.NewMoney(r.UnitPrice, r.Currency)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.OrderItem{
			ProductID:   productID,
			ProductName: r.ProductName,
			Quantity:    quantity,
			UnitPrice:   price,
		})
	}
	return items, nil
}

// handleError converts domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	switch {
	case domain.IsValidationError(err):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
	case domain.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "NOT_FOUND",
		})
	case errors.Is(err, domain.ErrInsufficientStock):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "INSUFFICIENT_STOCK",
		})
	case errors.Is(err, domain.ErrCancellationExpired):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "CANCELLATION_WINDOW_EXPIRED",
			Message: "Orders can only be cancelled within 24 hours of payment",
		})
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyConfirmed),
		errors.Is(err, domain.ErrStockInvariant):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_STATE",
		})
	case errors.Is(err, domain.ErrLockTimeout),
		errors.Is(err, domain.ErrConcurrencyConflict):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "BUSY",
			Message: "The resource is under contention, retry shortly",
		})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "internal server error",
			Code:  "INTERNAL_ERROR",
		})
	}
}
