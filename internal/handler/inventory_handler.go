package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/internal/dto"
	"github.com/fluxmart/core/internal/service"
	"github.com/fluxmart/core/pkg/telemetry"
)

// InventoryHandler handles inventory HTTP requests
type InventoryHandler struct {
	inventory *service.InventoryService
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(inventory *service.InventoryService) *InventoryHandler {
	return &InventoryHandler{inventory: inventory}
}

// CreateProductRequest represents request to register a product
type CreateProductRequest struct {
	Name              string `json:"name" binding:"required"`
	InitialStock      int64  `json:"initial_stock" binding:"min=0"`
	LowStockThreshold int64  `json:"low_stock_threshold" binding:"min=0"`
}

// AdjustStockRequest represents request to apply a manual stock delta
type AdjustStockRequest struct {
	Delta  int64  `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required,oneof=INBOUND LOSS CORRECTION"`
}

// CreateProduct handles POST /products
func (h *InventoryHandler) CreateProduct(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.create_product")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req CreateProductRequest
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

	initial, err := domain.NewQuantity(req.InitialStock)
	if err != nil {
		handleError(c, err)
		return
	}
	threshold, err := domain.NewQuantity(req.LowStockThreshold)
	if err != nil {
		handleError(c, err)
		return
	}

	p, err := h.inventory.CreateProduct(ctx, req.Name, initial, threshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("product_id", p.ID.String()))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, p)
}

// GetStock handles GET /products/:id/stock
func (h *InventoryHandler) GetStock(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.get_stock")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	productID, err := domain.ParseProductID(c.Param("id"))
	if err != nil {
		span.SetStatus(codes.Error, "invalid product id")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "invalid product id",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	span.SetAttributes(attribute.String("product_id", productID.String()))

	view, err := h.inventory.GetStock(ctx, productID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.StockResponse{
		ProductID: view.ProductID,
		Total:     view.Stock.Total.Int64(),
		Available: view.Stock.Available.Int64(),
		Reserved:  view.Stock.Reserved.Int64(),
		Version:   view.Version,
	})
}

// GetProduct handles GET /products/:id
func (h *InventoryHandler) GetProduct(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.get_product")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	productID, err := domain.ParseProductID(c.Param("id"))
	if err != nil {
		span.SetStatus(codes.Error, "invalid product id")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "invalid product id",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	p, err := h.inventory.GetProduct(ctx, productID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, p)
}

// AdjustStock handles POST /products/:id/adjust
func (h *InventoryHandler) AdjustStock(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.adjust")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	productID, err := domain.ParseProductID(c.Param("id"))
	if err != nil {
		span.SetStatus(codes.Error, "invalid product id")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "invalid product id",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var req AdjustStockRequest
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

	span.SetAttributes(
		attribute.String("product_id", productID.String()),
		attribute.Int64("delta", req.Delta),
		attribute.String("reason", req.Reason),
	)

	p, err := h.inventory.Adjust(ctx, productID, req.Delta, domain.AdjustmentReason(req.Reason))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.StockResponse{
		ProductID: p.ID.String(),
		Total:     p.Stock.Total.Int64(),
		Available: p.Stock.Available.Int64(),
		Reserved:  p.Stock.Reserved.Int64(),
		Version:   p.Version,
	})
}
