package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxmart/core/internal/dto"
)

// NewRouter builds the gin engine shared by the services. A nil handler
// leaves its route group unregistered, so each binary mounts only the
// surface it owns.
func NewRouter(serviceName string, orders *OrderHandler, inventory *InventoryHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DisableConsoleColor()

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok", Service: serviceName})
	})

	v1 := router.Group("/api/v1")
	if orders != nil {
		group := v1.Group("/orders")
		group.POST("", orders.CreateOrder)
		group.GET("/:id", orders.GetOrder)
		group.POST("/:id/cancel", orders.CancelOrder)
	}
	if inventory != nil {
		group := v1.Group("/products")
		group.POST("", inventory.CreateProduct)
		group.GET("/:id", inventory.GetProduct)
		group.GET("/:id/stock", inventory.GetStock)
		group.POST("/:id/adjust", inventory.AdjustStock)
	}
	return router
}
