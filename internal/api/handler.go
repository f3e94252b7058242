package api

import (
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/resilience"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orders    *service.OrderService
	inventory *service.InventoryService
	payments  *service.PaymentService
	bus       broker.EventBus
	health    *resilience.HealthAggregator
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	inventory *service.InventoryService,
	payments *service.PaymentService,
	bus broker.EventBus,
	health *resilience.HealthAggregator,
) *Handler {
	return &Handler{
		orders:    orders,
		inventory: inventory,
		payments:  payments,
		bus:       bus,
		health:    health,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(correlationMiddleware())
	router.Use(tracingMiddleware())
	router.Use(loggerMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PUT("/orders/:id/status", h.updateOrderStatus)
		v1.PUT("/orders/:id/payment", h.setOrderPayment)
		v1.GET("/orders/:id/payments", h.listOrderPayments)

		v1.POST("/inventory", h.createInventory)
		v1.GET("/inventory", h.listInventory)
		v1.POST("/inventory/verify", h.verifyStock)
		v1.POST("/inventory/reserve", h.reserveStock)
		v1.POST("/inventory/release", h.releaseStock)
		v1.POST("/inventory/confirm", h.confirmStock)
		v1.GET("/inventory/:productId", h.getInventory)
		v1.PUT("/inventory/:productId", h.updateInventory)

		v1.POST("/payments", h.createPayment)
		v1.GET("/payments/:id", h.getPayment)
		v1.POST("/payments/:id/refund", h.refundPayment)
		v1.POST("/payments/:id/retry", h.retryPayment)

		v1.POST("/events", h.publishEvent)
		v1.GET("/events/stats", h.eventStats)
		v1.GET("/events/recent", h.recentEvents)
		v1.GET("/events/:id", h.getEvent)
	}
}

// healthCheck runs every registered dependency check
func (h *Handler) healthCheck(c *gin.Context) {
	report := h.health.Check(c.Request.Context())

	status := http.StatusOK
	if report.Status == resilience.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// readinessCheck reports ready once the event bus is connected
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.bus.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"error":  err.Error(),
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
