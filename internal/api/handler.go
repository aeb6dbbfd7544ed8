package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pos-service/internal/errs"
	"pos-service/internal/redisclient"
	"pos-service/internal/service"
	"pos-service/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	orders       *service.OrderService
	drafts       *service.DraftService
	inventory    *service.InventoryService
	reservations *service.ReservationService
	projection   StockProjectionReader
	logger       *zap.Logger
}

// StockProjectionReader reads the eventually consistent stock cache
type StockProjectionReader interface {
	GetStock(ctx context.Context, productID, branchID int64, sectionID *int64) (redisclient.StockLevel, bool, error)
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	drafts *service.DraftService,
	inventory *service.InventoryService,
	reservations *service.ReservationService,
) *Handler {
	return &Handler{
		orders:       orders,
		drafts:       drafts,
		inventory:    inventory,
		reservations: reservations,
		logger:       util.GetLogger(),
	}
}

// WithProjection enables the projected stock endpoint
func (h *Handler) WithProjection(p StockProjectionReader) *Handler {
	h.projection = p
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, allowedOrigins []string) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(corsMiddleware(allowedOrigins))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/inventory/adjust", h.adjustStock)
		v1.POST("/inventory/transfer", h.transferStock)
		v1.GET("/inventory/:productId", h.getStock)
		v1.GET("/inventory/:productId/reconcile", h.reconcileStock)
		v1.GET("/inventory/:productId/projected", h.getProjectedStock)
		v1.GET("/movements", h.listMovements)

		v1.POST("/reservations/keys", h.newReservationKey)
		v1.POST("/reservations/reserve", h.reserve)
		v1.POST("/reservations/release", h.release)
		v1.POST("/reservations/clear", h.clearReservations)
		v1.POST("/sections/:id/reservations/release", h.releaseSectionReservations)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/:id/payments", h.addPayment)
		v1.POST("/orders/:id/refund", h.refundOrder)
		v1.POST("/orders/:id/refund-items", h.refundItems)

		v1.POST("/drafts", h.saveDraft)
		v1.PUT("/drafts/:id", h.saveDraft)
		v1.GET("/drafts", h.listDrafts)
		v1.GET("/drafts/:id", h.getDraft)
		v1.POST("/drafts/:id/suspend", h.suspendDraft)
		v1.DELETE("/drafts/:id", h.discardDraft)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError maps service errors onto HTTP statuses
func (h *Handler) respondError(c *gin.Context, err error) {
	var stock *errs.InsufficientStockError
	if errors.As(err, &stock) {
		c.JSON(http.StatusConflict, gin.H{
			"error":      err.Error(),
			"kind":       errs.KindInsufficientStock.String(),
			"product_id": stock.ProductID,
			"scope":      stock.Scope,
			"available":  stock.Available,
			"requested":  stock.Requested,
		})
		return
	}

	var table *errs.TableConflictError
	if errors.As(err, &table) {
		c.JSON(http.StatusConflict, gin.H{
			"error":        err.Error(),
			"kind":         errs.KindConflict.String(),
			"table_id":     table.TableID,
			"order_id":     table.OrderID,
			"order_number": table.OrderNumber,
			"status":       table.Status,
		})
		return
	}

	kind := errs.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errs.KindInvalidRequest:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindConflict:
		status = http.StatusConflict
	case errs.KindIllegalTransition:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{
			"error": "Internal server error",
			"kind":  kind.String(),
		})
		return
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}

func badRequest(c *gin.Context, msg string, err error) {
	body := gin.H{
		"error": msg,
		"kind":  errs.KindInvalidRequest.String(),
	}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// pathID parses an int64 path parameter, writing a 400 on failure
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid "+name, nil)
		return 0, false
	}
	return id, true
}

// queryID parses an optional int64 query parameter
func queryID(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		badRequest(c, "Invalid "+name, err)
		return nil, false
	}
	return &id, true
}

// actingUser returns the X-User-ID header value, if any
func actingUser(c *gin.Context) *int64 {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-User-ID"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	cfg.AllowAllOrigins = len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" {
			cfg.AllowAllOrigins = true
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
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
