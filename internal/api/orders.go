package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/store"

	"github.com/gin-gonic/gin"
)

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	if req.UserID == 0 {
		if user := actingUser(c); user != nil {
			req.UserID = *user
		}
	}

	order, err := h.orders.Create(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.Get(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// listOrders handles order listing with query filters
func (h *Handler) listOrders(c *gin.Context) {
	var f store.OrderFilter
	var ok bool
	if f.BranchID, ok = queryID(c, "branch_id"); !ok {
		return
	}
	if f.SectionID, ok = queryID(c, "section_id"); !ok {
		return
	}
	if f.TableID, ok = queryID(c, "table_id"); !ok {
		return
	}
	if f.UserID, ok = queryID(c, "user_id"); !ok {
		return
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, models.OrderStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "Invalid "+name, err)
			return
		}
		*dst = &ts
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "Invalid "+name, err)
			return
		}
		*dst = n
	}

	orders, err := h.orders.List(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// updateOrderStatus moves an order along its lifecycle
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	status := models.OrderStatus(strings.ToUpper(string(req.Status)))
	userID := actingUser(c)
	var order *models.Order
	var err error
	if status == models.OrderStatusRefunded {
		order, err = h.orders.Refund(c.Request.Context(), orderID, userID)
	} else {
		order, err = h.orders.UpdateStatus(c.Request.Context(), orderID, status, userID)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// addPayment appends a payment to an order
func (h *Handler) addPayment(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.orders.AddPayment(c.Request.Context(), orderID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// refundOrder fully refunds a paid order
func (h *Handler) refundOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.Refund(c.Request.Context(), orderID, actingUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type refundItemsRequest struct {
	Lines []service.RefundLine `json:"lines" binding:"required"`
}

// refundItems records a partial refund as a counter-order
func (h *Handler) refundItems(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req refundItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	counter, err := h.orders.RefundItems(c.Request.Context(), orderID, req.Lines, actingUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, counter)
}
