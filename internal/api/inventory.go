package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pos-service/internal/errs"
	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/store"

	"github.com/gin-gonic/gin"
)

// adjustStock handles a single signed stock adjustment
func (h *Handler) adjustStock(c *gin.Context) {
	var req service.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if req.UserID == nil {
		req.UserID = actingUser(c)
	}

	result, err := h.inventory.Adjust(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// transferStock moves stock between two scopes
func (h *Handler) transferStock(c *gin.Context) {
	var req service.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if req.UserID == nil {
		req.UserID = actingUser(c)
	}

	result, err := h.inventory.Transfer(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// scopeQuery reads branch_id / section_id query parameters
func scopeQuery(c *gin.Context) (service.Scope, bool) {
	branchID, ok := queryID(c, "branch_id")
	if !ok {
		return service.Scope{}, false
	}
	sectionID, ok := queryID(c, "section_id")
	if !ok {
		return service.Scope{}, false
	}
	scope := service.Scope{SectionID: sectionID}
	if branchID != nil {
		scope.BranchID = *branchID
	}
	return scope, true
}

// getStock returns the on-hand quantity of one counter
func (h *Handler) getStock(c *gin.Context) {
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	scope, ok := scopeQuery(c)
	if !ok {
		return
	}

	qty, err := h.inventory.GetStock(c.Request.Context(), productID, scope)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id":  productID,
		"branch_id":   scope.BranchID,
		"section_id":  scope.SectionID,
		"qty_on_hand": qty,
	})
}

// getProjectedStock reads the cached counter maintained by the projection
// worker. It may lag behind the ledger.
func (h *Handler) getProjectedStock(c *gin.Context) {
	if h.projection == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stock projection is not enabled"})
		return
	}
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	scope, ok := scopeQuery(c)
	if !ok {
		return
	}
	if scope.SectionID == nil && scope.BranchID == 0 {
		badRequest(c, "branch_id or section_id is required", nil)
		return
	}

	level, found, err := h.projection.GetStock(c.Request.Context(), productID, scope.BranchID, scope.SectionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No projected stock for this counter",
			"kind":  errs.KindNotFound.String(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id":  productID,
		"branch_id":   scope.BranchID,
		"section_id":  scope.SectionID,
		"qty_on_hand": level.Quantity,
		"movement_id": level.Seq,
	})
}

// reconcileStock compares a counter with its ledger sum
func (h *Handler) reconcileStock(c *gin.Context) {
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	scope, ok := scopeQuery(c)
	if !ok {
		return
	}

	rec, err := h.inventory.Reconcile(c.Request.Context(), productID, scope)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// listMovements returns ledger rows matching the query filters
func (h *Handler) listMovements(c *gin.Context) {
	var f store.MovementFilter
	var ok bool
	if f.ProductID, ok = queryID(c, "product_id"); !ok {
		return
	}
	if f.BranchID, ok = queryID(c, "branch_id"); !ok {
		return
	}
	if f.SectionID, ok = queryID(c, "section_id"); !ok {
		return
	}
	if raw := c.Query("reason"); raw != "" {
		for _, r := range strings.Split(raw, ",") {
			f.Reasons = append(f.Reasons, models.MovementReason(strings.ToUpper(strings.TrimSpace(r))))
		}
	}
	f.RefPrefix = c.Query("ref_prefix")
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "Invalid since", err)
			return
		}
		f.Since = &since
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "Invalid limit", err)
			return
		}
		f.Limit = limit
	}

	movements, err := h.inventory.Movements(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements})
}

// newReservationKey issues a fresh cart reservation key
func (h *Handler) newReservationKey(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"reservation_key": h.reservations.NewKey()})
}

// reserve holds units of one cart line
func (h *Handler) reserve(c *gin.Context) {
	var req service.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if req.UserID == nil {
		req.UserID = actingUser(c)
	}

	result, err := h.reservations.Reserve(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// release gives back units of one cart line
func (h *Handler) release(c *gin.Context) {
	var req service.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if req.UserID == nil {
		req.UserID = actingUser(c)
	}

	result, err := h.reservations.Release(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type clearRequest struct {
	Key   string                    `json:"reservation_key" binding:"required"`
	Lines []service.ReservationLine `json:"lines"`
}

// clearReservations releases every line of a cart
func (h *Handler) clearReservations(c *gin.Context) {
	var req clearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	released, err := h.reservations.Clear(c.Request.Context(), req.Key, req.Lines, actingUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}

type releaseSectionRequest struct {
	Key    string `json:"reservation_key"`
	UserID *int64 `json:"user_id,omitempty"`
}

// releaseSectionReservations releases everything a key or user holds in a section
func (h *Handler) releaseSectionReservations(c *gin.Context) {
	sectionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req releaseSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if req.UserID == nil {
		req.UserID = actingUser(c)
	}

	released, err := h.inventory.ReleaseReservations(c.Request.Context(), sectionID, req.Key, req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}
