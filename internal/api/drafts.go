package api

import (
	"net/http"
	"strconv"
	"strings"

	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/store"

	"github.com/gin-gonic/gin"
)

// saveDraft creates a draft (POST) or replaces one (PUT /drafts/:id)
func (h *Handler) saveDraft(c *gin.Context) {
	var req service.SaveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if c.Param("id") != "" {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		req.ID = id
	}
	if req.UserID == 0 {
		if user := actingUser(c); user != nil {
			req.UserID = *user
		}
	}

	draft, err := h.drafts.Save(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if req.ID == 0 {
		status = http.StatusCreated
	}
	c.JSON(status, draft)
}

// getDraft returns one draft
func (h *Handler) getDraft(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	draft, err := h.drafts.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

// listDrafts returns drafts matching the query filters
func (h *Handler) listDrafts(c *gin.Context) {
	var f store.DraftFilter
	var ok bool
	if f.BranchID, ok = queryID(c, "branch_id"); !ok {
		return
	}
	if f.UserID, ok = queryID(c, "user_id"); !ok {
		return
	}
	f.Status = models.DraftStatus(strings.ToUpper(c.Query("status")))
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "Invalid limit", err)
			return
		}
		f.Limit = limit
	}

	drafts, err := h.drafts.List(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drafts": drafts})
}

// suspendDraft parks a draft
func (h *Handler) suspendDraft(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	draft, err := h.drafts.Suspend(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

// discardDraft deletes a draft and releases its reservations
func (h *Handler) discardDraft(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	released, err := h.drafts.Discard(c.Request.Context(), id, actingUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}
