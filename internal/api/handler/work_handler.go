package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dispatch-be/internal/api/dto"
)

// ListAttempts handles GET /api/v1/jobs/:job_id/attempts
func (h *JobHandler) ListAttempts(c *gin.Context) {
	attempts, err := h.service.ListMatchAttempts(c.Request.Context(), ActorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "list_attempts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": dto.FromMatchAttempts(attempts)})
}

// ListOffers handles GET /api/v1/offers
// Returns the calling provider's live offers
func (h *JobHandler) ListOffers(c *gin.Context) {
	offers, err := h.service.ListProviderOffers(c.Request.Context(), ActorFrom(c))
	if err != nil {
		respondError(c, h.logger, "list_offers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": dto.FromOffers(offers)})
}

// AcceptMatch handles POST /api/v1/jobs/:job_id/attempts/:attempt_id/accept
func (h *JobHandler) AcceptMatch(c *gin.Context) {
	view, err := h.service.AcceptMatch(c.Request.Context(), ActorFrom(c), c.Param("job_id"), c.Param("attempt_id"))
	if err != nil {
		respondError(c, h.logger, "accept_match", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJobView(view))
}

// DeclineMatch handles POST /api/v1/jobs/:job_id/attempts/:attempt_id/decline
func (h *JobHandler) DeclineMatch(c *gin.Context) {
	attempt, err := h.service.DeclineMatch(c.Request.Context(), ActorFrom(c), c.Param("job_id"), c.Param("attempt_id"))
	if err != nil {
		respondError(c, h.logger, "decline_match", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromMatchAttempt(*attempt))
}

// ConfirmContact handles POST /api/v1/jobs/:job_id/confirm-contact
func (h *JobHandler) ConfirmContact(c *gin.Context) {
	res, err := h.service.ConfirmContact(c.Request.Context(), ActorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "confirm_contact", err)
		return
	}
	c.JSON(http.StatusOK, dto.ConfirmContactResponse{
		ConfirmedAt:      res.ConfirmedAt.UTC().Format(time.RFC3339),
		AlreadyConfirmed: res.AlreadyConfirmed,
		Late:             res.Late,
	})
}

// StartJob handles POST /api/v1/jobs/:job_id/start
func (h *JobHandler) StartJob(c *gin.Context) {
	view, err := h.service.StartJob(c.Request.Context(), ActorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "start_job", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJobView(view))
}

// UpdateChecklist handles PATCH /api/v1/jobs/:job_id/checklist
func (h *JobHandler) UpdateChecklist(c *gin.Context) {
	var req dto.ChecklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	completion, err := h.service.UpdateChecklist(c.Request.Context(), ActorFrom(c), c.Param("job_id"), req.Update())
	if err != nil {
		respondError(c, h.logger, "update_checklist", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromCompletion(completion))
}

// AddAdjustment handles POST /api/v1/jobs/:job_id/adjustments
func (h *JobHandler) AddAdjustment(c *gin.Context) {
	var req dto.AddAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	adj, err := h.service.AddAdjustment(c.Request.Context(), ActorFrom(c), c.Param("job_id"), req.Input())
	if err != nil {
		respondError(c, h.logger, "add_adjustment", err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromAdjustment(adj))
}

// ListAdjustments handles GET /api/v1/jobs/:job_id/adjustments
func (h *JobHandler) ListAdjustments(c *gin.Context) {
	adjustments, err := h.service.ListAdjustments(c.Request.Context(), ActorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "list_adjustments", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"adjustments": dto.FromAdjustments(adjustments)})
}

// ApproveAdjustment handles POST /api/v1/jobs/:job_id/adjustments/:adjustment_id/approve
func (h *JobHandler) ApproveAdjustment(c *gin.Context) {
	adj, err := h.service.ApproveAdjustment(c.Request.Context(), ActorFrom(c), c.Param("job_id"), c.Param("adjustment_id"))
	if err != nil {
		respondError(c, h.logger, "approve_adjustment", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromAdjustment(adj))
}

// DeclineAdjustment handles POST /api/v1/jobs/:job_id/adjustments/:adjustment_id/decline
func (h *JobHandler) DeclineAdjustment(c *gin.Context) {
	adj, err := h.service.DeclineAdjustment(c.Request.Context(), ActorFrom(c), c.Param("job_id"), c.Param("adjustment_id"))
	if err != nil {
		respondError(c, h.logger, "decline_adjustment", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromAdjustment(adj))
}
