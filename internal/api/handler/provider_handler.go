package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dispatch-be/internal/api/dto"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
)

// RegisterProvider handles POST /api/v1/providers
func (h *ProviderHandler) RegisterProvider(c *gin.Context) {
	var req dto.RegisterProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	detail, err := h.service.RegisterProvider(c.Request.Context(), ActorFrom(c), req.Input())
	if err != nil {
		respondError(c, h.logger, "register_provider", err)
		return
	}

	h.logger.Info("Provider registered", slog.String("provider_id", detail.Profile.ID))
	c.JSON(http.StatusCreated, dto.FromProviderDetail(detail))
}

// GetProvider handles GET /api/v1/providers/:provider_id
func (h *ProviderHandler) GetProvider(c *gin.Context) {
	detail, err := h.service.GetProvider(c.Request.Context(), ActorFrom(c), c.Param("provider_id"))
	if err != nil {
		respondError(c, h.logger, "get_provider", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromProviderDetail(detail))
}

// UpdateCompliance handles PATCH /api/v1/providers/:provider_id/compliance
// Background check and tier changes are admin only
func (h *ProviderHandler) UpdateCompliance(c *gin.Context) {
	var req dto.ComplianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	detail, err := h.service.UpdateCompliance(c.Request.Context(), ActorFrom(c), c.Param("provider_id"), req.Update())
	if err != nil {
		respondError(c, h.logger, "update_compliance", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromProviderDetail(detail))
}

// ListPenalties handles GET /api/v1/providers/:provider_id/penalties
func (h *ProviderHandler) ListPenalties(c *gin.Context) {
	var req dto.ListPenaltiesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, h.logger, "Invalid query parameters", err)
		return
	}

	penalties, err := h.service.ListPenalties(c.Request.Context(), ActorFrom(c), store.PenaltyFilter{
		ProviderID: c.Param("provider_id"),
		JobID:      req.JobID,
		Status:     domain.PenaltyStatus(req.Status),
	})
	if err != nil {
		respondError(c, h.logger, "list_penalties", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"penalties": dto.FromPenalties(penalties)})
}

// WaivePenalty handles POST /api/v1/penalties/:penalty_id/waive
func (h *ProviderHandler) WaivePenalty(c *gin.Context) {
	var req dto.WaivePenaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	p, err := h.service.WaivePenalty(c.Request.Context(), ActorFrom(c), c.Param("penalty_id"), req.Reason)
	if err != nil {
		respondError(c, h.logger, "waive_penalty", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromPenalty(p))
}

// RetryPenaltyCharge handles POST /api/v1/penalties/:penalty_id/retry
func (h *ProviderHandler) RetryPenaltyCharge(c *gin.Context) {
	p, err := h.service.RetryPenaltyCharge(c.Request.Context(), ActorFrom(c), c.Param("penalty_id"))
	if err != nil {
		respondError(c, h.logger, "retry_penalty_charge", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromPenalty(p))
}
