package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dispatch-be/internal/api/dto"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/service"
)

// CreateJob handles POST /api/v1/jobs
// Creates a job and offers it to the best ranked providers
func (h *JobHandler) CreateJob(c *gin.Context) {
	actor := ActorFrom(c)
	h.logger.Info("CreateJob called",
		slog.String("actor_id", actor.ID),
		slog.String("role", string(actor.Role)),
	)

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	res, err := h.service.CreateJob(c.Request.Context(), actor, req.Input())
	if err != nil {
		respondError(c, h.logger, "create_job", err)
		return
	}

	c.JSON(http.StatusCreated, dto.CreateJobResponse{
		Job:      dto.FromJobView(res.View),
		Attempts: dto.FromMatchAttempts(res.Attempts),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	view, err := h.service.GetJob(c.Request.Context(), ActorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "get_job", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJobView(view))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs visible to the caller, newest first, with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, h.logger, "Invalid query parameters", err)
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		badRequest(c, h.logger, "Invalid cursor", err)
		return
	}

	page, err := h.service.ListJobs(c.Request.Context(), ActorFrom(c), service.ListJobsInput{
		Status:      domain.JobStatus(req.Status),
		CustomerID:  req.CustomerID,
		ProviderID:  req.ProviderID,
		ManualQueue: req.ManualQueue,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	})
	if err != nil {
		respondError(c, h.logger, "list_jobs", err)
		return
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       dto.FromJobViews(page.Jobs),
		NextCursor: EncodeJobCursor(page.NextCursor),
		HasMore:    page.HasMore,
	})
}

// WithdrawJob handles POST /api/v1/jobs/:job_id/withdraw
func (h *JobHandler) WithdrawJob(c *gin.Context) {
	view, err := h.service.WithdrawJob(c.Request.Context(), ActorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "withdraw_job", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJobView(view))
}

// RematchJob handles POST /api/v1/jobs/:job_id/rematch
// Admin only: reopens matching for a lapsed, cancelled or withdrawn job
func (h *JobHandler) RematchJob(c *gin.Context) {
	res, err := h.service.RematchJob(c.Request.Context(), ActorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "rematch_job", err)
		return
	}
	c.JSON(http.StatusOK, dto.CreateJobResponse{
		Job:      dto.FromJobView(res.View),
		Attempts: dto.FromMatchAttempts(res.Attempts),
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels an accepted job and assesses the provider penalty
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")

	var req dto.CancelJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	res, err := h.service.CancelJob(c.Request.Context(), ActorFrom(c), jobID, req.Reason)
	if err != nil {
		respondError(c, h.logger, "cancel_job", err)
		return
	}

	h.logger.Info("Job cancelled via API",
		slog.String("job_id", jobID),
		slog.String("penalty_id", res.PenaltyID),
		slog.Bool("penalty_charged", res.PenaltyCharged),
	)

	c.JSON(http.StatusOK, dto.CancelJobResponse{
		Job:            dto.FromJobView(res.View),
		PenaltyID:      res.PenaltyID,
		PenaltyAmount:  int64(res.PenaltyAmount),
		PenaltyCharged: res.PenaltyCharged,
	})
}

// ReportNoShow handles POST /api/v1/jobs/:job_id/no-show
// Admin only: cancels an assigned job whose provider never arrived and
// assesses the no-show penalty
func (h *JobHandler) ReportNoShow(c *gin.Context) {
	jobID := c.Param("job_id")

	var req dto.ReportNoShowRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	res, err := h.service.ReportNoShow(c.Request.Context(), ActorFrom(c), jobID, req.Note)
	if err != nil {
		respondError(c, h.logger, "report_no_show", err)
		return
	}

	h.logger.Info("No-show reported via API",
		slog.String("job_id", jobID),
		slog.String("penalty_id", res.PenaltyID),
		slog.Bool("penalty_charged", res.PenaltyCharged),
	)

	c.JSON(http.StatusOK, dto.CancelJobResponse{
		Job:            dto.FromJobView(res.View),
		PenaltyID:      res.PenaltyID,
		PenaltyAmount:  int64(res.PenaltyAmount),
		PenaltyCharged: res.PenaltyCharged,
		NoShow:         res.NoShow,
	})
}

// CompleteJob handles POST /api/v1/jobs/:job_id/complete
// Completes the job and captures payment. A failed capture still completes
// the job and is reported in payment_error.
func (h *JobHandler) CompleteJob(c *gin.Context) {
	res, err := h.service.CompleteJob(c.Request.Context(), ActorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "complete_job", err)
		return
	}

	out := dto.CompleteJobResponse{
		Job:             dto.FromJobView(res.View),
		FinalAmount:     int64(res.FinalAmount),
		PaymentCaptured: res.PaymentCaptured,
		PaymentError:    res.PaymentError,
	}
	if res.PlatformFee != nil {
		v := int64(*res.PlatformFee)
		out.PlatformFee = &v
	}
	if res.ProviderPayout != nil {
		v := int64(*res.ProviderPayout)
		out.ProviderPayout = &v
	}
	c.JSON(http.StatusOK, out)
}

// AuthorizePayment handles POST /api/v1/jobs/:job_id/payment/authorize
func (h *JobHandler) AuthorizePayment(c *gin.Context) {
	var req dto.AuthorizePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	view, err := h.service.AuthorizePayment(c.Request.Context(), ActorFrom(c), c.Param("job_id"), req.PaymentMethodRef)
	if err != nil {
		respondError(c, h.logger, "authorize_payment", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJobView(view))
}

// ConfirmBNPL handles POST /api/v1/jobs/:job_id/payment/bnpl
func (h *JobHandler) ConfirmBNPL(c *gin.Context) {
	view, err := h.service.ConfirmBNPL(c.Request.Context(), ActorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "confirm_bnpl", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJobView(view))
}

// RateJob handles POST /api/v1/jobs/:job_id/rating
func (h *JobHandler) RateJob(c *gin.Context) {
	var req dto.RateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	completion, err := h.service.RateJob(c.Request.Context(), ActorFrom(c), c.Param("job_id"), service.RateJobInput{
		Rating:   req.Rating,
		Feedback: req.Feedback,
	})
	if err != nil {
		respondError(c, h.logger, "rate_job", err)
		return
	}
	c.JSON(http.StatusOK, dto.FromCompletion(completion))
}
