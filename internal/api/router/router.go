package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dispatch-be/internal/api/handler"
	"github.com/cuongbtq/dispatch-be/internal/api/idempotency"
)

// Options carries the optional parts of the router.
type Options struct {
	// Idempotency enables Idempotency-Key handling on mutating routes when set.
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "dispatch-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	providerHandler := handler.NewProviderHandler(deps)

	v1 := r.Group("/api/v1")

	// The stream authenticates from its query string, see StreamJob.
	v1.GET("/jobs/:job_id/stream", jobHandler.StreamJob)

	api := v1.Group("")
	api.Use(handler.ActorMiddleware())
	if opts.Idempotency != nil {
		ttl := opts.IdempotencyTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		api.Use(idempotency.Middleware(opts.Idempotency, ttl, deps.Logger))
	}

	jobs := api.Group("/jobs")
	{
		jobs.POST("", jobHandler.CreateJob)
		jobs.GET("", jobHandler.ListJobs)
		jobs.GET("/:job_id", jobHandler.GetJob)

		// Matching
		jobs.GET("/:job_id/attempts", jobHandler.ListAttempts)
		jobs.POST("/:job_id/attempts/:attempt_id/accept", jobHandler.AcceptMatch)
		jobs.POST("/:job_id/attempts/:attempt_id/decline", jobHandler.DeclineMatch)
		jobs.POST("/:job_id/withdraw", jobHandler.WithdrawJob)
		jobs.POST("/:job_id/rematch", jobHandler.RematchJob)

		// Work
		jobs.POST("/:job_id/confirm-contact", jobHandler.ConfirmContact)
		jobs.POST("/:job_id/start", jobHandler.StartJob)
		jobs.PATCH("/:job_id/checklist", jobHandler.UpdateChecklist)
		jobs.GET("/:job_id/adjustments", jobHandler.ListAdjustments)
		jobs.POST("/:job_id/adjustments", jobHandler.AddAdjustment)
		jobs.POST("/:job_id/adjustments/:adjustment_id/approve", jobHandler.ApproveAdjustment)
		jobs.POST("/:job_id/adjustments/:adjustment_id/decline", jobHandler.DeclineAdjustment)
		jobs.POST("/:job_id/complete", jobHandler.CompleteJob)
		jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		jobs.POST("/:job_id/no-show", jobHandler.ReportNoShow)

		// Payment
		jobs.POST("/:job_id/payment/authorize", jobHandler.AuthorizePayment)
		jobs.POST("/:job_id/payment/bnpl", jobHandler.ConfirmBNPL)
		jobs.POST("/:job_id/rating", jobHandler.RateJob)
	}

	api.GET("/offers", jobHandler.ListOffers)

	providers := api.Group("/providers")
	{
		providers.POST("", providerHandler.RegisterProvider)
		providers.GET("/:provider_id", providerHandler.GetProvider)
		providers.PATCH("/:provider_id/compliance", providerHandler.UpdateCompliance)
		providers.GET("/:provider_id/penalties", providerHandler.ListPenalties)
	}

	penalties := api.Group("/penalties")
	{
		penalties.POST("/:penalty_id/waive", providerHandler.WaivePenalty)
		penalties.POST("/:penalty_id/retry", providerHandler.RetryPenaltyCharge)
	}

	return r
}
