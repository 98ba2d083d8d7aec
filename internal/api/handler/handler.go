package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/broadcast"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/service"
)

// Caller identity headers. Authentication happens upstream of this service.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	actorKey = "dispatch.actor"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service *service.Service
	Hub     *broadcast.Hub
}

// JobHandler handles job, matching and work HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	service *service.Service
	hub     *broadcast.Hub
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		service: deps.Service,
		hub:     deps.Hub,
	}
}

// ProviderHandler handles provider onboarding and penalty HTTP requests
type ProviderHandler struct {
	logger  *slog.Logger
	service *service.Service
}

// NewProviderHandler creates a new ProviderHandler instance
func NewProviderHandler(deps *Dependencies) *ProviderHandler {
	return &ProviderHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}

// ActorMiddleware resolves the caller from the identity headers and rejects
// requests without a usable identity.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := parseActor(c.GetHeader(HeaderActorID), c.GetHeader(HeaderActorRole))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "X-Actor-ID and X-Actor-Role headers are required",
			})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func parseActor(id, role string) (domain.Actor, bool) {
	actor := domain.Actor{ID: id, Role: domain.Role(role)}
	if actor.ID == "" || !actor.Role.Valid() {
		return domain.Actor{}, false
	}
	return actor, true
}

// ActorFrom returns the caller set by ActorMiddleware.
func ActorFrom(c *gin.Context) domain.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(domain.Actor); ok {
			return actor
		}
	}
	return domain.Actor{}
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidTransition, domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindPaymentDeclined:
		return http.StatusPaymentRequired
	case domain.KindPaymentUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, logger *slog.Logger, op string, err error) {
	status := StatusFor(err)

	var de *domain.Error
	if !errors.As(err, &de) {
		logger.Error("Request failed",
			slog.String("operation", op),
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		c.JSON(status, gin.H{"error": "internal error", "kind": string(domain.KindInternal)})
		return
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", slog.String("operation", op), slog.Any("error", err))
	} else {
		logger.Debug("Request rejected", slog.String("operation", op), slog.Any("error", err))
	}

	body := gin.H{
		"error": de.Error(),
		"kind":  string(de.Kind),
	}
	if de.Reason != "" {
		body["reason"] = string(de.Reason)
	}
	if de.Condition != "" {
		body["condition"] = string(de.Condition)
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, logger *slog.Logger, msg string, err error) {
	logger.Debug(msg, slog.String("path", c.Request.URL.Path), slog.Any("error", err))
	c.JSON(http.StatusBadRequest, gin.H{
		"error": msg + ": " + err.Error(),
		"kind":  string(domain.KindValidation),
	})
}
