package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/websocket"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/broadcast"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

const streamWriteTimeout = 10 * time.Second

type connectedFrame struct {
	Type      string `json:"type"`
	JobID     string `json:"jobId"`
	Role      string `json:"role"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

// StreamJob handles GET /api/v1/jobs/:job_id/stream
// Upgrades to a websocket carrying the job's lifecycle events. Browsers
// cannot set headers on the upgrade, so the identity may also come from the
// role and userId query parameters.
func (h *JobHandler) StreamJob(c *gin.Context) {
	jobID := c.Param("job_id")
	actor, ok := parseActor(
		firstNonEmpty(c.Query("userId"), c.GetHeader(HeaderActorID)),
		firstNonEmpty(c.Query("role"), c.GetHeader(HeaderActorRole)),
	)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "role and userId are required"})
		return
	}

	if err := h.service.AuthorizeSubscription(c.Request.Context(), actor, jobID); err != nil {
		respondError(c, h.logger, "stream_job", err)
		return
	}

	// Origin checks belong to the CORS layer in front of this service.
	srv := websocket.Server{
		Handler: func(ws *websocket.Conn) {
			h.serveStream(ws, jobID, actor)
		},
	}
	srv.ServeHTTP(c.Writer, c.Request)
}

func (h *JobHandler) serveStream(ws *websocket.Conn, jobID string, actor domain.Actor) {
	defer ws.Close()

	sub := h.hub.Subscribe(jobID, actor)
	defer sub.Close()

	ctx, cancel := context.WithCancel(ws.Request().Context())
	defer cancel()

	logger := h.logger.With(
		slog.String("job_id", jobID),
		slog.String("actor_id", actor.ID),
		slog.String("role", string(actor.Role)),
	)
	logger.Info("Stream connected")

	hello := connectedFrame{
		Type:      broadcast.FrameConnected,
		JobID:     jobID,
		Role:      string(actor.Role),
		UserID:    actor.ID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := h.send(ws, hello); err != nil {
		logger.Debug("Failed to send connected frame", slog.Any("error", err))
		return
	}

	go h.readFrames(ctx, cancel, ws, sub, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stream closed", slog.Int64("dropped", sub.Dropped()))
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := h.send(ws, evt); err != nil {
				logger.Debug("Stream write failed", slog.Any("error", err))
				return
			}
		}
	}
}

// readFrames applies inbound frames until the peer goes away. Frames that
// do not parse are skipped.
func (h *JobHandler) readFrames(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, sub *broadcast.Subscription, logger *slog.Logger) {
	defer cancel()
	for {
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			return
		}
		var frame broadcast.InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Debug("Dropping malformed frame", slog.Any("error", err))
			continue
		}
		broadcast.HandleInbound(ctx, h.service, sub, frame, logger)
	}
}

func (h *JobHandler) send(ws *websocket.Conn, v any) error {
	if err := ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return websocket.JSON.Send(ws, v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
