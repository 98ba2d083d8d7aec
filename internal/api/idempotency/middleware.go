package idempotency

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	HeaderKey       = "Idempotency-Key"
	HeaderLegacyKey = "X-Idempotency-Key"
	HeaderReplayed  = "Idempotent-Replayed"
)

// Middleware makes mutating requests carrying an Idempotency-Key safe to
// retry. Keys are scoped to the caller, method and path. Server errors
// release the key so the client can try again.
func Middleware(store Store, ttl time.Duration, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderKey)
		if key == "" {
			key = c.GetHeader(HeaderLegacyKey)
		}
		if key == "" || !mutating(c.Request.Method) {
			c.Next()
			return
		}

		scoped := strings.Join([]string{
			c.GetHeader("X-Actor-ID"),
			c.Request.Method,
			c.Request.URL.Path,
			key,
		}, "|")
		ctx := c.Request.Context()

		rec, reserved, err := store.Reserve(ctx, scoped, ttl)
		if err != nil {
			// the request still runs, just without replay protection
			logger.Warn("Idempotency store unavailable", slog.Any("error", err))
			c.Next()
			return
		}
		if rec != nil {
			c.Header(HeaderReplayed, "true")
			c.Data(rec.Status, rec.ContentType, rec.Body)
			c.Abort()
			return
		}
		if !reserved {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": "a request with this idempotency key is still in progress",
				"kind":  "conflict",
			})
			return
		}

		w := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		// the client may have gone away; the outcome is still recorded
		ctx = context.WithoutCancel(ctx)
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			if err := store.Release(ctx, scoped); err != nil {
				logger.Warn("Failed to release idempotency key", slog.Any("error", err))
			}
			return
		}

		done := Record{
			Status:      status,
			ContentType: c.Writer.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		}
		if err := store.Complete(ctx, scoped, done, ttl); err != nil {
			logger.Warn("Failed to store idempotent response", slog.Any("error", err))
		}
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
