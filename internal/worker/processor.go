package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/dispatch-be/internal/worker/domain"
)

// processDelivery claims one event, posts it to the webhook and records the outcome
func (w *Worker) processDelivery(ctx context.Context, msg *domain.DeliveryMessage) error {
	evt := msg.Event
	audience := resolveAudience(evt)
	if len(audience) == 0 {
		w.logger.Debug("Event has no notification audience, skipping",
			slog.String("event_id", evt.ID),
			slog.String("event_type", string(evt.Type)),
		)
		return nil
	}

	delivery, err := w.storage.ClaimDelivery(ctx, evt.ID, string(evt.Type), evt.JobID, w.workerID, w.maxAttempts)
	if err != nil {
		if errors.Is(err, domain.ErrDeliveryClaimed) {
			w.logger.Warn("Delivery already claimed, skipping",
				slog.String("event_id", evt.ID),
			)
			return fmt.Errorf("event %s: %w", evt.ID, err)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim delivery: %w", err))
	}

	sendErr := w.postNotification(ctx, domain.Notification{
		EventID:  evt.ID,
		Type:     string(evt.Type),
		JobID:    evt.JobID,
		Audience: audience,
		Event:    evt,
	})

	// outcome is recorded even when shutdown canceled ctx mid-request
	recordCtx := context.WithoutCancel(ctx)

	if sendErr == nil {
		if err := w.storage.MarkDelivered(recordCtx, evt.ID, w.workerID); err != nil {
			w.logger.Error("Failed to mark delivery as delivered",
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
		}
		w.logger.Info("Notification delivered",
			slog.String("event_id", evt.ID),
			slog.String("event_type", string(evt.Type)),
			slog.String("job_id", evt.JobID),
			slog.Int("attempt", delivery.Attempts),
		)
		return nil
	}

	if err := w.storage.MarkFailed(recordCtx, evt.ID, w.workerID, sendErr.Error()); err != nil {
		w.logger.Error("Failed to mark delivery as failed",
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
	}

	if errors.Is(sendErr, domain.ErrWebhookRejected) || errors.Is(sendErr, domain.ErrInvalidPayload) {
		return sendErr
	}
	if delivery.Attempts < w.maxAttempts {
		w.logger.Info("Delivery will be retried",
			slog.String("event_id", evt.ID),
			slog.Int("attempt", delivery.Attempts),
			slog.Int("max_attempts", w.maxAttempts),
		)
		return domain.NewRetryableError(sendErr)
	}

	w.logger.Warn("Delivery exceeded max attempts",
		slog.String("event_id", evt.ID),
		slog.Int("attempts", delivery.Attempts),
	)
	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, sendErr)
}

// postNotification POSTs n to the webhook. A 4xx answer wraps
// ErrWebhookRejected; transport errors and any other non-2xx are transient.
func (w *Worker) postNotification(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: encode notification: %v", domain.ErrInvalidPayload, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create webhook request: %v", domain.ErrInvalidPayload, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.EventID)
	if w.webhookToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.webhookToken)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", domain.ErrWebhookRejected, resp.StatusCode)
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}
