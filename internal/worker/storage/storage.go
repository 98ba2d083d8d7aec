package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/dispatch-be/internal/worker/domain"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	lease  time.Duration
}

// NewStorage creates a new Storage instance. A delivery left in
// "delivering" for longer than lease is treated as abandoned and may be
// claimed again.
func NewStorage(db *sqlx.DB, lease time.Duration, logger *slog.Logger) *Storage {
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &Storage{
		db:     db,
		logger: logger,
		lease:  lease,
	}
}

type deliveryRow struct {
	EventID   string         `db:"event_id"`
	EventType string         `db:"event_type"`
	JobID     string         `db:"job_id"`
	Status    string         `db:"status"`
	WorkerID  sql.NullString `db:"worker_id"`
	Attempts  int            `db:"attempts"`
	LastError sql.NullString `db:"last_error"`
}

func (r deliveryRow) toDomain() *domain.Delivery {
	return &domain.Delivery{
		EventID:   r.EventID,
		EventType: r.EventType,
		JobID:     r.JobID,
		Status:    r.Status,
		WorkerID:  r.WorkerID.String,
		Attempts:  r.Attempts,
		LastError: r.LastError.String,
	}
}

// GetDelivery retrieves a delivery row by event id
func (s *Storage) GetDelivery(ctx context.Context, eventID string) (*domain.Delivery, error) {
	var row deliveryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT event_id, event_type, job_id, status, worker_id, attempts, last_error
		FROM notification_deliveries
		WHERE event_id = $1
	`, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("delivery %s: %w", eventID, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return row.toDomain(), nil
}

// ClaimDelivery records an attempt to deliver eventID using optimistic locking.
// The first claim inserts the row; later claims succeed only while the row is
// failed with attempts left, or its previous claim has outlived the lease.
func (s *Storage) ClaimDelivery(ctx context.Context, eventID, eventType, jobID, workerID string, maxAttempts int) (*domain.Delivery, error) {
	query := `
		INSERT INTO notification_deliveries (event_id, event_type, job_id, status, attempts, worker_id)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (event_id) DO UPDATE
		SET status = EXCLUDED.status,
		    attempts = notification_deliveries.attempts + 1,
		    worker_id = EXCLUDED.worker_id,
		    updated_at = NOW()
		WHERE notification_deliveries.attempts < $6
		  AND (notification_deliveries.status = $7
		       OR (notification_deliveries.status = $4
		           AND notification_deliveries.updated_at < NOW() - make_interval(secs => $8)))
		RETURNING event_id, event_type, job_id, status, worker_id, attempts, last_error
	`

	var row deliveryRow
	err := s.db.GetContext(ctx, &row, query,
		eventID, eventType, jobID, domain.DeliveryStatusDelivering, workerID,
		maxAttempts, domain.DeliveryStatusFailed, s.lease.Seconds(),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim delivery - already claimed, delivered or exhausted",
				slog.String("event_id", eventID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrDeliveryClaimed
		}
		return nil, fmt.Errorf("failed to claim delivery: %w", err)
	}

	s.logger.Info("Delivery claimed",
		slog.String("event_id", eventID),
		slog.String("worker_id", workerID),
		slog.Int("attempt", row.Attempts),
	)
	return row.toDomain(), nil
}

// MarkDelivered closes a delivery this worker holds
func (s *Storage) MarkDelivered(ctx context.Context, eventID, workerID string) error {
	return s.finish(ctx, eventID, workerID, domain.DeliveryStatusDelivered, "")
}

// MarkFailed records a failed attempt so a later redelivery can claim it again
func (s *Storage) MarkFailed(ctx context.Context, eventID, workerID, reason string) error {
	return s.finish(ctx, eventID, workerID, domain.DeliveryStatusFailed, reason)
}

func (s *Storage) finish(ctx context.Context, eventID, workerID, status, reason string) error {
	query := `
		UPDATE notification_deliveries
		SET status = $1::text,
		    last_error = NULLIF($2, ''),
		    delivered_at = CASE WHEN $1::text = $3::text THEN NOW() ELSE delivered_at END,
		    updated_at = NOW()
		WHERE event_id = $4
		  AND worker_id = $5
		  AND status = $6
	`

	result, err := s.db.ExecContext(ctx, query,
		status, reason, domain.DeliveryStatusDelivered, eventID, workerID, domain.DeliveryStatusDelivering,
	)
	if err != nil {
		return fmt.Errorf("failed to update delivery status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		s.logger.Warn("Delivery status update - no rows affected (claim may have been taken over)",
			slog.String("event_id", eventID),
			slog.String("status", status),
		)
		return nil
	}

	s.logger.Info("Delivery status updated",
		slog.String("event_id", eventID),
		slog.String("status", status),
	)
	return nil
}
