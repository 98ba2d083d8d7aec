package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/disclosure"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
)

// ContactResult reports the provider's first-call confirmation.
type ContactResult struct {
	ConfirmedAt      time.Time
	AlreadyConfirmed bool
	// Late is set when the call was confirmed after the contact deadline.
	Late bool
}

// ConfirmContact records that the assigned provider called the customer.
// Confirming again returns the original timestamp.
func (s *Service) ConfirmContact(ctx context.Context, actor domain.Actor, jobID string) (*ContactResult, error) {
	var res ContactResult
	err := s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			job, err := loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if err := requireAssignedProvider(actor, job); err != nil {
				return err
			}
			if job.Status != domain.JobStatusAssigned && job.Status != domain.JobStatusInProgress {
				return wrongStatus(job, domain.JobStatusAssigned, domain.JobStatusInProgress)
			}
			if job.ContactState == domain.ContactConfirmed && job.ContactConfirmedAt != nil {
				res = ContactResult{ConfirmedAt: *job.ContactConfirmedAt, AlreadyConfirmed: true}
				return nil
			}

			now := s.clock()
			job.ContactState = domain.ContactConfirmed
			job.ContactConfirmedAt = &now
			job.UpdatedAt = now
			if err := tx.UpdateJob(ctx, job, job.Status); err != nil {
				return err
			}
			res = ContactResult{
				ConfirmedAt: now,
				Late:        job.ContactRequiredBy != nil && now.After(*job.ContactRequiredBy),
			}
			return nil
		})
		if err != nil {
			return err
		}

		if !res.AlreadyConfirmed {
			if res.Late {
				s.logger.Warn("Contact confirmed after deadline", slog.String("job_id", jobID), slog.String("provider_id", actor.ID))
			}
			s.emit(jobID, domain.EventCallConfirmed, map[string]any{
				"providerId":  actor.ID,
				"confirmedAt": res.ConfirmedAt,
				"late":        res.Late,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// StartJob moves an assigned job into progress and opens its checklist.
// Starting a job that is already running is a no-op for its provider.
func (s *Service) StartJob(ctx context.Context, actor domain.Actor, jobID string) (disclosure.JobView, error) {
	var (
		view    disclosure.JobView
		started bool
	)
	err := s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			job, err := loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if err := requireAssignedProvider(actor, job); err != nil {
				return err
			}
			switch job.Status {
			case domain.JobStatusInProgress:
				view, err = s.view(ctx, tx, job, actor)
				return err
			case domain.JobStatusAssigned:
			default:
				return wrongStatus(job, domain.JobStatusAssigned)
			}

			now := s.clock()
			job.Status = domain.JobStatusInProgress
			job.StartedAt = &now
			job.UpdatedAt = now
			if err := tx.UpdateJob(ctx, job, domain.JobStatusAssigned); err != nil {
				return err
			}
			if err := openCompletion(ctx, tx, job, now); err != nil {
				return err
			}
			started = true
			view, err = s.view(ctx, tx, job, actor)
			return err
		})
		if err != nil {
			return err
		}

		if started {
			s.logger.Info("Job started", slog.String("job_id", jobID), slog.String("provider_id", actor.ID))
			s.emit(jobID, domain.EventJobStarted, map[string]any{
				"status":     domain.JobStatusInProgress,
				"providerId": actor.ID,
			})
		}
		return nil
	})
	if err != nil {
		return disclosure.JobView{}, err
	}
	return view, nil
}

// openCompletion creates the checklist, resetting one left over from a
// cancelled run of the same job.
func openCompletion(ctx context.Context, tx store.Tx, job *domain.Job, now time.Time) error {
	c := &domain.Completion{
		JobID:         job.ID,
		OriginalQuote: job.LivePrice,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := tx.GetCompletion(ctx, job.ID)
	switch {
	case err == nil:
		return tx.UpdateCompletion(ctx, c)
	case isNotFound(err):
		return tx.CreateCompletion(ctx, c)
	default:
		return err
	}
}

// UpdateChecklist merges the provider's checklist changes.
func (s *Service) UpdateChecklist(ctx context.Context, actor domain.Actor, jobID string, u domain.ChecklistUpdate) (*domain.Completion, error) {
	var c *domain.Completion
	err := s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			job, err := loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if err := requireAssignedProvider(actor, job); err != nil {
				return err
			}
			if job.Status != domain.JobStatusInProgress {
				return wrongStatus(job, domain.JobStatusInProgress)
			}
			c, err = tx.GetCompletion(ctx, jobID)
			if err != nil {
				return err
			}
			c.Apply(u, s.clock())
			return tx.UpdateCompletion(ctx, c)
		})
		if err != nil {
			return err
		}

		s.emit(jobID, domain.EventChecklistUpdated, map[string]any{
			"arrivedAtPickup": c.ArrivedAtPickup,
			"itemsVerified":   c.ItemsVerified,
			"workCompleted":   c.WorkCompleted,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AddAdjustmentInput is a provider-proposed price change.
type AddAdjustmentInput struct {
	Type        domain.AdjustmentType
	ItemName    string
	Quantity    int
	PriceChange domain.Money
	Reason      string
	PhotoURLs   []string
}

func (in AddAdjustmentInput) validate() error {
	if !in.Type.Valid() {
		return domain.Validationf("unknown adjustment type %q", in.Type)
	}
	if in.PriceChange == 0 {
		return domain.Validationf("price_change must not be zero")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return domain.Validationf("reason is required")
	}
	if in.Quantity < 0 {
		return domain.Validationf("quantity must not be negative")
	}
	return nil
}

// AddAdjustment proposes a price change on a running job. It stays pending
// until the customer decides and blocks completion meanwhile.
func (s *Service) AddAdjustment(ctx context.Context, actor domain.Actor, jobID string, in AddAdjustmentInput) (*domain.Adjustment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var adj *domain.Adjustment
	err := s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			job, err := loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if err := requireAssignedProvider(actor, job); err != nil {
				return err
			}
			if job.Status != domain.JobStatusInProgress {
				return wrongStatus(job, domain.JobStatusInProgress)
			}

			adj = &domain.Adjustment{
				ID:          s.newID(),
				JobID:       jobID,
				ProviderID:  actor.ID,
				Type:        in.Type,
				ItemName:    in.ItemName,
				Quantity:    in.Quantity,
				PriceChange: in.PriceChange,
				Reason:      in.Reason,
				PhotoURLs:   in.PhotoURLs,
				Status:      domain.AdjustmentPending,
				CreatedAt:   s.clock(),
			}
			return tx.CreateAdjustment(ctx, adj)
		})
		if err != nil {
			return err
		}

		s.logger.Info("Adjustment added",
			slog.String("job_id", jobID),
			slog.String("adjustment_id", adj.ID),
			slog.String("price_change", adj.PriceChange.String()),
		)
		s.emit(jobID, domain.EventAdjustmentAdded, map[string]any{
			"adjustmentId":   adj.ID,
			"adjustmentType": adj.Type,
			"priceChange":    adj.PriceChange,
			"reason":         adj.Reason,
			"status":         adj.Status,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return adj, nil
}

// ListAdjustments returns every adjustment proposed on the job.
func (s *Service) ListAdjustments(ctx context.Context, actor domain.Actor, jobID string) ([]domain.Adjustment, error) {
	var out []domain.Adjustment
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		job, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if err := authorizeParty(ctx, tx, actor, job); err != nil {
			return err
		}
		out, err = tx.ListAdjustments(ctx, jobID)
		return err
	})
	return out, err
}

// ApproveAdjustment accepts a pending price change.
func (s *Service) ApproveAdjustment(ctx context.Context, actor domain.Actor, jobID, adjustmentID string) (*domain.Adjustment, error) {
	return s.decideAdjustment(ctx, actor, jobID, adjustmentID, domain.AdjustmentApproved)
}

// DeclineAdjustment rejects a pending price change.
func (s *Service) DeclineAdjustment(ctx context.Context, actor domain.Actor, jobID, adjustmentID string) (*domain.Adjustment, error) {
	return s.decideAdjustment(ctx, actor, jobID, adjustmentID, domain.AdjustmentDeclined)
}

func (s *Service) decideAdjustment(ctx context.Context, actor domain.Actor, jobID, adjustmentID string, decision domain.AdjustmentStatus) (*domain.Adjustment, error) {
	var (
		adj     *domain.Adjustment
		changed bool
		total   domain.Money
	)
	err := s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			job, err := loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if err := requireCustomerOrAdmin(actor, job); err != nil {
				return err
			}
			adj, err = tx.GetAdjustment(ctx, adjustmentID)
			if err != nil {
				return err
			}
			if adj.JobID != job.ID {
				return domain.NotFoundf("adjustment %s not found on job %s", adjustmentID, jobID)
			}

			switch adj.Status {
			case decision:
				return nil
			case domain.AdjustmentPending:
			default:
				return domain.InvalidTransitionf(domain.ReasonAlreadyDecided, "adjustment %s is already %s", adj.ID, adj.Status)
			}
			if job.Status != domain.JobStatusInProgress {
				return wrongStatus(job, domain.JobStatusInProgress)
			}

			now := s.clock()
			adj.Status = decision
			adj.DecidedBy = &actor.ID
			adj.DecidedAt = &now
			if err := tx.DecideAdjustment(ctx, adj); err != nil {
				return err
			}
			changed = true

			all, err := tx.ListAdjustments(ctx, jobID)
			if err != nil {
				return err
			}
			total = domain.ApprovedTotal(domain.CurrentRun(all, job))
			c, err := tx.GetCompletion(ctx, jobID)
			if err != nil {
				return err
			}
			c.AdjustmentsTotal = total
			c.UpdatedAt = now
			return tx.UpdateCompletion(ctx, c)
		})
		if err != nil {
			return err
		}

		if changed {
			s.logger.Info("Adjustment decided",
				slog.String("job_id", jobID),
				slog.String("adjustment_id", adjustmentID),
				slog.String("decision", string(decision)),
			)
			s.emit(jobID, domain.EventAdjustmentUpdated, map[string]any{
				"adjustmentId":     adjustmentID,
				"status":           decision,
				"priceChange":      adj.PriceChange,
				"adjustmentsTotal": total,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return adj, nil
}
