package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/disclosure"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/matching"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJobInput is a customer's service request.
type CreateJobInput struct {
	// CustomerID is required when an admin creates a job on a customer's behalf.
	CustomerID        string
	CustomerPhone     *string
	CustomerEmail     *string
	ServiceType       string
	LoadSize          string
	Pickup            domain.Location
	PickupAddress     string
	PreferredTier     domain.PayoutTier
	PreferredLanguage string
	PriceEstimate     domain.Money
}

func (in CreateJobInput) validate() error {
	var problems []string
	if strings.TrimSpace(in.ServiceType) == "" {
		problems = append(problems, "service_type is required")
	}
	if in.PriceEstimate <= 0 {
		problems = append(problems, "price_estimate must be positive")
	}
	if in.Pickup.Lat < -90 || in.Pickup.Lat > 90 {
		problems = append(problems, "pickup latitude out of range")
	}
	if in.Pickup.Lng < -180 || in.Pickup.Lng > 180 {
		problems = append(problems, "pickup longitude out of range")
	}
	if in.PreferredTier != "" && !in.PreferredTier.Valid() {
		problems = append(problems, fmt.Sprintf("unknown preferred tier %q", in.PreferredTier))
	}
	if len(problems) > 0 {
		return domain.Validationf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// CreateJobResult is the new job and the offers made for it.
type CreateJobResult struct {
	View     disclosure.JobView
	Attempts []domain.MatchAttempt
}

// CreateJob opens a matching window and offers the job to the best candidates.
func (s *Service) CreateJob(ctx context.Context, actor domain.Actor, in CreateJobInput) (*CreateJobResult, error) {
	switch {
	case actor.Role == domain.RoleCustomer:
		in.CustomerID = actor.ID
	case actor.IsAdmin():
		if in.CustomerID == "" {
			return nil, domain.Validationf("customer_id is required")
		}
	default:
		return nil, domain.Unauthorizedf("only customers create jobs")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.clock()
	job := &domain.Job{
		ID:                s.newID(),
		Status:            domain.JobStatusMatching,
		CustomerID:        in.CustomerID,
		CustomerPhone:     in.CustomerPhone,
		CustomerEmail:     in.CustomerEmail,
		ServiceType:       in.ServiceType,
		LoadSize:          in.LoadSize,
		Pickup:            in.Pickup,
		PickupAddress:     in.PickupAddress,
		PreferredTier:     in.PreferredTier,
		PreferredLanguage: in.PreferredLanguage,
		PriceEstimate:     in.PriceEstimate,
		LivePrice:         in.PriceEstimate,
		PaymentStatus:     domain.PaymentStatusNone,
		ContactState:      domain.ContactNotRequired,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	attempts, err := s.makeOffers(ctx, job, now)
	if err != nil {
		return nil, err
	}

	var view disclosure.JobView
	err = s.withJob(job.ID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			if err := tx.CreateJob(ctx, job); err != nil {
				return err
			}
			if len(attempts) > 0 {
				if err := tx.CreateMatchAttempts(ctx, attempts); err != nil {
					return err
				}
			}
			var err error
			view, err = s.view(ctx, tx, job, actor)
			return err
		})
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}

		s.logger.Info("Job created",
			slog.String("job_id", job.ID),
			slog.String("service_type", job.ServiceType),
			slog.Int("offers", len(attempts)),
			slog.Bool("needs_manual_match", job.NeedsManualMatch),
		)
		s.emit(job.ID, domain.EventJobCreated, map[string]any{
			"status":           job.Status,
			"serviceType":      job.ServiceType,
			"offers":           len(attempts),
			"needsManualMatch": job.NeedsManualMatch,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CreateJobResult{View: view, Attempts: attempts}, nil
}

// makeOffers opens a fresh matching window on job and ranks candidates.
// A job nobody can be offered to goes straight to the manual queue.
func (s *Service) makeOffers(ctx context.Context, job *domain.Job, now time.Time) ([]domain.MatchAttempt, error) {
	var pool []domain.ProviderProfile
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		pool, err = tx.ListCandidateProviders(ctx, job.ServiceType)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list candidate providers: %w", err)
	}

	attempts, err := s.matcher.Offers(ctx, matching.Request{
		JobID:             job.ID,
		ServiceType:       job.ServiceType,
		LoadSize:          job.LoadSize,
		Pickup:            job.Pickup,
		PreferredTier:     job.PreferredTier,
		PreferredLanguage: job.PreferredLanguage,
		BasePrice:         job.PriceEstimate,
	}, pool, now)
	if err != nil {
		return nil, fmt.Errorf("match job: %w", err)
	}

	expires := now.Add(s.policy.MatchingWindow)
	job.MatchingStartedAt = &now
	job.MatchingExpiresAt = &expires
	job.NeedsManualMatch = len(attempts) == 0
	return attempts, nil
}

// GetJob returns the job as the actor may see it. A lapsed matching window
// is persisted as needsManualMatch on first read.
func (s *Service) GetJob(ctx context.Context, actor domain.Actor, jobID string) (disclosure.JobView, error) {
	var view disclosure.JobView
	err := s.withJob(jobID, func() error {
		return s.store.RunInTx(ctx, func(tx store.Tx) error {
			job, err := loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if err := authorizeParty(ctx, tx, actor, job); err != nil {
				return err
			}
			if err := s.flagLapsed(ctx, tx, job); err != nil {
				return err
			}
			view, err = s.view(ctx, tx, job, actor)
			return err
		})
	})
	return view, err
}

// flagLapsed persists needsManualMatch for a job whose window ran out.
func (s *Service) flagLapsed(ctx context.Context, tx store.Tx, job *domain.Job) error {
	now := s.clock()
	if job.NeedsManualMatch || job.MatchingState(now) != domain.MatchingLapsed {
		return nil
	}
	job.NeedsManualMatch = true
	job.UpdatedAt = now
	if err := tx.UpdateJob(ctx, job, domain.JobStatusMatching); err != nil {
		return err
	}
	s.logger.Warn("Matching window lapsed, job needs manual match", slog.String("job_id", job.ID))
	return nil
}

// ListJobsInput narrows ListJobs.
type ListJobsInput struct {
	Status domain.JobStatus
	// CustomerID and ProviderID are honoured for admins only.
	CustomerID string
	ProviderID string
	// ManualQueue restricts to jobs awaiting manual matching; admins only.
	ManualQueue bool
	PageSize    int
	Cursor      *store.JobCursor
}

// JobPage is one page of ListJobs.
type JobPage struct {
	Jobs       []disclosure.JobView
	NextCursor *store.JobCursor
	HasMore    bool
}

// ListJobs returns the actor's jobs newest first.
func (s *Service) ListJobs(ctx context.Context, actor domain.Actor, in ListJobsInput) (*JobPage, error) {
	filter := store.JobFilter{Status: in.Status, Cursor: in.Cursor}
	switch actor.Role {
	case domain.RoleCustomer:
		filter.CustomerID = actor.ID
	case domain.RoleProvider:
		filter.ProviderID = actor.ID
	case domain.RoleAdmin:
		filter.CustomerID = in.CustomerID
		filter.ProviderID = in.ProviderID
	default:
		return nil, domain.Unauthorizedf("unknown role %q", actor.Role)
	}
	if in.ManualQueue {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
		now := s.clock()
		filter.ManualMatchAt = &now
	}

	filter.PageSize = in.PageSize
	if filter.PageSize <= 0 {
		filter.PageSize = defaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}

	page := &JobPage{}
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		jobs, err := tx.ListJobs(ctx, filter)
		if err != nil {
			return err
		}
		if len(jobs) > filter.PageSize {
			page.HasMore = true
			jobs = jobs[:filter.PageSize]
		}
		page.Jobs = make([]disclosure.JobView, 0, len(jobs))
		for i := range jobs {
			v, err := s.view(ctx, tx, &jobs[i], actor)
			if err != nil {
				return err
			}
			page.Jobs = append(page.Jobs, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	if page.HasMore {
		last := page.Jobs[len(page.Jobs)-1].Job
		page.NextCursor = &store.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}
	return page, nil
}

// WithdrawJob lets the customer pull a job nobody has accepted yet. Every
// pending offer expires with it.
func (s *Service) WithdrawJob(ctx context.Context, actor domain.Actor, jobID string) (disclosure.JobView, error) {
	var (
		view    disclosure.JobView
		changed bool
		expired int
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

			switch job.Status {
			case domain.JobStatusWithdrawn:
				view, err = s.view(ctx, tx, job, actor)
				return err
			case domain.JobStatusMatching:
			default:
				return wrongStatus(job, domain.JobStatusMatching)
			}

			now := s.clock()
			expired, err = tx.ExpireMatchAttempts(ctx, job.ID, "", now)
			if err != nil {
				return err
			}
			job.Status = domain.JobStatusWithdrawn
			job.MatchingExpiresAt = nil
			job.NeedsManualMatch = false
			job.UpdatedAt = now
			if err := tx.UpdateJob(ctx, job, domain.JobStatusMatching); err != nil {
				return err
			}
			changed = true
			view, err = s.view(ctx, tx, job, actor)
			return err
		})
		if err != nil {
			return err
		}

		if changed {
			s.logger.Info("Job withdrawn", slog.String("job_id", jobID), slog.Int("expired_offers", expired))
			s.emit(jobID, domain.EventJobWithdrawn, map[string]any{
				"status":        domain.JobStatusWithdrawn,
				"expiredOffers": expired,
			})
		}
		return nil
	})
	if err != nil {
		return disclosure.JobView{}, err
	}
	return view, nil
}

// RematchJob reopens matching for a job stuck in the manual queue or left
// behind by a cancellation or withdrawal. Admins only.
func (s *Service) RematchJob(ctx context.Context, actor domain.Actor, jobID string) (*CreateJobResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var (
		result   CreateJobResult
		declined int
	)
	err := s.withJob(jobID, func() error {
		var job *domain.Job
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			var err error
			job, err = loadJob(ctx, tx, jobID)
			return err
		})
		if err != nil {
			return err
		}

		now := s.clock()
		switch job.Status {
		case domain.JobStatusCancelled, domain.JobStatusWithdrawn:
		case domain.JobStatusMatching:
			if job.MatchingState(now) != domain.MatchingLapsed {
				return domain.InvalidTransitionf(domain.ReasonWrongStatus, "job %s is still inside its matching window", job.ID)
			}
		default:
			return wrongStatus(job, domain.JobStatusMatching, domain.JobStatusCancelled, domain.JobStatusWithdrawn)
		}

		expected := job.Status
		reopenJob(job, now)
		attempts, err := s.makeOffers(ctx, job, now)
		if err != nil {
			return err
		}

		err = s.store.RunInTx(ctx, func(tx store.Tx) error {
			if err := tx.LockJob(ctx, jobID); err != nil {
				return err
			}
			if _, err := tx.ExpireMatchAttempts(ctx, jobID, "", now); err != nil {
				return err
			}
			n, err := declineLeftovers(ctx, tx, jobID, actor.ID, now)
			if err != nil {
				return err
			}
			declined = n
			if err := tx.UpdateJob(ctx, job, expected); err != nil {
				return err
			}
			if len(attempts) > 0 {
				if err := tx.CreateMatchAttempts(ctx, attempts); err != nil {
					return err
				}
			}
			view, err := s.view(ctx, tx, job, actor)
			if err != nil {
				return err
			}
			result = CreateJobResult{View: view, Attempts: attempts}
			return nil
		})
		if err != nil {
			return err
		}

		s.logger.Info("Job rematched",
			slog.String("job_id", jobID),
			slog.Int("offers", len(result.Attempts)),
			slog.Int("declined_adjustments", declined),
		)
		s.emit(jobID, domain.EventJobRematched, map[string]any{
			"status":              domain.JobStatusMatching,
			"offers":              len(result.Attempts),
			"needsManualMatch":    result.View.Job.NeedsManualMatch,
			"declinedAdjustments": declined,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// declineLeftovers declines the adjustments still pending from the run a
// rematch abandons. Approved ones stay on record but no longer count
// toward the price once another provider accepts.
func declineLeftovers(ctx context.Context, tx store.Tx, jobID, deciderID string, now time.Time) (int, error) {
	adjustments, err := tx.ListAdjustments(ctx, jobID)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range adjustments {
		a := &adjustments[i]
		if a.Status != domain.AdjustmentPending {
			continue
		}
		a.Status = domain.AdjustmentDeclined
		a.DecidedBy = &deciderID
		a.DecidedAt = &now
		if err := tx.DecideAdjustment(ctx, a); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// reopenJob clears every assignment and cancellation field so the job can
// go through matching again.
func reopenJob(job *domain.Job, now time.Time) {
	job.Status = domain.JobStatusMatching
	job.AssignedProviderID = nil
	job.LivePrice = job.PriceEstimate
	job.AcceptedAt = nil
	job.ContactState = domain.ContactNotRequired
	job.ContactRequiredBy = nil
	job.ContactConfirmedAt = nil
	job.StartedAt = nil
	job.ArrivalNotifiedAt = nil
	job.CancelledAt = nil
	job.CancellationReason = nil
	job.CancelledBy = nil
	job.CancellationPenaltyID = nil
	job.CancellationPenaltyCharged = false
	job.UpdatedAt = now
}

// isNotFound reports whether err is a missing-entity error.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
