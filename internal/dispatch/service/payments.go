package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/disclosure"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
)

// AuthorizePayment places a hold for the job's live price on the customer's
// payment method. A secured card payment releases both parties' contact
// details.
func (s *Service) AuthorizePayment(ctx context.Context, actor domain.Actor, jobID, customerRef string) (disclosure.JobView, error) {
	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return disclosure.JobView{}, domain.Validationf("customer_ref is required")
	}

	var (
		view       disclosure.JobView
		authorized bool
		amount     domain.Money
	)
	err := s.withJob(jobID, func() error {
		var job *domain.Job
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			var err error
			job, err = loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if err := requireCustomerOrAdmin(actor, job); err != nil {
				return err
			}
			if job.Status.Terminal() {
				return wrongStatus(job, domain.JobStatusMatching, domain.JobStatusAssigned, domain.JobStatusInProgress)
			}
			switch job.PaymentStatus {
			case domain.PaymentStatusNone, domain.PaymentStatusBNPLConfirmed:
				return nil
			case domain.PaymentStatusAuthorized:
				view, err = s.view(ctx, tx, job, actor)
				return err
			default:
				return domain.InvalidTransitionf(domain.ReasonAlreadyAuthorized, "payment for job %s is %s", jobID, job.PaymentStatus)
			}
		})
		if err != nil || job.PaymentStatus == domain.PaymentStatusAuthorized {
			return err
		}

		amount = job.LivePrice
		ref, err := s.gateway.Authorize(ctx, customerRef, amount, jobID)
		if err != nil {
			s.logger.Warn("Payment authorization failed",
				slog.String("job_id", jobID),
				slog.Bool("retryable", domain.IsRetryable(err)),
				slog.Any("error", err),
			)
			return err
		}

		err = s.store.RunInTx(ctx, func(tx store.Tx) error {
			current, err := loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			now := s.clock()
			current.PaymentStatus = domain.PaymentStatusAuthorized
			current.PaymentRef = &ref
			current.ContactReleasedAt = &now
			current.UpdatedAt = now
			if err := tx.UpdateJob(ctx, current, current.Status); err != nil {
				return err
			}
			authorized = true
			view, err = s.view(ctx, tx, current, actor)
			return err
		})
		if err != nil {
			return err
		}

		if authorized {
			s.logger.Info("Payment authorized", slog.String("job_id", jobID), slog.String("amount", amount.String()))
			s.emit(jobID, domain.EventPaymentAuthorized, map[string]any{
				"paymentStatus": domain.PaymentStatusAuthorized,
				"amount":        amount,
				"disclosure":    domain.DisclosureReleased,
			})
		}
		return nil
	})
	if err != nil {
		return disclosure.JobView{}, err
	}
	return view, nil
}

// ConfirmBNPL records that the customer will pay later through a financing
// provider. Contact details stay masked.
func (s *Service) ConfirmBNPL(ctx context.Context, actor domain.Actor, jobID string) (disclosure.JobView, error) {
	var (
		view    disclosure.JobView
		changed bool
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
			if job.Status.Terminal() {
				return wrongStatus(job, domain.JobStatusMatching, domain.JobStatusAssigned, domain.JobStatusInProgress)
			}
			switch job.PaymentStatus {
			case domain.PaymentStatusBNPLConfirmed:
			case domain.PaymentStatusNone:
				job.PaymentStatus = domain.PaymentStatusBNPLConfirmed
				job.UpdatedAt = s.clock()
				if err := tx.UpdateJob(ctx, job, job.Status); err != nil {
					return err
				}
				changed = true
			default:
				return domain.InvalidTransitionf(domain.ReasonAlreadyAuthorized, "payment for job %s is %s", jobID, job.PaymentStatus)
			}
			view, err = s.view(ctx, tx, job, actor)
			return err
		})
		if err != nil {
			return err
		}

		if changed {
			s.emit(jobID, domain.EventPaymentAuthorized, map[string]any{
				"paymentStatus": domain.PaymentStatusBNPLConfirmed,
				"disclosure":    domain.DisclosureMasked,
			})
		}
		return nil
	})
	if err != nil {
		return disclosure.JobView{}, err
	}
	return view, nil
}

// RateJobInput is the customer's review of a completed job.
type RateJobInput struct {
	Rating   int
	Feedback *string
}

// RateJob stores the customer's rating and folds it into the provider's average.
func (s *Service) RateJob(ctx context.Context, actor domain.Actor, jobID string, in RateJobInput) (*domain.Completion, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, domain.Validationf("rating must be between 1 and 5")
	}
	if actor.Role != domain.RoleCustomer {
		return nil, domain.Unauthorizedf("only the customer rates a job")
	}

	var (
		c          *domain.Completion
		providerID string
	)
	err := s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			job, err := loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if job.CustomerID != actor.ID {
				return domain.Unauthorizedf("only the customer rates job %s", jobID)
			}
			if job.Status != domain.JobStatusCompleted {
				return wrongStatus(job, domain.JobStatusCompleted)
			}
			c, err = tx.GetCompletion(ctx, jobID)
			if err != nil {
				return err
			}
			if c.CustomerRating != nil {
				return domain.InvalidTransitionf(domain.ReasonAlreadyRated, "job %s was already rated", jobID)
			}

			now := s.clock()
			rating := in.Rating
			c.CustomerRating = &rating
			c.CustomerFeedback = in.Feedback
			c.UpdatedAt = now
			if err := tx.UpdateCompletion(ctx, c); err != nil {
				return err
			}

			providerID = *job.AssignedProviderID
			provider, err := loadProvider(ctx, tx, providerID)
			if err != nil {
				return err
			}
			provider.AddRating(rating)
			provider.UpdatedAt = now
			return tx.UpdateProvider(ctx, provider)
		})
		if err != nil {
			return err
		}

		s.emit(jobID, domain.EventJobRated, map[string]any{
			"providerId": providerID,
			"rating":     in.Rating,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
