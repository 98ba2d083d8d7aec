package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/disclosure"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/payment"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
)

// CaptureFailedMessage is reported when a completed job's payment could not
// be captured and needs manual follow-up.
const CaptureFailedMessage = "Payment capture failed - manual follow-up required"

// CompleteResult is the outcome of CompleteJob.
type CompleteResult struct {
	View            disclosure.JobView
	FinalAmount     domain.Money
	PaymentCaptured bool
	PaymentError    string
	PlatformFee     *domain.Money
	ProviderPayout  *domain.Money
}

// CompleteJob finishes a running job and captures its payment. The final
// amount is the live price plus every adjustment approved during the
// current run. A failed capture does not undo completion: the job
// completes with PaymentCaptured false.
func (s *Service) CompleteJob(ctx context.Context, actor domain.Actor, jobID string) (*CompleteResult, error) {
	var (
		res      CompleteResult
		already  bool
		job      *domain.Job
		provider *domain.ProviderProfile
	)
	err := s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			var err error
			job, err = loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if !actor.IsAdmin() {
				if err := requireAssignedProvider(actor, job); err != nil {
					return err
				}
			}

			if job.Status == domain.JobStatusCompleted {
				already = true
				c, err := tx.GetCompletion(ctx, jobID)
				if err != nil {
					return err
				}
				res = CompleteResult{
					FinalAmount:     c.FinalAmount,
					PaymentCaptured: c.PaymentCaptured,
					PlatformFee:     job.PlatformFee,
					ProviderPayout:  job.ProviderPayout,
				}
				res.View, err = s.view(ctx, tx, job, actor)
				return err
			}
			if job.Status != domain.JobStatusInProgress {
				return wrongStatus(job, domain.JobStatusInProgress)
			}

			c, err := tx.GetCompletion(ctx, jobID)
			if err != nil {
				return err
			}
			if !c.WorkCompleted {
				return domain.InvalidTransitionf(domain.ReasonWorkNotCompleted, "work on job %s is not marked completed", jobID)
			}
			all, err := tx.ListAdjustments(ctx, jobID)
			if err != nil {
				return err
			}
			adjustments := domain.CurrentRun(all, job)
			if domain.HasPending(adjustments) {
				return domain.InvalidTransitionf(domain.ReasonPendingAdjustmentsExist, "job %s has adjustments awaiting a decision", jobID)
			}

			now := s.clock()
			approved := domain.ApprovedTotal(adjustments)
			final := job.LivePrice + approved

			job.Status = domain.JobStatusCompleted
			job.CompletedAt = &now
			job.FinalAmount = &final
			job.UpdatedAt = now
			if err := tx.UpdateJob(ctx, job, domain.JobStatusInProgress); err != nil {
				return err
			}
			c.AdjustmentsTotal = approved
			c.FinalAmount = final
			c.UpdatedAt = now
			if err := tx.UpdateCompletion(ctx, c); err != nil {
				return err
			}

			provider, err = tx.GetProvider(ctx, *job.AssignedProviderID)
			if err != nil {
				return err
			}
			res.FinalAmount = final
			return nil
		})
		if err != nil || already {
			return err
		}

		if job.PaymentStatus == domain.PaymentStatusAuthorized && job.PaymentRef != nil {
			s.capture(ctx, job, provider, &res)
		}

		err = s.store.RunInTx(ctx, func(tx store.Tx) error {
			if res.PaymentCaptured {
				if err := s.recordCapture(ctx, tx, job, &res); err != nil {
					return err
				}
			}
			var err error
			res.View, err = s.view(ctx, tx, job, actor)
			return err
		})
		if err != nil {
			return err
		}

		s.logger.Info("Job completed",
			slog.String("job_id", jobID),
			slog.String("final_amount", res.FinalAmount.String()),
			slog.Bool("payment_captured", res.PaymentCaptured),
		)
		payload := map[string]any{
			"status":          domain.JobStatusCompleted,
			"finalAmount":     res.FinalAmount,
			"paymentCaptured": res.PaymentCaptured,
		}
		if res.PaymentCaptured {
			payload["platformFee"] = *res.PlatformFee
			payload["providerPayout"] = *res.ProviderPayout
		}
		if res.PaymentError != "" {
			payload["paymentError"] = res.PaymentError
		}
		s.emit(jobID, domain.EventJobCompleted, payload)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// capture charges the customer's authorization outside any transaction.
func (s *Service) capture(ctx context.Context, job *domain.Job, provider *domain.ProviderProfile, res *CompleteResult) {
	tier, account := provider.PayoutTarget()
	split, err := s.gateway.CaptureAndSplit(ctx, *job.PaymentRef, account, res.FinalAmount, tier)
	if err != nil {
		s.logger.Error("Payment capture failed",
			slog.String("job_id", job.ID),
			slog.String("payment_ref", *job.PaymentRef),
			slog.String("amount", res.FinalAmount.String()),
			slog.Bool("retryable", domain.IsRetryable(err)),
			slog.Any("error", err),
		)
		res.PaymentError = CaptureFailedMessage
		return
	}
	if split == (payment.SplitResult{}) {
		split = s.policy.Fees.Split(res.FinalAmount, tier)
	}
	res.PaymentCaptured = true
	res.PlatformFee = &split.PlatformFee
	res.ProviderPayout = &split.ProviderPayout
}

func (s *Service) recordCapture(ctx context.Context, tx store.Tx, job *domain.Job, res *CompleteResult) error {
	now := s.clock()
	current, err := tx.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	current.PaymentStatus = domain.PaymentStatusCaptured
	current.PlatformFee = res.PlatformFee
	current.ProviderPayout = res.ProviderPayout
	current.PaidAt = &now
	current.UpdatedAt = now
	if err := tx.UpdateJob(ctx, current, domain.JobStatusCompleted); err != nil {
		return err
	}
	*job = *current

	c, err := tx.GetCompletion(ctx, job.ID)
	if err != nil {
		return err
	}
	c.PaymentCaptured = true
	c.PaymentCapturedAt = &now
	c.UpdatedAt = now
	return tx.UpdateCompletion(ctx, c)
}

// CancelResult is the outcome of CancelJob and ReportNoShow.
type CancelResult struct {
	View           disclosure.JobView
	PenaltyID      string
	PenaltyAmount  domain.Money
	PenaltyCharged bool
	NoShow         bool
}

// CancelJob cancels an accepted job on the provider's side. Every such
// cancellation assesses exactly one penalty against the assigned provider.
// The penalty is charged to the provider's incident card when one is on
// file; a failed charge leaves it assessed and blocks the provider until
// it is resolved. The job is not re-matched automatically.
func (s *Service) CancelJob(ctx context.Context, actor domain.Actor, jobID, reason string) (*CancelResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Validationf("reason is required")
	}
	return s.cancelAssigned(ctx, actor, jobID, cancellation{
		reason:        reason,
		penaltyReason: s.policy.PenaltyReason,
	})
}

// NoShowCancellationReason is recorded on the job when an admin reports a
// no-show without a note.
const NoShowCancellationReason = "provider did not show up"

// ReportNoShow cancels an assigned job whose provider never arrived. It
// assesses and charges a no-show penalty the same way CancelJob does. A
// job already in progress cannot be reported. Admins only.
func (s *Service) ReportNoShow(ctx context.Context, actor domain.Actor, jobID, note string) (*CancelResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(note)
	if reason == "" {
		reason = NoShowCancellationReason
	}
	return s.cancelAssigned(ctx, actor, jobID, cancellation{
		reason:        reason,
		penaltyReason: s.policy.NoShowReason,
		noShow:        true,
	})
}

type cancellation struct {
	reason        string
	penaltyReason string
	noShow        bool
}

func (s *Service) cancelAssigned(ctx context.Context, actor domain.Actor, jobID string, cl cancellation) (*CancelResult, error) {
	var (
		res      CancelResult
		already  bool
		job      *domain.Job
		provider *domain.ProviderProfile
		penalty  *domain.Penalty
	)
	err := s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			var err error
			job, err = loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if !actor.IsAdmin() {
				if err := requireAssignedProvider(actor, job); err != nil {
					return err
				}
			}

			if job.Status == domain.JobStatusCancelled && job.CancellationPenaltyID != nil {
				already = true
				p, err := tx.GetPenalty(ctx, *job.CancellationPenaltyID)
				if err != nil {
					return err
				}
				res = CancelResult{
					PenaltyID:      p.ID,
					PenaltyAmount:  p.Amount,
					PenaltyCharged: p.Status == domain.PenaltyStatusCharged,
					NoShow:         p.Reason == s.policy.NoShowReason,
				}
				res.View, err = s.view(ctx, tx, job, actor)
				return err
			}
			if cl.noShow {
				if job.Status != domain.JobStatusAssigned {
					return wrongStatus(job, domain.JobStatusAssigned)
				}
			} else if job.Status != domain.JobStatusAssigned && job.Status != domain.JobStatusInProgress {
				return wrongStatus(job, domain.JobStatusAssigned, domain.JobStatusInProgress)
			}
			if job.AcceptedAt == nil || job.AssignedProviderID == nil {
				return domain.InvalidTransitionf(domain.ReasonNotAccepted, "job %s was never accepted", jobID)
			}

			now := s.clock()
			penalty = &domain.Penalty{
				ID:         s.newID(),
				ProviderID: *job.AssignedProviderID,
				JobID:      jobID,
				Reason:     cl.penaltyReason,
				Amount:     s.policy.PenaltyAmount,
				Status:     domain.PenaltyStatusAssessed,
				CreatedAt:  now,
			}
			if err := tx.CreatePenalty(ctx, penalty); err != nil {
				return err
			}

			expected := job.Status
			role := actor.Role
			job.Status = domain.JobStatusCancelled
			job.CancelledAt = &now
			job.CancellationReason = &cl.reason
			job.CancelledBy = &role
			job.CancellationPenaltyID = &penalty.ID
			job.UpdatedAt = now
			if err := tx.UpdateJob(ctx, job, expected); err != nil {
				return err
			}

			provider, err = loadProvider(ctx, tx, penalty.ProviderID)
			if err != nil {
				return err
			}
			return refreshEligibility(ctx, tx, provider, now)
		})
		if err != nil || already {
			return err
		}

		res.PenaltyID = penalty.ID
		res.PenaltyAmount = penalty.Amount
		res.NoShow = cl.noShow
		if provider.IncidentPaymentMethodRef != nil {
			chargeRef, ok := s.chargePenalty(ctx, provider, penalty)
			if ok {
				res.PenaltyCharged = true
				if err := s.store.RunInTx(ctx, func(tx store.Tx) error {
					if err := tx.LockJob(ctx, jobID); err != nil {
						return err
					}
					return s.recordPenaltyCharge(ctx, tx, penalty, chargeRef)
				}); err != nil {
					// The charge went through; only the bookkeeping failed.
					s.logger.Error("Failed to record penalty charge",
						slog.String("penalty_id", penalty.ID),
						slog.String("charge_ref", chargeRef),
						slog.Any("error", err),
					)
				}
			}
		}

		err = s.store.RunInTx(ctx, func(tx store.Tx) error {
			current, err := tx.GetJob(ctx, jobID)
			if err != nil {
				return err
			}
			res.View, err = s.view(ctx, tx, current, actor)
			return err
		})
		if err != nil {
			return err
		}

		msg := "Job cancelled"
		if cl.noShow {
			msg = "Job cancelled for no-show"
		}
		s.logger.Info(msg,
			slog.String("job_id", jobID),
			slog.String("provider_id", penalty.ProviderID),
			slog.String("penalty_id", penalty.ID),
			slog.Bool("penalty_charged", res.PenaltyCharged),
		)
		s.emit(jobID, domain.EventJobCancelled, map[string]any{
			"status":         domain.JobStatusCancelled,
			"reason":         cl.reason,
			"cancelledBy":    actor.Role,
			"noShow":         cl.noShow,
			"penaltyId":      res.PenaltyID,
			"penaltyAmount":  res.PenaltyAmount,
			"penaltyCharged": res.PenaltyCharged,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// chargePenalty attempts the incident charge for p. The penalty id keys
// the charge, so a repeated attempt never bills twice. Failures are
// logged and leave the penalty assessed.
func (s *Service) chargePenalty(ctx context.Context, provider *domain.ProviderProfile, p *domain.Penalty) (string, bool) {
	chargeRef, err := s.gateway.ChargeIncident(ctx, p.ID, incidentCustomerRef(provider), *provider.IncidentPaymentMethodRef, p.Amount, p.Reason)
	if err != nil {
		s.logger.Warn("Penalty charge failed, penalty stays assessed",
			slog.String("penalty_id", p.ID),
			slog.String("provider_id", provider.ID),
			slog.Bool("retryable", domain.IsRetryable(err)),
			slog.Any("error", err),
		)
		return "", false
	}
	return chargeRef, true
}

// recordPenaltyCharge marks p charged and lifts the block it put on its provider.
func (s *Service) recordPenaltyCharge(ctx context.Context, tx store.Tx, p *domain.Penalty, chargeRef string) error {
	now := s.clock()
	p.MarkCharged(chargeRef, now)
	if err := tx.UpdatePenalty(ctx, p, domain.PenaltyStatusAssessed); err != nil {
		return err
	}

	job, err := tx.GetJob(ctx, p.JobID)
	if err != nil && !isNotFound(err) {
		return err
	}
	if job != nil && job.CancellationPenaltyID != nil && *job.CancellationPenaltyID == p.ID {
		job.CancellationPenaltyCharged = true
		job.UpdatedAt = now
		if err := tx.UpdateJob(ctx, job, job.Status); err != nil {
			return err
		}
	}

	provider, err := loadProvider(ctx, tx, p.ProviderID)
	if err != nil {
		return err
	}
	return refreshEligibility(ctx, tx, provider, now)
}

// incidentCustomerRef is the gateway customer incident charges are billed to.
func incidentCustomerRef(p *domain.ProviderProfile) string {
	if p.PaymentCustomerRef != nil {
		return *p.PaymentCustomerRef
	}
	return p.ID
}
