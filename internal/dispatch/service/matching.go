package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/disclosure"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
)

// ListMatchAttempts returns a job's offers with lapsed ones reported as
// expired. Providers only see their own.
func (s *Service) ListMatchAttempts(ctx context.Context, actor domain.Actor, jobID string) ([]domain.MatchAttempt, error) {
	var out []domain.MatchAttempt
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		job, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if err := authorizeParty(ctx, tx, actor, job); err != nil {
			return err
		}
		attempts, err := tx.ListMatchAttempts(ctx, jobID)
		if err != nil {
			return err
		}

		now := s.clock()
		out = make([]domain.MatchAttempt, 0, len(attempts))
		for _, a := range attempts {
			if actor.Role == domain.RoleProvider && a.ProviderID != actor.ID {
				continue
			}
			a.Status = a.EffectiveStatus(now)
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list match attempts: %w", err)
	}
	return out, nil
}

// Offer is a live offer together with the job it is for.
type Offer struct {
	Attempt domain.MatchAttempt
	Job     disclosure.JobView
}

// ListProviderOffers returns the provider's offers that can still be accepted.
func (s *Service) ListProviderOffers(ctx context.Context, actor domain.Actor) ([]Offer, error) {
	if actor.Role != domain.RoleProvider {
		return nil, domain.Unauthorizedf("only providers have offers")
	}

	var out []Offer
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		now := s.clock()
		attempts, err := tx.ListProviderOffers(ctx, actor.ID, now)
		if err != nil {
			return err
		}
		for _, a := range attempts {
			job, err := tx.GetJob(ctx, a.JobID)
			if err != nil {
				return err
			}
			if job.MatchingState(now) != domain.MatchingOpen {
				continue
			}
			view, err := s.view(ctx, tx, job, actor)
			if err != nil {
				return err
			}
			out = append(out, Offer{Attempt: a, Job: view})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list provider offers: %w", err)
	}
	return out, nil
}

// AcceptMatch assigns the job to the provider holding attemptID. Of any
// number of concurrent accepts on one job exactly one succeeds; the rest
// fail with already_matched.
func (s *Service) AcceptMatch(ctx context.Context, actor domain.Actor, jobID, attemptID string) (disclosure.JobView, error) {
	if actor.Role != domain.RoleProvider {
		return disclosure.JobView{}, domain.Unauthorizedf("only providers accept offers")
	}

	var (
		view    disclosure.JobView
		job     *domain.Job
		attempt *domain.MatchAttempt
		expired int
	)
	err := s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			var err error
			job, err = loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			attempt, err = tx.GetMatchAttempt(ctx, attemptID)
			if err != nil {
				return err
			}
			if attempt.JobID != job.ID {
				return domain.NotFoundf("match attempt %s not found on job %s", attemptID, jobID)
			}
			if attempt.ProviderID != actor.ID {
				return domain.Unauthorizedf("match attempt %s belongs to another provider", attemptID)
			}

			now := s.clock()
			if job.Status != domain.JobStatusMatching {
				if job.AssignedProviderID != nil {
					return domain.InvalidTransitionf(domain.ReasonAlreadyMatched, "job %s was already accepted", job.ID)
				}
				return wrongStatus(job, domain.JobStatusMatching)
			}
			if job.MatchingState(now) == domain.MatchingLapsed {
				return domain.InvalidTransitionf(domain.ReasonMatchingLapsed, "matching window for job %s has lapsed", job.ID)
			}
			switch attempt.EffectiveStatus(now) {
			case domain.AttemptPending:
			case domain.AttemptExpired:
				return domain.InvalidTransitionf(domain.ReasonOfferExpired, "offer %s has expired", attempt.ID)
			default:
				return domain.InvalidTransitionf(domain.ReasonAlreadyDecided, "offer %s is %s", attempt.ID, attempt.Status)
			}

			provider, err := tx.GetProvider(ctx, actor.ID)
			if err != nil {
				return err
			}
			outstanding, err := tx.ListPenalties(ctx, store.PenaltyFilter{ProviderID: provider.ID, Status: domain.PenaltyStatusAssessed})
			if err != nil {
				return err
			}
			if err := domain.CheckEligibility(provider, outstanding); err != nil {
				return err
			}

			if err := tx.UpdateMatchAttemptStatus(ctx, attempt.ID, domain.AttemptPending, domain.AttemptAccepted, now); err != nil {
				return err
			}
			expired, err = tx.ExpireMatchAttempts(ctx, job.ID, attempt.ID, now)
			if err != nil {
				return err
			}

			contactBy := now.Add(s.policy.ContactWindow)
			job.Status = domain.JobStatusAssigned
			job.AssignedProviderID = &provider.ID
			job.LivePrice = attempt.QuotedPrice
			job.AcceptedAt = &now
			job.ContactState = domain.ContactAwaiting
			job.ContactRequiredBy = &contactBy
			job.MatchingExpiresAt = nil
			job.NeedsManualMatch = false
			job.UpdatedAt = now
			if err := tx.UpdateJob(ctx, job, domain.JobStatusMatching); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					return domain.InvalidTransitionf(domain.ReasonAlreadyMatched, "job %s was already accepted", job.ID)
				}
				return err
			}

			view, err = s.view(ctx, tx, job, actor)
			return err
		})
		if err != nil {
			return err
		}

		s.logger.Info("Match accepted",
			slog.String("job_id", jobID),
			slog.String("provider_id", actor.ID),
			slog.String("attempt_id", attemptID),
			slog.Int("expired_offers", expired),
		)
		s.emit(jobID, domain.EventJobAccepted, map[string]any{
			"status":            domain.JobStatusAssigned,
			"providerId":        actor.ID,
			"attemptId":         attemptID,
			"livePrice":         job.LivePrice,
			"etaMinutes":        attempt.EtaMinutes,
			"contactRequiredBy": job.ContactRequiredBy,
		})
		return nil
	})
	if err != nil {
		return disclosure.JobView{}, err
	}
	return view, nil
}

// DeclineMatch records the provider passing on an offer. Declining twice is
// a no-op. When the last live offer goes the job joins the manual queue.
func (s *Service) DeclineMatch(ctx context.Context, actor domain.Actor, jobID, attemptID string) (*domain.MatchAttempt, error) {
	if actor.Role != domain.RoleProvider {
		return nil, domain.Unauthorizedf("only providers decline offers")
	}

	var (
		attempt     *domain.MatchAttempt
		changed     bool
		manualMatch bool
	)
	err := s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			job, err := loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			attempt, err = tx.GetMatchAttempt(ctx, attemptID)
			if err != nil {
				return err
			}
			if attempt.JobID != job.ID {
				return domain.NotFoundf("match attempt %s not found on job %s", attemptID, jobID)
			}
			if attempt.ProviderID != actor.ID {
				return domain.Unauthorizedf("match attempt %s belongs to another provider", attemptID)
			}

			now := s.clock()
			switch attempt.EffectiveStatus(now) {
			case domain.AttemptDeclined:
				return nil
			case domain.AttemptPending:
			case domain.AttemptExpired:
				return domain.InvalidTransitionf(domain.ReasonOfferExpired, "offer %s has expired", attempt.ID)
			default:
				return domain.InvalidTransitionf(domain.ReasonAlreadyDecided, "offer %s is %s", attempt.ID, attempt.Status)
			}

			if err := tx.UpdateMatchAttemptStatus(ctx, attempt.ID, domain.AttemptPending, domain.AttemptDeclined, now); err != nil {
				return err
			}
			attempt.Status = domain.AttemptDeclined
			attempt.RespondedAt = &now
			changed = true

			if job.MatchingState(now) != domain.MatchingOpen {
				return nil
			}
			attempts, err := tx.ListMatchAttempts(ctx, job.ID)
			if err != nil {
				return err
			}
			for i := range attempts {
				if attempts[i].Live(now) {
					return nil
				}
			}
			job.NeedsManualMatch = true
			job.UpdatedAt = now
			manualMatch = true
			return tx.UpdateJob(ctx, job, domain.JobStatusMatching)
		})
		if err != nil {
			return err
		}

		if changed {
			s.logger.Info("Match declined",
				slog.String("job_id", jobID),
				slog.String("provider_id", actor.ID),
				slog.Bool("needs_manual_match", manualMatch),
			)
			s.emit(jobID, domain.EventMatchDeclined, map[string]any{
				"providerId":       actor.ID,
				"attemptId":        attemptID,
				"needsManualMatch": manualMatch,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}
