package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
)

// RegisterProviderInput creates a provider profile. Compliance starts unmet.
type RegisterProviderInput struct {
	// UserID defaults to the calling provider's id.
	UserID       string
	DisplayName  string
	Phone        *string
	Email        *string
	ServiceTypes []string
	VehicleType  string
	Languages    []string
	HourlyRate   domain.Money
}

// ProviderDetail is a provider together with the state of its gate.
type ProviderDetail struct {
	Profile          domain.ProviderProfile
	Unmet            []domain.Condition
	OutstandingTotal domain.Money
}

// RegisterProvider creates a provider who cannot accept jobs until every
// compliance condition is met.
func (s *Service) RegisterProvider(ctx context.Context, actor domain.Actor, in RegisterProviderInput) (*ProviderDetail, error) {
	var id string
	switch actor.Role {
	case domain.RoleProvider:
		id = actor.ID
		if in.UserID == "" {
			in.UserID = actor.ID
		}
	case domain.RoleAdmin:
		id = s.newID()
		if in.UserID == "" {
			return nil, domain.Validationf("user_id is required")
		}
	default:
		return nil, domain.Unauthorizedf("customers cannot register as providers")
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		return nil, domain.Validationf("display_name is required")
	}
	if len(in.ServiceTypes) == 0 {
		return nil, domain.Validationf("at least one service type is required")
	}

	now := s.clock()
	p := &domain.ProviderProfile{
		ID:                    id,
		UserID:                in.UserID,
		DisplayName:           in.DisplayName,
		Phone:                 in.Phone,
		Email:                 in.Email,
		ServiceTypes:          in.ServiceTypes,
		VehicleType:           in.VehicleType,
		Languages:             in.Languages,
		Tier:                  domain.LowestTier,
		BackgroundCheckStatus: domain.BackgroundCheckPending,
		HourlyRate:            in.HourlyRate,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	p.CanAcceptJobs = domain.CanAcceptJobs(p, nil)

	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		return tx.CreateProvider(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("register provider: %w", err)
	}

	s.logger.Info("Provider registered", slog.String("provider_id", p.ID))
	return &ProviderDetail{Profile: *p, Unmet: domain.UnmetConditions(p, nil)}, nil
}

// ComplianceUpdate is a partial update of a provider's gate inputs and
// payout setup. Nil fields are left alone.
type ComplianceUpdate struct {
	HasPaymentMethodOnFile   *bool
	NDAAccepted              *bool
	IncidentPaymentMethodRef *string
	PaymentCustomerRef       *string
	PayoutAccountRef         *string
	PayoutOnboarded          *bool
	IsAvailable              *bool

	// Admin only.
	BackgroundCheckStatus *domain.BackgroundCheckStatus
	Tier                  *domain.PayoutTier
}

func (u ComplianceUpdate) validate(actor domain.Actor) error {
	if !actor.IsAdmin() && (u.BackgroundCheckStatus != nil || u.Tier != nil) {
		return domain.Unauthorizedf("only admins set background check status or tier")
	}
	if u.BackgroundCheckStatus != nil {
		switch *u.BackgroundCheckStatus {
		case domain.BackgroundCheckPending, domain.BackgroundCheckClear, domain.BackgroundCheckRejected:
		default:
			return domain.Validationf("unknown background check status %q", *u.BackgroundCheckStatus)
		}
	}
	if u.Tier != nil && !u.Tier.Valid() {
		return domain.Validationf("unknown tier %q", *u.Tier)
	}
	return nil
}

func (u ComplianceUpdate) apply(p *domain.ProviderProfile) {
	if u.HasPaymentMethodOnFile != nil {
		p.HasPaymentMethodOnFile = *u.HasPaymentMethodOnFile
	}
	if u.NDAAccepted != nil {
		p.NDAAccepted = *u.NDAAccepted
	}
	if u.IncidentPaymentMethodRef != nil {
		p.IncidentPaymentMethodRef = nilIfEmpty(*u.IncidentPaymentMethodRef)
	}
	if u.PaymentCustomerRef != nil {
		p.PaymentCustomerRef = nilIfEmpty(*u.PaymentCustomerRef)
	}
	if u.PayoutAccountRef != nil {
		p.PayoutAccountRef = nilIfEmpty(*u.PayoutAccountRef)
	}
	if u.PayoutOnboarded != nil {
		p.PayoutOnboarded = *u.PayoutOnboarded
	}
	if u.IsAvailable != nil {
		p.IsAvailable = *u.IsAvailable
	}
	if u.BackgroundCheckStatus != nil {
		p.BackgroundCheckStatus = *u.BackgroundCheckStatus
	}
	if u.Tier != nil {
		p.Tier = *u.Tier
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func authorizeProvider(actor domain.Actor, providerID string) error {
	if actor.IsAdmin() || (actor.Role == domain.RoleProvider && actor.ID == providerID) {
		return nil
	}
	return domain.Unauthorizedf("not allowed to access provider %s", providerID)
}

// UpdateCompliance applies u and rewrites the cached gate in the same transaction.
func (s *Service) UpdateCompliance(ctx context.Context, actor domain.Actor, providerID string, u ComplianceUpdate) (*ProviderDetail, error) {
	if err := authorizeProvider(actor, providerID); err != nil {
		return nil, err
	}
	if err := u.validate(actor); err != nil {
		return nil, err
	}

	var detail *ProviderDetail
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		p, err := loadProvider(ctx, tx, providerID)
		if err != nil {
			return err
		}
		u.apply(p)
		if err := refreshEligibility(ctx, tx, p, s.clock()); err != nil {
			return err
		}
		detail, err = providerDetail(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Provider compliance updated",
		slog.String("provider_id", providerID),
		slog.Bool("can_accept_jobs", detail.Profile.CanAcceptJobs),
	)
	return detail, nil
}

// GetProvider returns the provider and every condition it still fails.
func (s *Service) GetProvider(ctx context.Context, actor domain.Actor, providerID string) (*ProviderDetail, error) {
	if err := authorizeProvider(actor, providerID); err != nil {
		return nil, err
	}
	var detail *ProviderDetail
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProvider(ctx, providerID)
		if err != nil {
			return err
		}
		detail, err = providerDetail(ctx, tx, p)
		return err
	})
	return detail, err
}

func providerDetail(ctx context.Context, tx store.Tx, p *domain.ProviderProfile) (*ProviderDetail, error) {
	outstanding, err := tx.ListPenalties(ctx, store.PenaltyFilter{ProviderID: p.ID, Status: domain.PenaltyStatusAssessed})
	if err != nil {
		return nil, err
	}
	return &ProviderDetail{
		Profile:          *p,
		Unmet:            domain.UnmetConditions(p, outstanding),
		OutstandingTotal: domain.OutstandingTotal(outstanding),
	}, nil
}

// ListPenalties returns a provider's penalties newest first.
func (s *Service) ListPenalties(ctx context.Context, actor domain.Actor, filter store.PenaltyFilter) ([]domain.Penalty, error) {
	if !actor.IsAdmin() {
		if actor.Role != domain.RoleProvider {
			return nil, domain.Unauthorizedf("not allowed to list penalties")
		}
		if filter.ProviderID != "" && filter.ProviderID != actor.ID {
			return nil, domain.Unauthorizedf("penalties belong to another provider")
		}
		filter.ProviderID = actor.ID
	}
	var out []domain.Penalty
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListPenalties(ctx, filter)
		return err
	})
	return out, err
}

// WaivePenalty forgives an assessed penalty. Admins only.
func (s *Service) WaivePenalty(ctx context.Context, actor domain.Actor, penaltyID, reason string) (*domain.Penalty, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Validationf("reason is required")
	}
	jobID, err := s.penaltyJob(ctx, penaltyID)
	if err != nil {
		return nil, err
	}

	var (
		p       *domain.Penalty
		changed bool
	)
	err = s.withJob(jobID, func() error {
		return s.store.RunInTx(ctx, func(tx store.Tx) error {
			if err := tx.LockJob(ctx, jobID); err != nil {
				return err
			}
			var err error
			p, err = tx.GetPenalty(ctx, penaltyID)
			if err != nil {
				return err
			}
			switch p.Status {
			case domain.PenaltyStatusWaived:
				return nil
			case domain.PenaltyStatusAssessed:
			default:
				return domain.InvalidTransitionf(domain.ReasonAlreadyDecided, "penalty %s is %s", p.ID, p.Status)
			}

			now := s.clock()
			p.Status = domain.PenaltyStatusWaived
			p.WaivedAt = &now
			p.WaivedReason = &reason
			if err := tx.UpdatePenalty(ctx, p, domain.PenaltyStatusAssessed); err != nil {
				return err
			}
			changed = true

			provider, err := loadProvider(ctx, tx, p.ProviderID)
			if err != nil {
				return err
			}
			return refreshEligibility(ctx, tx, provider, now)
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("Penalty waived",
			slog.String("penalty_id", penaltyID),
			slog.String("provider_id", p.ProviderID),
			slog.String("admin_id", actor.ID),
		)
	}
	return p, nil
}

// RetryPenaltyCharge charges an assessed penalty to the provider's incident
// card again. Admins only. Gateway failures are returned as-is. Retries of
// one penalty run one at a time and a penalty already charged is returned
// unchanged.
func (s *Service) RetryPenaltyCharge(ctx context.Context, actor domain.Actor, penaltyID string) (*domain.Penalty, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	jobID, err := s.penaltyJob(ctx, penaltyID)
	if err != nil {
		return nil, err
	}

	var p *domain.Penalty
	err = s.withJob(jobID, func() error {
		var provider *domain.ProviderProfile
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			if err := tx.LockJob(ctx, jobID); err != nil {
				return err
			}
			var err error
			p, err = tx.GetPenalty(ctx, penaltyID)
			if err != nil {
				return err
			}
			switch p.Status {
			case domain.PenaltyStatusCharged:
				return nil
			case domain.PenaltyStatusAssessed:
			default:
				return domain.InvalidTransitionf(domain.ReasonAlreadyDecided, "penalty %s is %s", p.ID, p.Status)
			}
			provider, err = tx.GetProvider(ctx, p.ProviderID)
			return err
		})
		if err != nil || p.Status == domain.PenaltyStatusCharged {
			return err
		}
		if provider.IncidentPaymentMethodRef == nil {
			return domain.Validationf("provider %s has no incident payment method on file", provider.ID)
		}

		chargeRef, err := s.gateway.ChargeIncident(ctx, p.ID, incidentCustomerRef(provider), *provider.IncidentPaymentMethodRef, p.Amount, p.Reason)
		if err != nil {
			s.logger.Warn("Penalty charge retry failed",
				slog.String("penalty_id", penaltyID),
				slog.Bool("retryable", domain.IsRetryable(err)),
				slog.Any("error", err),
			)
			return err
		}

		err = s.store.RunInTx(ctx, func(tx store.Tx) error {
			if err := tx.LockJob(ctx, jobID); err != nil {
				return err
			}
			current, err := tx.GetPenalty(ctx, penaltyID)
			if err != nil {
				return err
			}
			if err := s.recordPenaltyCharge(ctx, tx, current, chargeRef); err != nil {
				return err
			}
			p = current
			return nil
		})
		if err != nil {
			return fmt.Errorf("record penalty charge %s: %w", chargeRef, err)
		}
		s.logger.Info("Penalty charged", slog.String("penalty_id", penaltyID), slog.String("charge_ref", chargeRef))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// penaltyJob returns the job penaltyID was assessed on. That job's lock
// orders every write to the penalty.
func (s *Service) penaltyJob(ctx context.Context, penaltyID string) (string, error) {
	var jobID string
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPenalty(ctx, penaltyID)
		if err != nil {
			return err
		}
		jobID = p.JobID
		return nil
	})
	return jobID, err
}
