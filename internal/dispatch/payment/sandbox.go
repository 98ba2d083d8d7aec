package payment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

// Sandbox is an in-process gateway for local development. References
// prefixed with "decline_" are declined and "unavailable_" fail transiently.
type Sandbox struct {
	fees   FeeSchedule
	logger *slog.Logger

	mu       sync.Mutex
	holds    map[string]domain.Money
	captured map[string]bool
	charges  map[string]string
}

// NewSandbox creates a sandbox gateway that splits with fees.
func NewSandbox(fees FeeSchedule, logger *slog.Logger) *Sandbox {
	return &Sandbox{
		fees:     fees,
		logger:   logger,
		holds:    make(map[string]domain.Money),
		captured: make(map[string]bool),
		charges:  make(map[string]string),
	}
}

func (s *Sandbox) Authorize(_ context.Context, customerRef string, amount domain.Money, jobID string) (string, error) {
	if err := sandboxOutcome(customerRef); err != nil {
		return "", err
	}
	if amount <= 0 {
		return "", domain.PaymentDeclined(errors.New("amount must be positive"))
	}

	ref := "auth_" + uuid.NewString()
	s.mu.Lock()
	s.holds[ref] = amount
	s.mu.Unlock()

	s.logger.Info("Sandbox authorization", slog.String("job_id", jobID), slog.String("ref", ref), slog.String("amount", amount.String()))
	return ref, nil
}

func (s *Sandbox) CaptureAndSplit(_ context.Context, authRef string, payoutAccountRef *string, amount domain.Money, tier domain.PayoutTier) (SplitResult, error) {
	if payoutAccountRef != nil {
		if err := sandboxOutcome(*payoutAccountRef); err != nil {
			return SplitResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holds[authRef]; !ok {
		return SplitResult{}, domain.PaymentDeclined(errors.New("unknown authorization"))
	}
	if s.captured[authRef] {
		return SplitResult{}, domain.PaymentDeclined(errors.New("authorization already captured"))
	}
	s.captured[authRef] = true

	split := s.fees.Split(amount, tier)
	s.logger.Info("Sandbox capture",
		slog.String("ref", authRef),
		slog.String("platform_fee", split.PlatformFee.String()),
		slog.String("provider_payout", split.ProviderPayout.String()),
	)
	return split, nil
}

func (s *Sandbox) ChargeIncident(_ context.Context, chargeID, customerRef, paymentMethodRef string, amount domain.Money, reason string) (string, error) {
	if err := sandboxOutcome(paymentMethodRef); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.charges[chargeID]; ok {
		return ref, nil
	}
	ref := "ch_" + uuid.NewString()
	s.charges[chargeID] = ref
	s.logger.Info("Sandbox incident charge",
		slog.String("customer_ref", customerRef),
		slog.String("ref", ref),
		slog.String("amount", amount.String()),
		slog.String("reason", reason),
	)
	return ref, nil
}

func sandboxOutcome(ref string) error {
	switch {
	case strings.HasPrefix(ref, "decline_"):
		return domain.PaymentDeclined(errors.New("card declined"))
	case strings.HasPrefix(ref, "unavailable_"):
		return domain.PaymentUnavailable(errors.New("processor timeout"))
	}
	return nil
}
