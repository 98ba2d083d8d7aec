package payment

import (
	"context"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

//go:generate go run go.uber.org/mock/mockgen -package=payment -destination=gateway_mock.go github.com/cuongbtq/dispatch-be/internal/dispatch/payment Gateway

// Gateway is the card processor. Implementations return domain errors of
// kind payment_declined for permanent failures and payment_unavailable for
// transient ones.
type Gateway interface {
	// Authorize places a hold for amount on the customer's card and returns
	// the authorization reference.
	Authorize(ctx context.Context, customerRef string, amount domain.Money, jobID string) (string, error)

	// CaptureAndSplit captures a held authorization and transfers the
	// provider's share to payoutAccountRef. A nil account leaves the payout
	// on the platform balance.
	CaptureAndSplit(ctx context.Context, authRef string, payoutAccountRef *string, amount domain.Money, tier domain.PayoutTier) (SplitResult, error)

	// ChargeIncident charges a provider's incident instrument and returns
	// the charge reference. chargeID names the charge: repeated calls with
	// the same chargeID charge once and return the same reference.
	ChargeIncident(ctx context.Context, chargeID, customerRef, paymentMethodRef string, amount domain.Money, reason string) (string, error)
}

var (
	_ Gateway = (*HTTPGateway)(nil)
	_ Gateway = (*Sandbox)(nil)
	_ Gateway = (*MockGateway)(nil)
)
