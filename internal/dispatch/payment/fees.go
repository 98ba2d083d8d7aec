// Package payment holds the payment gateway contract, its implementations
// and the platform fee schedule.
package payment

import "github.com/cuongbtq/dispatch-be/internal/dispatch/domain"

// FeeSchedule maps a payout tier to the platform fee percentage.
type FeeSchedule map[domain.PayoutTier]float64

// DefaultFeeSchedule charges independent providers 25% and verified pros 20%.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		domain.TierIndependent: 25,
		domain.TierVerifiedPro: 20,
	}
}

// Percent returns the fee for tier, falling back to the lowest tier.
func (s FeeSchedule) Percent(tier domain.PayoutTier) float64 {
	if p, ok := s[tier]; ok {
		return p
	}
	return s[domain.LowestTier]
}

// SplitResult is how a captured amount divides between platform and provider.
type SplitResult struct {
	PlatformFee    domain.Money
	ProviderPayout domain.Money
}

// Split computes the fee on amount and gives the provider the remainder, so
// the two parts always sum to amount.
func (s FeeSchedule) Split(amount domain.Money, tier domain.PayoutTier) SplitResult {
	fee := amount.Percent(s.Percent(tier))
	return SplitResult{
		PlatformFee:    fee,
		ProviderPayout: amount - fee,
	}
}
