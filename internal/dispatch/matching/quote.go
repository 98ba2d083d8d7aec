package matching

import (
	"context"
	"math"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

// QuoteRequest asks for one provider's price on a job.
type QuoteRequest struct {
	JobID         string
	ServiceType   string
	LoadSize      string
	BasePrice     domain.Money
	Provider      *domain.ProviderProfile
	DistanceMiles float64
}

// Quote is a provider-specific price and arrival estimate.
type Quote struct {
	Price      domain.Money
	EtaMinutes int
}

// Quoter prices a job for a specific provider.
type Quoter interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// QuoterFunc adapts a function to Quoter.
type QuoterFunc func(ctx context.Context, req QuoteRequest) (Quote, error)

func (f QuoterFunc) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	return f(ctx, req)
}

// TierQuoter scales the base price per payout tier and estimates the
// arrival from straight-line distance.
type TierQuoter struct {
	Multipliers map[domain.PayoutTier]float64
	AverageMPH  float64
	PrepMinutes int
}

// NewTierQuoter returns a quoter with 30 mph travel and a 10 minute head start.
func NewTierQuoter(multipliers map[domain.PayoutTier]float64) *TierQuoter {
	return &TierQuoter{
		Multipliers: multipliers,
		AverageMPH:  30,
		PrepMinutes: 10,
	}
}

func (q *TierQuoter) Quote(_ context.Context, req QuoteRequest) (Quote, error) {
	mult := 1.0
	if m, ok := q.Multipliers[req.Provider.Tier]; ok && m > 0 {
		mult = m
	}

	mph := q.AverageMPH
	if mph <= 0 {
		mph = 30
	}
	eta := q.PrepMinutes + int(math.Ceil(req.DistanceMiles/mph*60))

	return Quote{
		Price:      req.BasePrice.Scale(mult),
		EtaMinutes: eta,
	}, nil
}
