// Package matching ranks eligible providers for a job and turns the best
// of them into time-boxed offers.
package matching

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

// Config tunes candidate selection.
type Config struct {
	MaxCandidates       int
	RadiusMiles         float64
	ExpandedRadiusMiles float64
	OfferTTL            time.Duration
	ProximityWeight     float64
	RatingWeight        float64
}

// DefaultConfig offers a job to 3 providers within 25 miles, widening to 50.
func DefaultConfig() Config {
	return Config{
		MaxCandidates:       3,
		RadiusMiles:         25,
		ExpandedRadiusMiles: 50,
		OfferTTL:            5 * time.Minute,
		ProximityWeight:     0.6,
		RatingWeight:        0.4,
	}
}

// Request describes the job being matched.
type Request struct {
	JobID             string
	ServiceType       string
	LoadSize          string
	Pickup            domain.Location
	PreferredTier     domain.PayoutTier
	PreferredLanguage string
	BasePrice         domain.Money
}

// Candidate is a provider that passed filtering, with its ranking inputs.
type Candidate struct {
	Provider      *domain.ProviderProfile
	DistanceMiles float64
	Score         float64
}

// Engine implements provider matching.
type Engine struct {
	cfg    Config
	quoter Quoter
	logger *slog.Logger
	newID  func() string
}

// NewEngine creates a new Engine instance
func NewEngine(cfg Config, quoter Quoter, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.RadiusMiles <= 0 {
		cfg.RadiusMiles = def.RadiusMiles
	}
	if cfg.ExpandedRadiusMiles < cfg.RadiusMiles {
		cfg.ExpandedRadiusMiles = cfg.RadiusMiles
	}
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = def.OfferTTL
	}
	if cfg.ProximityWeight == 0 && cfg.RatingWeight == 0 {
		cfg.ProximityWeight = def.ProximityWeight
		cfg.RatingWeight = def.RatingWeight
	}

	return &Engine{
		cfg:    cfg,
		quoter: quoter,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Rank filters pool down to providers able to take the job and orders them
// best first. When the standard radius yields fewer than MaxCandidates the
// expanded radius is used instead.
func (e *Engine) Rank(req Request, pool []domain.ProviderProfile) []Candidate {
	candidates := e.filter(req, pool, e.cfg.RadiusMiles)
	if len(candidates) < e.cfg.MaxCandidates && e.cfg.ExpandedRadiusMiles > e.cfg.RadiusMiles {
		candidates = e.filter(req, pool, e.cfg.ExpandedRadiusMiles)
	}

	for i := range candidates {
		candidates[i].Score = e.score(candidates[i], e.searchRadius(candidates))
	}

	slices.SortFunc(candidates, func(a, b Candidate) int {
		if c := cmp.Compare(a.Score, b.Score); c != 0 {
			return c
		}
		if a.Provider.Tier != b.Provider.Tier {
			if a.Provider.Tier == domain.TierVerifiedPro {
				return -1
			}
			if b.Provider.Tier == domain.TierVerifiedPro {
				return 1
			}
		}
		if c := cmp.Compare(a.Provider.HourlyRate, b.Provider.HourlyRate); c != 0 {
			return c
		}
		return cmp.Compare(a.Provider.ID, b.Provider.ID)
	})

	return candidates
}

func (e *Engine) filter(req Request, pool []domain.ProviderProfile, radius float64) []Candidate {
	var out []Candidate
	for i := range pool {
		p := &pool[i]
		if !p.CanAcceptJobs || !p.IsAvailable || p.LastKnown == nil {
			continue
		}
		if !p.Offers(req.ServiceType) || !p.Speaks(req.PreferredLanguage) {
			continue
		}
		if req.PreferredTier != "" && p.Tier != req.PreferredTier {
			continue
		}

		dist := DistanceMiles(req.Pickup, *p.LastKnown)
		if dist > radius {
			continue
		}
		out = append(out, Candidate{Provider: p, DistanceMiles: dist})
	}
	return out
}

func (e *Engine) searchRadius(candidates []Candidate) float64 {
	radius := e.cfg.RadiusMiles
	for _, c := range candidates {
		if c.DistanceMiles > radius {
			return e.cfg.ExpandedRadiusMiles
		}
	}
	return radius
}

// score is lower-is-better: normalized distance plus rating shortfall.
func (e *Engine) score(c Candidate, radius float64) float64 {
	proximity := c.DistanceMiles / radius
	shortfall := (5 - c.Provider.EffectiveRating()) / 5
	return e.cfg.ProximityWeight*proximity + e.cfg.RatingWeight*shortfall
}

// Offers ranks pool, prices the top candidates in parallel and returns one
// pending MatchAttempt per priced candidate. A candidate whose quote fails
// is skipped.
func (e *Engine) Offers(ctx context.Context, req Request, pool []domain.ProviderProfile, now time.Time) ([]domain.MatchAttempt, error) {
	ranked := e.Rank(req, pool)
	if len(ranked) > e.cfg.MaxCandidates {
		ranked = ranked[:e.cfg.MaxCandidates]
	}

	quotes := make([]*Quote, len(ranked))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range ranked {
		g.Go(func() error {
			q, err := e.quoter.Quote(gctx, QuoteRequest{
				JobID:         req.JobID,
				ServiceType:   req.ServiceType,
				LoadSize:      req.LoadSize,
				BasePrice:     req.BasePrice,
				Provider:      c.Provider,
				DistanceMiles: c.DistanceMiles,
			})
			if err != nil {
				e.logger.Warn("Quote failed, skipping candidate",
					slog.String("job_id", req.JobID),
					slog.String("provider_id", c.Provider.ID),
					slog.Any("error", err),
				)
				return nil
			}
			quotes[i] = &q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attempts := make([]domain.MatchAttempt, 0, len(ranked))
	for i, c := range ranked {
		if quotes[i] == nil {
			continue
		}
		attempts = append(attempts, domain.MatchAttempt{
			ID:            e.newID(),
			JobID:         req.JobID,
			ProviderID:    c.Provider.ID,
			Status:        domain.AttemptPending,
			QuotedPrice:   quotes[i].Price,
			EtaMinutes:    quotes[i].EtaMinutes,
			DistanceMiles: c.DistanceMiles,
			Rank:          len(attempts) + 1,
			ExpiresAt:     now.Add(e.cfg.OfferTTL),
			CreatedAt:     now,
		})
	}

	e.logger.Debug("Offers built",
		slog.String("job_id", req.JobID),
		slog.Int("ranked", len(ranked)),
		slog.Int("offers", len(attempts)),
	)

	return attempts, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}
