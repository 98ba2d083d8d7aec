// Package disclosure masks counterparties' contact details until payment is secured.
package disclosure

import (
	"time"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

// ProviderCard is the assigned provider as shown to other parties.
type ProviderCard struct {
	ID          string
	DisplayName string
	VehicleType string
	Tier        domain.PayoutTier
	Rating      float64
	Phone       *string
	Email       *string
}

// JobView is every job representation that leaves the dispatch core.
type JobView struct {
	Job              domain.Job
	Provider         *ProviderCard
	MatchingState    domain.MatchingState
	NeedsManualMatch bool
	Disclosure       domain.DisclosureState
}

// NewJobView builds an unmasked view with lazily evaluated timeouts.
// provider may be nil.
func NewJobView(job *domain.Job, provider *domain.ProviderProfile, now time.Time) JobView {
	v := JobView{
		Job:           *job.Clone(),
		MatchingState: job.MatchingState(now),
		Disclosure:    job.PaymentStatus.Disclosure(),
	}
	v.NeedsManualMatch = job.NeedsManualMatch || v.MatchingState == domain.MatchingLapsed

	if provider != nil {
		v.Provider = &ProviderCard{
			ID:          provider.ID,
			DisplayName: provider.DisplayName,
			VehicleType: provider.VehicleType,
			Tier:        provider.Tier,
			Rating:      provider.EffectiveRating(),
			Phone:       copyString(provider.Phone),
			Email:       copyString(provider.Email),
		}
	}
	return v
}

// Guard applies the disclosure policy for role. Admins always see contact
// details; everyone sees them once the payment status releases them.
// Otherwise customers lose the provider's phone and email and providers
// lose the customer's. The result has the same shape as the input and
// Guard(Guard(v, r), r) == Guard(v, r).
func Guard(v JobView, role domain.Role) JobView {
	out := v
	out.Job = *v.Job.Clone()
	if v.Provider != nil {
		p := *v.Provider
		p.Phone = copyString(v.Provider.Phone)
		p.Email = copyString(v.Provider.Email)
		out.Provider = &p
	}

	out.Disclosure = v.Job.PaymentStatus.Disclosure()
	if role == domain.RoleAdmin || out.Disclosure == domain.DisclosureReleased {
		return out
	}

	switch role {
	case domain.RoleCustomer:
		maskProvider(&out)
	case domain.RoleProvider:
		maskCustomer(&out)
	default:
		maskProvider(&out)
		maskCustomer(&out)
	}
	return out
}

// GuardAll applies Guard to each view.
func GuardAll(views []JobView, role domain.Role) []JobView {
	out := make([]JobView, len(views))
	for i, v := range views {
		out[i] = Guard(v, role)
	}
	return out
}

func maskProvider(v *JobView) {
	if v.Provider == nil {
		return
	}
	v.Provider.Phone = nil
	v.Provider.Email = nil
}

func maskCustomer(v *JobView) {
	v.Job.CustomerPhone = nil
	v.Job.CustomerEmail = nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
