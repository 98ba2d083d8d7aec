package domain

import (
	"slices"
	"time"
)

// BackgroundCheckStatus is the provider's screening result.
type BackgroundCheckStatus string

const (
	BackgroundCheckPending  BackgroundCheckStatus = "pending"
	BackgroundCheckClear    BackgroundCheckStatus = "clear"
	BackgroundCheckRejected BackgroundCheckStatus = "rejected"
)

// PayoutTier selects the platform fee a provider pays.
type PayoutTier string

const (
	TierIndependent PayoutTier = "independent"
	TierVerifiedPro PayoutTier = "verified_pro"

	// LowestTier applies to providers without completed payout onboarding.
	LowestTier = TierIndependent
)

// Valid reports whether t is a known tier.
func (t PayoutTier) Valid() bool {
	return t == TierIndependent || t == TierVerifiedPro
}

// ProviderProfile is a field worker who can be matched to jobs.
type ProviderProfile struct {
	ID          string
	UserID      string
	DisplayName string
	Phone       *string
	Email       *string

	ServiceTypes []string
	VehicleType  string
	Languages    []string
	Tier         PayoutTier

	IsAvailable              bool
	HasPaymentMethodOnFile   bool
	BackgroundCheckStatus    BackgroundCheckStatus
	NDAAccepted              bool
	IncidentPaymentMethodRef *string
	PaymentCustomerRef       *string
	PayoutAccountRef         *string
	PayoutOnboarded          bool

	// CanAcceptJobs is the cached result of CheckEligibility, rewritten in
	// the same transaction as any change to its inputs.
	CanAcceptJobs bool

	Rating      float64
	RatingCount int
	HourlyRate  Money
	LastKnown   *Location

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Offers reports whether the provider performs serviceType.
func (p *ProviderProfile) Offers(serviceType string) bool {
	return slices.Contains(p.ServiceTypes, serviceType)
}

// Speaks reports whether the provider speaks language; an empty language matches anyone.
func (p *ProviderProfile) Speaks(language string) bool {
	return language == "" || slices.Contains(p.Languages, language)
}

// EffectiveRating treats unrated providers as 5.0.
func (p *ProviderProfile) EffectiveRating() float64 {
	if p.RatingCount == 0 && p.Rating == 0 {
		return 5.0
	}
	return p.Rating
}

// PayoutTarget returns the tier and payout account used for capture. A
// provider who has not finished payout onboarding is paid at the lowest
// tier with no destination account.
func (p *ProviderProfile) PayoutTarget() (PayoutTier, *string) {
	if !p.PayoutOnboarded || p.PayoutAccountRef == nil {
		return LowestTier, nil
	}
	tier := p.Tier
	if !tier.Valid() {
		tier = LowestTier
	}
	return tier, cloneString(p.PayoutAccountRef)
}

// AddRating folds a new customer rating into the running average.
func (p *ProviderProfile) AddRating(rating int) {
	total := p.Rating*float64(p.RatingCount) + float64(rating)
	p.RatingCount++
	p.Rating = total / float64(p.RatingCount)
}

// Clone returns a deep copy.
func (p *ProviderProfile) Clone() *ProviderProfile {
	c := *p
	c.Phone = cloneString(p.Phone)
	c.Email = cloneString(p.Email)
	c.ServiceTypes = slices.Clone(p.ServiceTypes)
	c.Languages = slices.Clone(p.Languages)
	c.IncidentPaymentMethodRef = cloneString(p.IncidentPaymentMethodRef)
	c.PaymentCustomerRef = cloneString(p.PaymentCustomerRef)
	c.PayoutAccountRef = cloneString(p.PayoutAccountRef)
	if p.LastKnown != nil {
		loc := *p.LastKnown
		c.LastKnown = &loc
	}
	return &c
}
