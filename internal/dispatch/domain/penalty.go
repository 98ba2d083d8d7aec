package domain

import "time"

// PenaltyStatus is the collection state of a provider penalty.
type PenaltyStatus string

const (
	PenaltyStatusAssessed PenaltyStatus = "assessed"
	PenaltyStatusCharged  PenaltyStatus = "charged"
	PenaltyStatusWaived   PenaltyStatus = "waived"
)

// Penalty is a fee assessed against a provider, typically for cancelling
// an accepted job.
type Penalty struct {
	ID           string
	ProviderID   string
	JobID        string
	Reason       string
	Amount       Money
	Status       PenaltyStatus
	ChargeRef    *string
	ChargedAt    *time.Time
	WaivedAt     *time.Time
	WaivedReason *string
	CreatedAt    time.Time
}

// Outstanding reports whether the penalty still blocks the provider.
func (p *Penalty) Outstanding() bool {
	return p.Status == PenaltyStatusAssessed
}

// MarkCharged records a successful incident charge.
func (p *Penalty) MarkCharged(chargeRef string, at time.Time) {
	p.Status = PenaltyStatusCharged
	p.ChargeRef = &chargeRef
	p.ChargedAt = &at
}

// Clone returns a deep copy.
func (p *Penalty) Clone() *Penalty {
	c := *p
	c.ChargeRef = cloneString(p.ChargeRef)
	c.ChargedAt = cloneTime(p.ChargedAt)
	c.WaivedAt = cloneTime(p.WaivedAt)
	c.WaivedReason = cloneString(p.WaivedReason)
	return &c
}
