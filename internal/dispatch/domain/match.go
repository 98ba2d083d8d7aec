package domain

import "time"

// MatchAttemptStatus is the state of a single offer.
type MatchAttemptStatus string

const (
	AttemptPending  MatchAttemptStatus = "pending"
	AttemptAccepted MatchAttemptStatus = "accepted"
	AttemptDeclined MatchAttemptStatus = "declined"
	AttemptExpired  MatchAttemptStatus = "expired"
)

// MatchAttempt is a time-boxed offer of a job to one provider.
type MatchAttempt struct {
	ID            string
	JobID         string
	ProviderID    string
	Status        MatchAttemptStatus
	QuotedPrice   Money
	EtaMinutes    int
	DistanceMiles float64
	Rank          int
	ExpiresAt     time.Time
	RespondedAt   *time.Time
	CreatedAt     time.Time
}

// Live reports whether the offer can still be accepted at now.
func (a *MatchAttempt) Live(now time.Time) bool {
	return a.Status == AttemptPending && now.Before(a.ExpiresAt)
}

// EffectiveStatus reports pending offers past their expiry as expired.
func (a *MatchAttempt) EffectiveStatus(now time.Time) MatchAttemptStatus {
	if a.Status == AttemptPending && !now.Before(a.ExpiresAt) {
		return AttemptExpired
	}
	return a.Status
}
