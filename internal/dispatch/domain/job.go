package domain

import "time"

// JobStatus is the lifecycle position of a job.
type JobStatus string

const (
	JobStatusMatching   JobStatus = "matching"
	JobStatusAssigned   JobStatus = "assigned"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
	// JobStatusWithdrawn is the customer pulling a request no provider accepted.
	JobStatusWithdrawn JobStatus = "withdrawn"
)

// Terminal reports whether no further provider transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusWithdrawn
}

// PaymentStatus tracks the customer payment for a job.
type PaymentStatus string

const (
	PaymentStatusNone          PaymentStatus = "none"
	PaymentStatusAuthorized    PaymentStatus = "authorized"
	PaymentStatusCaptured      PaymentStatus = "captured"
	PaymentStatusCompleted     PaymentStatus = "completed"
	PaymentStatusBNPLConfirmed PaymentStatus = "bnpl_confirmed"
)

// DisclosureState says whether counterparties may see each other's contact details.
type DisclosureState string

const (
	DisclosureMasked   DisclosureState = "masked"
	DisclosureReleased DisclosureState = "released"
)

// Disclosure derives the disclosure state from the payment status. Only a
// secured card payment releases contact details.
func (s PaymentStatus) Disclosure() DisclosureState {
	switch s {
	case PaymentStatusAuthorized, PaymentStatusCaptured, PaymentStatusCompleted:
		return DisclosureReleased
	}
	return DisclosureMasked
}

// ContactState tracks the provider's first call to the customer after accepting.
type ContactState string

const (
	ContactNotRequired ContactState = "not_required"
	ContactAwaiting    ContactState = "awaiting"
	ContactConfirmed   ContactState = "confirmed"
)

// MatchingState is the lazily evaluated state of the matching window.
type MatchingState string

const (
	MatchingOpen   MatchingState = "open"
	MatchingLapsed MatchingState = "lapsed"
	MatchingClosed MatchingState = "closed"
)

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Job is a customer service request.
type Job struct {
	ID                string
	Status            JobStatus
	CustomerID        string
	CustomerPhone     *string
	CustomerEmail     *string
	ServiceType       string
	LoadSize          string
	Pickup            Location
	PickupAddress     string
	PreferredTier     PayoutTier
	PreferredLanguage string

	AssignedProviderID *string

	PriceEstimate  Money
	LivePrice      Money
	FinalAmount    *Money
	PlatformFee    *Money
	ProviderPayout *Money
	TipAmount      Money

	PaymentStatus PaymentStatus
	PaymentRef    *string

	MatchingStartedAt *time.Time
	MatchingExpiresAt *time.Time
	NeedsManualMatch  bool

	AcceptedAt         *time.Time
	ContactState       ContactState
	ContactRequiredBy  *time.Time
	ContactReleasedAt  *time.Time
	ContactConfirmedAt *time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	PaidAt             *time.Time
	ArrivalNotifiedAt  *time.Time

	CancelledAt                *time.Time
	CancellationReason         *string
	CancelledBy                *Role
	CancellationPenaltyID      *string
	CancellationPenaltyCharged bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MatchingState evaluates the matching window at now without mutating the job.
func (j *Job) MatchingState(now time.Time) MatchingState {
	if j.Status != JobStatusMatching {
		return MatchingClosed
	}
	if j.NeedsManualMatch {
		return MatchingLapsed
	}
	if j.MatchingExpiresAt != nil && !now.Before(*j.MatchingExpiresAt) {
		return MatchingLapsed
	}
	return MatchingOpen
}

// IsAssignedTo reports whether providerID is the job's assigned provider.
func (j *Job) IsAssignedTo(providerID string) bool {
	return j.AssignedProviderID != nil && *j.AssignedProviderID == providerID
}

// AssignmentConsistent checks the assignment invariant: a provider is
// assigned exactly when the job was accepted and has not been re-opened.
func (j *Job) AssignmentConsistent() bool {
	var want bool
	switch j.Status {
	case JobStatusAssigned, JobStatusInProgress, JobStatusCompleted:
		want = true
	case JobStatusCancelled:
		want = j.AcceptedAt != nil
	}
	return (j.AssignedProviderID != nil) == want
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	c.CustomerPhone = cloneString(j.CustomerPhone)
	c.CustomerEmail = cloneString(j.CustomerEmail)
	c.AssignedProviderID = cloneString(j.AssignedProviderID)
	c.FinalAmount = cloneMoney(j.FinalAmount)
	c.PlatformFee = cloneMoney(j.PlatformFee)
	c.ProviderPayout = cloneMoney(j.ProviderPayout)
	c.PaymentRef = cloneString(j.PaymentRef)
	c.MatchingStartedAt = cloneTime(j.MatchingStartedAt)
	c.MatchingExpiresAt = cloneTime(j.MatchingExpiresAt)
	c.AcceptedAt = cloneTime(j.AcceptedAt)
	c.ContactRequiredBy = cloneTime(j.ContactRequiredBy)
	c.ContactReleasedAt = cloneTime(j.ContactReleasedAt)
	c.ContactConfirmedAt = cloneTime(j.ContactConfirmedAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.PaidAt = cloneTime(j.PaidAt)
	c.ArrivalNotifiedAt = cloneTime(j.ArrivalNotifiedAt)
	c.CancelledAt = cloneTime(j.CancelledAt)
	c.CancellationReason = cloneString(j.CancellationReason)
	c.CancellationPenaltyID = cloneString(j.CancellationPenaltyID)
	if j.CancelledBy != nil {
		r := *j.CancelledBy
		c.CancelledBy = &r
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMoney(m *Money) *Money {
	if m == nil {
		return nil
	}
	v := *m
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
