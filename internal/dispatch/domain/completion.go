package domain

import "time"

// Completion is the work checklist and final totals for a started job.
type Completion struct {
	JobID             string
	ArrivedAtPickup   bool
	ArrivedAtPickupAt *time.Time
	ItemsVerified     bool
	WorkCompleted     bool
	WorkCompletedAt   *time.Time
	Notes             string

	OriginalQuote    Money
	AdjustmentsTotal Money
	FinalAmount      Money

	PaymentCaptured   bool
	PaymentCapturedAt *time.Time

	CustomerRating   *int
	CustomerFeedback *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChecklistUpdate is a partial update of the provider's checklist; nil fields are left alone.
type ChecklistUpdate struct {
	ArrivedAtPickup *bool
	ItemsVerified   *bool
	WorkCompleted   *bool
	Notes           *string
}

// Apply merges u into c, stamping the first time a flag turns true.
func (c *Completion) Apply(u ChecklistUpdate, now time.Time) {
	if u.ArrivedAtPickup != nil {
		if *u.ArrivedAtPickup && !c.ArrivedAtPickup {
			c.ArrivedAtPickupAt = &now
		}
		c.ArrivedAtPickup = *u.ArrivedAtPickup
	}
	if u.ItemsVerified != nil {
		c.ItemsVerified = *u.ItemsVerified
	}
	if u.WorkCompleted != nil {
		if *u.WorkCompleted && !c.WorkCompleted {
			c.WorkCompletedAt = &now
		}
		if !*u.WorkCompleted {
			c.WorkCompletedAt = nil
		}
		c.WorkCompleted = *u.WorkCompleted
	}
	if u.Notes != nil {
		c.Notes = *u.Notes
	}
	c.UpdatedAt = now
}

// Clone returns a deep copy.
func (c *Completion) Clone() *Completion {
	cp := *c
	cp.ArrivedAtPickupAt = cloneTime(c.ArrivedAtPickupAt)
	cp.WorkCompletedAt = cloneTime(c.WorkCompletedAt)
	cp.PaymentCapturedAt = cloneTime(c.PaymentCapturedAt)
	if c.CustomerRating != nil {
		r := *c.CustomerRating
		cp.CustomerRating = &r
	}
	cp.CustomerFeedback = cloneString(c.CustomerFeedback)
	return &cp
}
