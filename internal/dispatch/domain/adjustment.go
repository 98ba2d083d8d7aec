package domain

import (
	"slices"
	"time"
)

// AdjustmentStatus is the customer's decision on a mid-job price change.
type AdjustmentStatus string

const (
	AdjustmentPending  AdjustmentStatus = "pending"
	AdjustmentApproved AdjustmentStatus = "approved"
	AdjustmentDeclined AdjustmentStatus = "declined"
)

// AdjustmentType classifies why the price changed.
type AdjustmentType string

const (
	AdjustmentAddItem    AdjustmentType = "add_item"
	AdjustmentRemoveItem AdjustmentType = "remove_item"
	AdjustmentExtraLabor AdjustmentType = "extra_labor"
	AdjustmentOther      AdjustmentType = "other"
)

// Valid reports whether t is a known adjustment type.
func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentAddItem, AdjustmentRemoveItem, AdjustmentExtraLabor, AdjustmentOther:
		return true
	}
	return false
}

// Adjustment is a provider-proposed change to the job price.
type Adjustment struct {
	ID          string
	JobID       string
	ProviderID  string
	Type        AdjustmentType
	ItemName    string
	Quantity    int
	PriceChange Money
	Reason      string
	PhotoURLs   []string
	Status      AdjustmentStatus
	DecidedBy   *string
	DecidedAt   *time.Time
	CreatedAt   time.Time
}

// Clone returns a deep copy.
func (a *Adjustment) Clone() *Adjustment {
	c := *a
	c.PhotoURLs = slices.Clone(a.PhotoURLs)
	c.DecidedBy = cloneString(a.DecidedBy)
	c.DecidedAt = cloneTime(a.DecidedAt)
	return &c
}

// ApprovedTotal sums the approved price changes.
func ApprovedTotal(adjustments []Adjustment) Money {
	var total Money
	for _, a := range adjustments {
		if a.Status == AdjustmentApproved {
			total += a.PriceChange
		}
	}
	return total
}

// HasPending reports whether any adjustment awaits a decision.
func HasPending(adjustments []Adjustment) bool {
	for _, a := range adjustments {
		if a.Status == AdjustmentPending {
			return true
		}
	}
	return false
}

// CurrentRun keeps the adjustments proposed by job's assigned provider
// since it accepted. Adjustments left over from an earlier run of a
// re-matched job are dropped.
func CurrentRun(adjustments []Adjustment, job *Job) []Adjustment {
	if job.AssignedProviderID == nil || job.AcceptedAt == nil {
		return nil
	}
	var out []Adjustment
	for _, a := range adjustments {
		if a.ProviderID == *job.AssignedProviderID && !a.CreatedAt.Before(*job.AcceptedAt) {
			out = append(out, a)
		}
	}
	return out
}
