package dto

import (
	"time"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/service"
)

const timeLayout = time.RFC3339

type MatchAttemptDTO struct {
	AttemptID     string  `json:"attempt_id"`
	JobID         string  `json:"job_id"`
	ProviderID    string  `json:"provider_id"`
	Status        string  `json:"status"`
	QuotedPrice   int64   `json:"quoted_price"`
	EtaMinutes    int     `json:"eta_minutes"`
	DistanceMiles float64 `json:"distance_miles"`
	Rank          int     `json:"rank"`
	ExpiresAt     string  `json:"expires_at"`
	RespondedAt   *string `json:"responded_at"`
	CreatedAt     string  `json:"created_at"`
}

func FromMatchAttempt(a domain.MatchAttempt) MatchAttemptDTO {
	return MatchAttemptDTO{
		AttemptID:     a.ID,
		JobID:         a.JobID,
		ProviderID:    a.ProviderID,
		Status:        string(a.Status),
		QuotedPrice:   int64(a.QuotedPrice),
		EtaMinutes:    a.EtaMinutes,
		DistanceMiles: a.DistanceMiles,
		Rank:          a.Rank,
		ExpiresAt:     a.ExpiresAt.UTC().Format(timeLayout),
		RespondedAt:   formatTime(a.RespondedAt),
		CreatedAt:     a.CreatedAt.UTC().Format(timeLayout),
	}
}

func FromMatchAttempts(attempts []domain.MatchAttempt) []MatchAttemptDTO {
	out := make([]MatchAttemptDTO, len(attempts))
	for i, a := range attempts {
		out[i] = FromMatchAttempt(a)
	}
	return out
}

type OfferDTO struct {
	Attempt MatchAttemptDTO `json:"attempt"`
	Job     JobDTO          `json:"job"`
}

func FromOffers(offers []service.Offer) []OfferDTO {
	out := make([]OfferDTO, len(offers))
	for i, o := range offers {
		out[i] = OfferDTO{Attempt: FromMatchAttempt(o.Attempt), Job: FromJobView(o.Job)}
	}
	return out
}

type ChecklistRequest struct {
	ArrivedAtPickup *bool   `json:"arrived_at_pickup"`
	ItemsVerified   *bool   `json:"items_verified"`
	WorkCompleted   *bool   `json:"work_completed"`
	Notes           *string `json:"notes"`
}

func (r ChecklistRequest) Update() domain.ChecklistUpdate {
	return domain.ChecklistUpdate{
		ArrivedAtPickup: r.ArrivedAtPickup,
		ItemsVerified:   r.ItemsVerified,
		WorkCompleted:   r.WorkCompleted,
		Notes:           r.Notes,
	}
}

type CompletionDTO struct {
	JobID             string  `json:"job_id"`
	ArrivedAtPickup   bool    `json:"arrived_at_pickup"`
	ArrivedAtPickupAt *string `json:"arrived_at_pickup_at"`
	ItemsVerified     bool    `json:"items_verified"`
	WorkCompleted     bool    `json:"work_completed"`
	WorkCompletedAt   *string `json:"work_completed_at"`
	Notes             string  `json:"notes"`
	OriginalQuote     int64   `json:"original_quote"`
	AdjustmentsTotal  int64   `json:"adjustments_total"`
	FinalAmount       int64   `json:"final_amount"`
	PaymentCaptured   bool    `json:"payment_captured"`
	PaymentCapturedAt *string `json:"payment_captured_at"`
	CustomerRating    *int    `json:"customer_rating"`
	CustomerFeedback  *string `json:"customer_feedback"`
}

func FromCompletion(c *domain.Completion) CompletionDTO {
	return CompletionDTO{
		JobID:             c.JobID,
		ArrivedAtPickup:   c.ArrivedAtPickup,
		ArrivedAtPickupAt: formatTime(c.ArrivedAtPickupAt),
		ItemsVerified:     c.ItemsVerified,
		WorkCompleted:     c.WorkCompleted,
		WorkCompletedAt:   formatTime(c.WorkCompletedAt),
		Notes:             c.Notes,
		OriginalQuote:     int64(c.OriginalQuote),
		AdjustmentsTotal:  int64(c.AdjustmentsTotal),
		FinalAmount:       int64(c.FinalAmount),
		PaymentCaptured:   c.PaymentCaptured,
		PaymentCapturedAt: formatTime(c.PaymentCapturedAt),
		CustomerRating:    c.CustomerRating,
		CustomerFeedback:  c.CustomerFeedback,
	}
}

type AddAdjustmentRequest struct {
	Type        string   `json:"adjustment_type" binding:"required"`
	ItemName    string   `json:"item_name"`
	Quantity    int      `json:"quantity"`
	PriceChange int64    `json:"price_change"`
	Reason      string   `json:"reason"`
	PhotoURLs   []string `json:"photo_urls"`
}

func (r AddAdjustmentRequest) Input() service.AddAdjustmentInput {
	return service.AddAdjustmentInput{
		Type:        domain.AdjustmentType(r.Type),
		ItemName:    r.ItemName,
		Quantity:    r.Quantity,
		PriceChange: domain.Money(r.PriceChange),
		Reason:      r.Reason,
		PhotoURLs:   r.PhotoURLs,
	}
}

type AdjustmentDTO struct {
	AdjustmentID string   `json:"adjustment_id"`
	JobID        string   `json:"job_id"`
	ProviderID   string   `json:"provider_id"`
	Type         string   `json:"adjustment_type"`
	ItemName     string   `json:"item_name,omitempty"`
	Quantity     int      `json:"quantity"`
	PriceChange  int64    `json:"price_change"`
	Reason       string   `json:"reason,omitempty"`
	PhotoURLs    []string `json:"photo_urls"`
	Status       string   `json:"status"`
	DecidedBy    *string  `json:"decided_by"`
	DecidedAt    *string  `json:"decided_at"`
	CreatedAt    string   `json:"created_at"`
}

func FromAdjustment(a *domain.Adjustment) AdjustmentDTO {
	photos := a.PhotoURLs
	if photos == nil {
		photos = []string{}
	}
	return AdjustmentDTO{
		AdjustmentID: a.ID,
		JobID:        a.JobID,
		ProviderID:   a.ProviderID,
		Type:         string(a.Type),
		ItemName:     a.ItemName,
		Quantity:     a.Quantity,
		PriceChange:  int64(a.PriceChange),
		Reason:       a.Reason,
		PhotoURLs:    photos,
		Status:       string(a.Status),
		DecidedBy:    a.DecidedBy,
		DecidedAt:    formatTime(a.DecidedAt),
		CreatedAt:    a.CreatedAt.UTC().Format(timeLayout),
	}
}

func FromAdjustments(adjustments []domain.Adjustment) []AdjustmentDTO {
	out := make([]AdjustmentDTO, len(adjustments))
	for i := range adjustments {
		out[i] = FromAdjustment(&adjustments[i])
	}
	return out
}

type RateJobRequest struct {
	Rating   int     `json:"rating" binding:"required,min=1,max=5"`
	Feedback *string `json:"feedback"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func cents(m *domain.Money) *int64 {
	if m == nil {
		return nil
	}
	v := int64(*m)
	return &v
}
