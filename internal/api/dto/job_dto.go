package dto

import (
	"github.com/cuongbtq/dispatch-be/internal/dispatch/disclosure"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/service"
)

// Amounts are integer cents throughout.

type LocationDTO struct {
	Lat float64 `json:"lat" binding:"gte=-90,lte=90"`
	Lng float64 `json:"lng" binding:"gte=-180,lte=180"`
}

type CreateJobRequest struct {
	CustomerID        string      `json:"customer_id"`
	CustomerPhone     *string     `json:"customer_phone"`
	CustomerEmail     *string     `json:"customer_email"`
	ServiceType       string      `json:"service_type" binding:"required"`
	LoadSize          string      `json:"load_size"`
	Pickup            LocationDTO `json:"pickup"`
	PickupAddress     string      `json:"pickup_address"`
	PreferredTier     string      `json:"preferred_tier"`
	PreferredLanguage string      `json:"preferred_language"`
	PriceEstimate     int64       `json:"price_estimate" binding:"required,gt=0"`
}

func (r CreateJobRequest) Input() service.CreateJobInput {
	return service.CreateJobInput{
		CustomerID:        r.CustomerID,
		CustomerPhone:     r.CustomerPhone,
		CustomerEmail:     r.CustomerEmail,
		ServiceType:       r.ServiceType,
		LoadSize:          r.LoadSize,
		Pickup:            domain.Location{Lat: r.Pickup.Lat, Lng: r.Pickup.Lng},
		PickupAddress:     r.PickupAddress,
		PreferredTier:     domain.PayoutTier(r.PreferredTier),
		PreferredLanguage: r.PreferredLanguage,
		PriceEstimate:     domain.Money(r.PriceEstimate),
	}
}

type ListJobsRequest struct {
	Status      string `form:"status"`
	CustomerID  string `form:"customer_id"`
	ProviderID  string `form:"provider_id"`
	ManualQueue bool   `form:"manual_queue"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
	HasMore    bool     `json:"has_more"`
}

type CreateJobResponse struct {
	Job      JobDTO            `json:"job"`
	Attempts []MatchAttemptDTO `json:"attempts"`
}

type CancelJobRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type CancelJobResponse struct {
	Job            JobDTO `json:"job"`
	PenaltyID      string `json:"penalty_id,omitempty"`
	PenaltyAmount  int64  `json:"penalty_amount"`
	PenaltyCharged bool   `json:"penalty_charged"`
	NoShow         bool   `json:"no_show,omitempty"`
}

// ReportNoShowRequest carries an optional note; the body may be omitted.
type ReportNoShowRequest struct {
	Note string `json:"note"`
}

type CompleteJobResponse struct {
	Job             JobDTO `json:"job"`
	FinalAmount     int64  `json:"final_amount"`
	PaymentCaptured bool   `json:"payment_captured"`
	PaymentError    string `json:"payment_error,omitempty"`
	PlatformFee     *int64 `json:"platform_fee,omitempty"`
	ProviderPayout  *int64 `json:"provider_payout,omitempty"`
}

type ConfirmContactResponse struct {
	ConfirmedAt      string `json:"confirmed_at"`
	AlreadyConfirmed bool   `json:"already_confirmed"`
	Late             bool   `json:"late"`
}

type AuthorizePaymentRequest struct {
	PaymentMethodRef string `json:"payment_method_ref" binding:"required"`
}

type ProviderCardDTO struct {
	ProviderID  string  `json:"provider_id"`
	DisplayName string  `json:"display_name"`
	VehicleType string  `json:"vehicle_type,omitempty"`
	Tier        string  `json:"tier"`
	Rating      float64 `json:"rating"`
	Phone       *string `json:"phone"`
	Email       *string `json:"email"`
}

type JobDTO struct {
	JobID             string      `json:"job_id"`
	Status            string      `json:"status"`
	CustomerID        string      `json:"customer_id"`
	CustomerPhone     *string     `json:"customer_phone"`
	CustomerEmail     *string     `json:"customer_email"`
	ServiceType       string      `json:"service_type"`
	LoadSize          string      `json:"load_size,omitempty"`
	Pickup            LocationDTO `json:"pickup"`
	PickupAddress     string      `json:"pickup_address,omitempty"`
	PreferredTier     string      `json:"preferred_tier,omitempty"`
	PreferredLanguage string      `json:"preferred_language,omitempty"`

	AssignedProviderID *string          `json:"assigned_provider_id"`
	Provider           *ProviderCardDTO `json:"provider,omitempty"`

	PriceEstimate  int64  `json:"price_estimate"`
	LivePrice      int64  `json:"live_price"`
	FinalAmount    *int64 `json:"final_amount"`
	PlatformFee    *int64 `json:"platform_fee"`
	ProviderPayout *int64 `json:"provider_payout"`
	TipAmount      int64  `json:"tip_amount"`

	PaymentStatus    string `json:"payment_status"`
	Disclosure       string `json:"disclosure"`
	MatchingState    string `json:"matching_state"`
	NeedsManualMatch bool   `json:"needs_manual_match"`
	ContactState     string `json:"contact_state"`

	MatchingStartedAt  *string `json:"matching_started_at"`
	MatchingExpiresAt  *string `json:"matching_expires_at"`
	AcceptedAt         *string `json:"accepted_at"`
	ContactRequiredBy  *string `json:"contact_required_by"`
	ContactReleasedAt  *string `json:"contact_released_at"`
	ContactConfirmedAt *string `json:"contact_confirmed_at"`
	StartedAt          *string `json:"started_at"`
	CompletedAt        *string `json:"completed_at"`
	PaidAt             *string `json:"paid_at"`

	CancelledAt                *string `json:"cancelled_at"`
	CancellationReason         *string `json:"cancellation_reason"`
	CancelledBy                *string `json:"cancelled_by"`
	CancellationPenaltyID      *string `json:"cancellation_penalty_id"`
	CancellationPenaltyCharged bool    `json:"cancellation_penalty_charged"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// FromJobView renders an already guarded view.
func FromJobView(v disclosure.JobView) JobDTO {
	j := v.Job
	out := JobDTO{
		JobID:             j.ID,
		Status:            string(j.Status),
		CustomerID:        j.CustomerID,
		CustomerPhone:     j.CustomerPhone,
		CustomerEmail:     j.CustomerEmail,
		ServiceType:       j.ServiceType,
		LoadSize:          j.LoadSize,
		Pickup:            LocationDTO{Lat: j.Pickup.Lat, Lng: j.Pickup.Lng},
		PickupAddress:     j.PickupAddress,
		PreferredTier:     string(j.PreferredTier),
		PreferredLanguage: j.PreferredLanguage,

		AssignedProviderID: j.AssignedProviderID,

		PriceEstimate:  int64(j.PriceEstimate),
		LivePrice:      int64(j.LivePrice),
		FinalAmount:    cents(j.FinalAmount),
		PlatformFee:    cents(j.PlatformFee),
		ProviderPayout: cents(j.ProviderPayout),
		TipAmount:      int64(j.TipAmount),

		PaymentStatus:    string(j.PaymentStatus),
		Disclosure:       string(v.Disclosure),
		MatchingState:    string(v.MatchingState),
		NeedsManualMatch: v.NeedsManualMatch,
		ContactState:     string(j.ContactState),

		MatchingStartedAt:  formatTime(j.MatchingStartedAt),
		MatchingExpiresAt:  formatTime(j.MatchingExpiresAt),
		AcceptedAt:         formatTime(j.AcceptedAt),
		ContactRequiredBy:  formatTime(j.ContactRequiredBy),
		ContactReleasedAt:  formatTime(j.ContactReleasedAt),
		ContactConfirmedAt: formatTime(j.ContactConfirmedAt),
		StartedAt:          formatTime(j.StartedAt),
		CompletedAt:        formatTime(j.CompletedAt),
		PaidAt:             formatTime(j.PaidAt),

		CancelledAt:                formatTime(j.CancelledAt),
		CancellationReason:         j.CancellationReason,
		CancellationPenaltyID:      j.CancellationPenaltyID,
		CancellationPenaltyCharged: j.CancellationPenaltyCharged,

		CreatedAt: j.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt: j.UpdatedAt.UTC().Format(timeLayout),
	}
	if j.CancelledBy != nil {
		by := string(*j.CancelledBy)
		out.CancelledBy = &by
	}
	if p := v.Provider; p != nil {
		out.Provider = &ProviderCardDTO{
			ProviderID:  p.ID,
			DisplayName: p.DisplayName,
			VehicleType: p.VehicleType,
			Tier:        string(p.Tier),
			Rating:      p.Rating,
			Phone:       p.Phone,
			Email:       p.Email,
		}
	}
	return out
}

func FromJobViews(views []disclosure.JobView) []JobDTO {
	out := make([]JobDTO, len(views))
	for i, v := range views {
		out[i] = FromJobView(v)
	}
	return out
}
