package dto

import (
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/service"
)

type RegisterProviderRequest struct {
	UserID       string   `json:"user_id"`
	DisplayName  string   `json:"display_name" binding:"required"`
	Phone        *string  `json:"phone"`
	Email        *string  `json:"email"`
	ServiceTypes []string `json:"service_types" binding:"required,min=1"`
	VehicleType  string   `json:"vehicle_type"`
	Languages    []string `json:"languages"`
	HourlyRate   int64    `json:"hourly_rate" binding:"gte=0"`
}

func (r RegisterProviderRequest) Input() service.RegisterProviderInput {
	return service.RegisterProviderInput{
		UserID:       r.UserID,
		DisplayName:  r.DisplayName,
		Phone:        r.Phone,
		Email:        r.Email,
		ServiceTypes: r.ServiceTypes,
		VehicleType:  r.VehicleType,
		Languages:    r.Languages,
		HourlyRate:   domain.Money(r.HourlyRate),
	}
}

type ComplianceRequest struct {
	HasPaymentMethodOnFile   *bool   `json:"has_payment_method_on_file"`
	NDAAccepted              *bool   `json:"nda_accepted"`
	IncidentPaymentMethodRef *string `json:"incident_payment_method_ref"`
	PaymentCustomerRef       *string `json:"payment_customer_ref"`
	PayoutAccountRef         *string `json:"payout_account_ref"`
	PayoutOnboarded          *bool   `json:"payout_onboarded"`
	IsAvailable              *bool   `json:"is_available"`
	BackgroundCheckStatus    *string `json:"background_check_status"`
	Tier                     *string `json:"tier"`
}

func (r ComplianceRequest) Update() service.ComplianceUpdate {
	u := service.ComplianceUpdate{
		HasPaymentMethodOnFile:   r.HasPaymentMethodOnFile,
		NDAAccepted:              r.NDAAccepted,
		IncidentPaymentMethodRef: r.IncidentPaymentMethodRef,
		PaymentCustomerRef:       r.PaymentCustomerRef,
		PayoutAccountRef:         r.PayoutAccountRef,
		PayoutOnboarded:          r.PayoutOnboarded,
		IsAvailable:              r.IsAvailable,
	}
	if r.BackgroundCheckStatus != nil {
		s := domain.BackgroundCheckStatus(*r.BackgroundCheckStatus)
		u.BackgroundCheckStatus = &s
	}
	if r.Tier != nil {
		t := domain.PayoutTier(*r.Tier)
		u.Tier = &t
	}
	return u
}

type ProviderDTO struct {
	ProviderID  string   `json:"provider_id"`
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Phone       *string  `json:"phone"`
	Email       *string  `json:"email"`
	Services    []string `json:"service_types"`
	VehicleType string   `json:"vehicle_type,omitempty"`
	Languages   []string `json:"languages"`
	Tier        string   `json:"tier"`

	IsAvailable            bool   `json:"is_available"`
	HasPaymentMethodOnFile bool   `json:"has_payment_method_on_file"`
	BackgroundCheckStatus  string `json:"background_check_status"`
	NDAAccepted            bool   `json:"nda_accepted"`
	HasIncidentMethod      bool   `json:"has_incident_payment_method"`
	PayoutOnboarded        bool   `json:"payout_onboarded"`
	CanAcceptJobs          bool   `json:"can_accept_jobs"`

	UnmetConditions  []string `json:"unmet_conditions"`
	OutstandingTotal int64    `json:"outstanding_penalties"`

	Rating      float64      `json:"rating"`
	RatingCount int          `json:"rating_count"`
	HourlyRate  int64        `json:"hourly_rate"`
	LastKnown   *LocationDTO `json:"last_known_location"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func FromProviderDetail(d *service.ProviderDetail) ProviderDTO {
	p := d.Profile
	unmet := make([]string, len(d.Unmet))
	for i, c := range d.Unmet {
		unmet[i] = string(c)
	}
	out := ProviderDTO{
		ProviderID:  p.ID,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Phone:       p.Phone,
		Email:       p.Email,
		Services:    nonNil(p.ServiceTypes),
		VehicleType: p.VehicleType,
		Languages:   nonNil(p.Languages),
		Tier:        string(p.Tier),

		IsAvailable:            p.IsAvailable,
		HasPaymentMethodOnFile: p.HasPaymentMethodOnFile,
		BackgroundCheckStatus:  string(p.BackgroundCheckStatus),
		NDAAccepted:            p.NDAAccepted,
		HasIncidentMethod:      p.IncidentPaymentMethodRef != nil,
		PayoutOnboarded:        p.PayoutOnboarded,
		CanAcceptJobs:          p.CanAcceptJobs,

		UnmetConditions:  unmet,
		OutstandingTotal: int64(d.OutstandingTotal),

		Rating:      p.EffectiveRating(),
		RatingCount: p.RatingCount,
		HourlyRate:  int64(p.HourlyRate),

		CreatedAt: p.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt: p.UpdatedAt.UTC().Format(timeLayout),
	}
	if p.LastKnown != nil {
		out.LastKnown = &LocationDTO{Lat: p.LastKnown.Lat, Lng: p.LastKnown.Lng}
	}
	return out
}

type ListPenaltiesRequest struct {
	JobID  string `form:"job_id"`
	Status string `form:"status"`
}

type WaivePenaltyRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type PenaltyDTO struct {
	PenaltyID    string  `json:"penalty_id"`
	ProviderID   string  `json:"provider_id"`
	JobID        string  `json:"job_id"`
	Reason       string  `json:"reason"`
	Amount       int64   `json:"amount"`
	Status       string  `json:"status"`
	ChargeRef    *string `json:"charge_ref"`
	ChargedAt    *string `json:"charged_at"`
	WaivedAt     *string `json:"waived_at"`
	WaivedReason *string `json:"waived_reason"`
	CreatedAt    string  `json:"created_at"`
}

func FromPenalty(p *domain.Penalty) PenaltyDTO {
	return PenaltyDTO{
		PenaltyID:    p.ID,
		ProviderID:   p.ProviderID,
		JobID:        p.JobID,
		Reason:       p.Reason,
		Amount:       int64(p.Amount),
		Status:       string(p.Status),
		ChargeRef:    p.ChargeRef,
		ChargedAt:    formatTime(p.ChargedAt),
		WaivedAt:     formatTime(p.WaivedAt),
		WaivedReason: p.WaivedReason,
		CreatedAt:    p.CreatedAt.UTC().Format(timeLayout),
	}
}

func FromPenalties(penalties []domain.Penalty) []PenaltyDTO {
	out := make([]PenaltyDTO, len(penalties))
	for i := range penalties {
		out[i] = FromPenalty(&penalties[i])
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
