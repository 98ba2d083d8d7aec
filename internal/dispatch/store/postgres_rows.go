package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

type jobRow struct {
	ID                         string               `db:"id"`
	Status                     domain.JobStatus     `db:"status"`
	CustomerID                 string               `db:"customer_id"`
	CustomerPhone              *string              `db:"customer_phone"`
	CustomerEmail              *string              `db:"customer_email"`
	ServiceType                string               `db:"service_type"`
	LoadSize                   string               `db:"load_size"`
	PickupLat                  float64              `db:"pickup_lat"`
	PickupLng                  float64              `db:"pickup_lng"`
	PickupAddress              string               `db:"pickup_address"`
	PreferredTier              domain.PayoutTier    `db:"preferred_tier"`
	PreferredLanguage          string               `db:"preferred_language"`
	AssignedProviderID         *string              `db:"assigned_provider_id"`
	PriceEstimate              domain.Money         `db:"price_estimate_cents"`
	LivePrice                  domain.Money         `db:"live_price_cents"`
	FinalAmount                *domain.Money        `db:"final_amount_cents"`
	PlatformFee                *domain.Money        `db:"platform_fee_cents"`
	ProviderPayout             *domain.Money        `db:"provider_payout_cents"`
	TipAmount                  domain.Money         `db:"tip_amount_cents"`
	PaymentStatus              domain.PaymentStatus `db:"payment_status"`
	PaymentRef                 *string              `db:"payment_ref"`
	MatchingStartedAt          *time.Time           `db:"matching_started_at"`
	MatchingExpiresAt          *time.Time           `db:"matching_expires_at"`
	NeedsManualMatch           bool                 `db:"needs_manual_match"`
	AcceptedAt                 *time.Time           `db:"accepted_at"`
	ContactState               domain.ContactState  `db:"contact_state"`
	ContactRequiredBy          *time.Time           `db:"contact_required_by"`
	ContactReleasedAt          *time.Time           `db:"contact_released_at"`
	ContactConfirmedAt         *time.Time           `db:"contact_confirmed_at"`
	StartedAt                  *time.Time           `db:"started_at"`
	CompletedAt                *time.Time           `db:"completed_at"`
	PaidAt                     *time.Time           `db:"paid_at"`
	ArrivalNotifiedAt          *time.Time           `db:"arrival_notified_at"`
	CancelledAt                *time.Time           `db:"cancelled_at"`
	CancellationReason         *string              `db:"cancellation_reason"`
	CancelledBy                *domain.Role         `db:"cancelled_by"`
	CancellationPenaltyID      *string              `db:"cancellation_penalty_id"`
	CancellationPenaltyCharged bool                 `db:"cancellation_penalty_charged"`
	CreatedAt                  time.Time            `db:"created_at"`
	UpdatedAt                  time.Time            `db:"updated_at"`
}

var jobColumns = []string{
	"id", "status", "customer_id", "customer_phone", "customer_email",
	"service_type", "load_size", "pickup_lat", "pickup_lng", "pickup_address",
	"preferred_tier", "preferred_language", "assigned_provider_id",
	"price_estimate_cents", "live_price_cents", "final_amount_cents",
	"platform_fee_cents", "provider_payout_cents", "tip_amount_cents",
	"payment_status", "payment_ref", "matching_started_at", "matching_expires_at",
	"needs_manual_match", "accepted_at", "contact_state", "contact_required_by",
	"contact_released_at", "contact_confirmed_at", "started_at", "completed_at",
	"paid_at", "arrival_notified_at", "cancelled_at", "cancellation_reason",
	"cancelled_by", "cancellation_penalty_id", "cancellation_penalty_charged",
	"created_at", "updated_at",
}

func newJobRow(j *domain.Job) jobRow {
	return jobRow{
		ID:                         j.ID,
		Status:                     j.Status,
		CustomerID:                 j.CustomerID,
		CustomerPhone:              j.CustomerPhone,
		CustomerEmail:              j.CustomerEmail,
		ServiceType:                j.ServiceType,
		LoadSize:                   j.LoadSize,
		PickupLat:                  j.Pickup.Lat,
		PickupLng:                  j.Pickup.Lng,
		PickupAddress:              j.PickupAddress,
		PreferredTier:              j.PreferredTier,
		PreferredLanguage:          j.PreferredLanguage,
		AssignedProviderID:         j.AssignedProviderID,
		PriceEstimate:              j.PriceEstimate,
		LivePrice:                  j.LivePrice,
		FinalAmount:                j.FinalAmount,
		PlatformFee:                j.PlatformFee,
		ProviderPayout:             j.ProviderPayout,
		TipAmount:                  j.TipAmount,
		PaymentStatus:              j.PaymentStatus,
		PaymentRef:                 j.PaymentRef,
		MatchingStartedAt:          j.MatchingStartedAt,
		MatchingExpiresAt:          j.MatchingExpiresAt,
		NeedsManualMatch:           j.NeedsManualMatch,
		AcceptedAt:                 j.AcceptedAt,
		ContactState:               j.ContactState,
		ContactRequiredBy:          j.ContactRequiredBy,
		ContactReleasedAt:          j.ContactReleasedAt,
		ContactConfirmedAt:         j.ContactConfirmedAt,
		StartedAt:                  j.StartedAt,
		CompletedAt:                j.CompletedAt,
		PaidAt:                     j.PaidAt,
		ArrivalNotifiedAt:          j.ArrivalNotifiedAt,
		CancelledAt:                j.CancelledAt,
		CancellationReason:         j.CancellationReason,
		CancelledBy:                j.CancelledBy,
		CancellationPenaltyID:      j.CancellationPenaltyID,
		CancellationPenaltyCharged: j.CancellationPenaltyCharged,
		CreatedAt:                  j.CreatedAt,
		UpdatedAt:                  j.UpdatedAt,
	}
}

func (r *jobRow) toDomain() domain.Job {
	return domain.Job{
		ID:                         r.ID,
		Status:                     r.Status,
		CustomerID:                 r.CustomerID,
		CustomerPhone:              r.CustomerPhone,
		CustomerEmail:              r.CustomerEmail,
		ServiceType:                r.ServiceType,
		LoadSize:                   r.LoadSize,
		Pickup:                     domain.Location{Lat: r.PickupLat, Lng: r.PickupLng},
		PickupAddress:              r.PickupAddress,
		PreferredTier:              r.PreferredTier,
		PreferredLanguage:          r.PreferredLanguage,
		AssignedProviderID:         r.AssignedProviderID,
		PriceEstimate:              r.PriceEstimate,
		LivePrice:                  r.LivePrice,
		FinalAmount:                r.FinalAmount,
		PlatformFee:                r.PlatformFee,
		ProviderPayout:             r.ProviderPayout,
		TipAmount:                  r.TipAmount,
		PaymentStatus:              r.PaymentStatus,
		PaymentRef:                 r.PaymentRef,
		MatchingStartedAt:          r.MatchingStartedAt,
		MatchingExpiresAt:          r.MatchingExpiresAt,
		NeedsManualMatch:           r.NeedsManualMatch,
		AcceptedAt:                 r.AcceptedAt,
		ContactState:               r.ContactState,
		ContactRequiredBy:          r.ContactRequiredBy,
		ContactReleasedAt:          r.ContactReleasedAt,
		ContactConfirmedAt:         r.ContactConfirmedAt,
		StartedAt:                  r.StartedAt,
		CompletedAt:                r.CompletedAt,
		PaidAt:                     r.PaidAt,
		ArrivalNotifiedAt:          r.ArrivalNotifiedAt,
		CancelledAt:                r.CancelledAt,
		CancellationReason:         r.CancellationReason,
		CancelledBy:                r.CancelledBy,
		CancellationPenaltyID:      r.CancellationPenaltyID,
		CancellationPenaltyCharged: r.CancellationPenaltyCharged,
		CreatedAt:                  r.CreatedAt,
		UpdatedAt:                  r.UpdatedAt,
	}
}

type providerRow struct {
	ID                       string                       `db:"id"`
	UserID                   string                       `db:"user_id"`
	DisplayName              string                       `db:"display_name"`
	Phone                    *string                      `db:"phone"`
	Email                    *string                      `db:"email"`
	ServiceTypes             pq.StringArray               `db:"service_types"`
	VehicleType              string                       `db:"vehicle_type"`
	Languages                pq.StringArray               `db:"languages"`
	Tier                     domain.PayoutTier            `db:"tier"`
	IsAvailable              bool                         `db:"is_available"`
	HasPaymentMethodOnFile   bool                         `db:"has_payment_method_on_file"`
	BackgroundCheckStatus    domain.BackgroundCheckStatus `db:"background_check_status"`
	NDAAccepted              bool                         `db:"nda_accepted"`
	IncidentPaymentMethodRef *string                      `db:"incident_payment_method_ref"`
	PaymentCustomerRef       *string                      `db:"payment_customer_ref"`
	PayoutAccountRef         *string                      `db:"payout_account_ref"`
	PayoutOnboarded          bool                         `db:"payout_onboarded"`
	CanAcceptJobs            bool                         `db:"can_accept_jobs"`
	Rating                   float64                      `db:"rating"`
	RatingCount              int                          `db:"rating_count"`
	HourlyRate               domain.Money                 `db:"hourly_rate_cents"`
	LastLat                  *float64                     `db:"last_lat"`
	LastLng                  *float64                     `db:"last_lng"`
	CreatedAt                time.Time                    `db:"created_at"`
	UpdatedAt                time.Time                    `db:"updated_at"`
}

var providerColumns = []string{
	"id", "user_id", "display_name", "phone", "email", "service_types",
	"vehicle_type", "languages", "tier", "is_available",
	"has_payment_method_on_file", "background_check_status", "nda_accepted",
	"incident_payment_method_ref", "payment_customer_ref", "payout_account_ref",
	"payout_onboarded", "can_accept_jobs", "rating", "rating_count",
	"hourly_rate_cents", "last_lat", "last_lng", "created_at", "updated_at",
}

func newProviderRow(p *domain.ProviderProfile) providerRow {
	r := providerRow{
		ID:                       p.ID,
		UserID:                   p.UserID,
		DisplayName:              p.DisplayName,
		Phone:                    p.Phone,
		Email:                    p.Email,
		ServiceTypes:             pq.StringArray(nonNil(p.ServiceTypes)),
		VehicleType:              p.VehicleType,
		Languages:                pq.StringArray(nonNil(p.Languages)),
		Tier:                     p.Tier,
		IsAvailable:              p.IsAvailable,
		HasPaymentMethodOnFile:   p.HasPaymentMethodOnFile,
		BackgroundCheckStatus:    p.BackgroundCheckStatus,
		NDAAccepted:              p.NDAAccepted,
		IncidentPaymentMethodRef: p.IncidentPaymentMethodRef,
		PaymentCustomerRef:       p.PaymentCustomerRef,
		PayoutAccountRef:         p.PayoutAccountRef,
		PayoutOnboarded:          p.PayoutOnboarded,
		CanAcceptJobs:            p.CanAcceptJobs,
		Rating:                   p.Rating,
		RatingCount:              p.RatingCount,
		HourlyRate:               p.HourlyRate,
		CreatedAt:                p.CreatedAt,
		UpdatedAt:                p.UpdatedAt,
	}
	if p.LastKnown != nil {
		r.LastLat = &p.LastKnown.Lat
		r.LastLng = &p.LastKnown.Lng
	}
	return r
}

func (r *providerRow) toDomain() domain.ProviderProfile {
	p := domain.ProviderProfile{
		ID:                       r.ID,
		UserID:                   r.UserID,
		DisplayName:              r.DisplayName,
		Phone:                    r.Phone,
		Email:                    r.Email,
		ServiceTypes:             []string(r.ServiceTypes),
		VehicleType:              r.VehicleType,
		Languages:                []string(r.Languages),
		Tier:                     r.Tier,
		IsAvailable:              r.IsAvailable,
		HasPaymentMethodOnFile:   r.HasPaymentMethodOnFile,
		BackgroundCheckStatus:    r.BackgroundCheckStatus,
		NDAAccepted:              r.NDAAccepted,
		IncidentPaymentMethodRef: r.IncidentPaymentMethodRef,
		PaymentCustomerRef:       r.PaymentCustomerRef,
		PayoutAccountRef:         r.PayoutAccountRef,
		PayoutOnboarded:          r.PayoutOnboarded,
		CanAcceptJobs:            r.CanAcceptJobs,
		Rating:                   r.Rating,
		RatingCount:              r.RatingCount,
		HourlyRate:               r.HourlyRate,
		CreatedAt:                r.CreatedAt,
		UpdatedAt:                r.UpdatedAt,
	}
	if r.LastLat != nil && r.LastLng != nil {
		p.LastKnown = &domain.Location{Lat: *r.LastLat, Lng: *r.LastLng}
	}
	return p
}

type attemptRow struct {
	ID            string                    `db:"id"`
	JobID         string                    `db:"job_id"`
	ProviderID    string                    `db:"provider_id"`
	Status        domain.MatchAttemptStatus `db:"status"`
	QuotedPrice   domain.Money              `db:"quoted_price_cents"`
	EtaMinutes    int                       `db:"eta_minutes"`
	DistanceMiles float64                   `db:"distance_miles"`
	Rank          int                       `db:"rank"`
	ExpiresAt     time.Time                 `db:"expires_at"`
	RespondedAt   *time.Time                `db:"responded_at"`
	CreatedAt     time.Time                 `db:"created_at"`
}

var attemptColumns = []string{
	"id", "job_id", "provider_id", "status", "quoted_price_cents", "eta_minutes",
	"distance_miles", "rank", "expires_at", "responded_at", "created_at",
}

func (r *attemptRow) toDomain() domain.MatchAttempt {
	return domain.MatchAttempt(*r)
}

type adjustmentRow struct {
	ID          string                  `db:"id"`
	JobID       string                  `db:"job_id"`
	ProviderID  string                  `db:"provider_id"`
	Type        domain.AdjustmentType   `db:"adjustment_type"`
	ItemName    string                  `db:"item_name"`
	Quantity    int                     `db:"quantity"`
	PriceChange domain.Money            `db:"price_change_cents"`
	Reason      string                  `db:"reason"`
	PhotoURLs   pq.StringArray          `db:"photo_urls"`
	Status      domain.AdjustmentStatus `db:"status"`
	DecidedBy   *string                 `db:"decided_by"`
	DecidedAt   *time.Time              `db:"decided_at"`
	CreatedAt   time.Time               `db:"created_at"`
}

var adjustmentColumns = []string{
	"id", "job_id", "provider_id", "adjustment_type", "item_name", "quantity",
	"price_change_cents", "reason", "photo_urls", "status", "decided_by",
	"decided_at", "created_at",
}

func newAdjustmentRow(a *domain.Adjustment) adjustmentRow {
	return adjustmentRow{
		ID:          a.ID,
		JobID:       a.JobID,
		ProviderID:  a.ProviderID,
		Type:        a.Type,
		ItemName:    a.ItemName,
		Quantity:    a.Quantity,
		PriceChange: a.PriceChange,
		Reason:      a.Reason,
		PhotoURLs:   pq.StringArray(nonNil(a.PhotoURLs)),
		Status:      a.Status,
		DecidedBy:   a.DecidedBy,
		DecidedAt:   a.DecidedAt,
		CreatedAt:   a.CreatedAt,
	}
}

func (r *adjustmentRow) toDomain() domain.Adjustment {
	return domain.Adjustment{
		ID:          r.ID,
		JobID:       r.JobID,
		ProviderID:  r.ProviderID,
		Type:        r.Type,
		ItemName:    r.ItemName,
		Quantity:    r.Quantity,
		PriceChange: r.PriceChange,
		Reason:      r.Reason,
		PhotoURLs:   []string(r.PhotoURLs),
		Status:      r.Status,
		DecidedBy:   r.DecidedBy,
		DecidedAt:   r.DecidedAt,
		CreatedAt:   r.CreatedAt,
	}
}

type completionRow struct {
	JobID             string       `db:"job_id"`
	ArrivedAtPickup   bool         `db:"arrived_at_pickup"`
	ArrivedAtPickupAt *time.Time   `db:"arrived_at_pickup_at"`
	ItemsVerified     bool         `db:"items_verified"`
	WorkCompleted     bool         `db:"work_completed"`
	WorkCompletedAt   *time.Time   `db:"work_completed_at"`
	Notes             string       `db:"notes"`
	OriginalQuote     domain.Money `db:"original_quote_cents"`
	AdjustmentsTotal  domain.Money `db:"adjustments_total_cents"`
	FinalAmount       domain.Money `db:"final_amount_cents"`
	PaymentCaptured   bool         `db:"payment_captured"`
	PaymentCapturedAt *time.Time   `db:"payment_captured_at"`
	CustomerRating    *int         `db:"customer_rating"`
	CustomerFeedback  *string      `db:"customer_feedback"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
}

var completionColumns = []string{
	"job_id", "arrived_at_pickup", "arrived_at_pickup_at", "items_verified",
	"work_completed", "work_completed_at", "notes", "original_quote_cents",
	"adjustments_total_cents", "final_amount_cents", "payment_captured",
	"payment_captured_at", "customer_rating", "customer_feedback",
	"created_at", "updated_at",
}

func (r *completionRow) toDomain() domain.Completion {
	return domain.Completion(*r)
}

type penaltyRow struct {
	ID           string               `db:"id"`
	ProviderID   string               `db:"provider_id"`
	JobID        string               `db:"job_id"`
	Reason       string               `db:"reason"`
	Amount       domain.Money         `db:"amount_cents"`
	Status       domain.PenaltyStatus `db:"status"`
	ChargeRef    *string              `db:"charge_ref"`
	ChargedAt    *time.Time           `db:"charged_at"`
	WaivedAt     *time.Time           `db:"waived_at"`
	WaivedReason *string              `db:"waived_reason"`
	CreatedAt    time.Time            `db:"created_at"`
}

var penaltyColumns = []string{
	"id", "provider_id", "job_id", "reason", "amount_cents", "status",
	"charge_ref", "charged_at", "waived_at", "waived_reason", "created_at",
}

func (r *penaltyRow) toDomain() domain.Penalty {
	return domain.Penalty(*r)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func selectSQL(table string, cols []string) string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table)
}

func insertSQL(table string, cols []string) string {
	named := make([]string, len(cols))
	for i, c := range cols {
		named[i] = ":" + c
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(named, ", "))
}

// updateSQL sets every column except key from its named parameter.
func updateSQL(table, key string, cols []string, where string) string {
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == key || c == "created_at" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = :%s", c, c))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = :%s%s", table, strings.Join(sets, ", "), key, key, where)
}
