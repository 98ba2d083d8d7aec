package disclosure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

func fixture(status domain.PaymentStatus) JobView {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &domain.Job{
		ID:                 "job-1",
		Status:             domain.JobStatusAssigned,
		CustomerID:         "cust-1",
		CustomerPhone:      domain.Ptr("555-0100"),
		CustomerEmail:      domain.Ptr("cust@example.com"),
		AssignedProviderID: domain.Ptr("prov-1"),
		PaymentStatus:      status,
	}
	provider := &domain.ProviderProfile{
		ID:          "prov-1",
		DisplayName: "Haul Co",
		Phone:       domain.Ptr("555-0199"),
		Email:       domain.Ptr("pro@example.com"),
	}
	return NewJobView(job, provider, now)
}

func TestGuard(t *testing.T) {
	tests := []struct {
		name              string
		payment           domain.PaymentStatus
		role              domain.Role
		wantProviderShown bool
		wantCustomerShown bool
	}{
		{"customer before payment", domain.PaymentStatusNone, domain.RoleCustomer, false, true},
		{"customer after capture", domain.PaymentStatusCaptured, domain.RoleCustomer, true, true},
		{"customer after authorization", domain.PaymentStatusAuthorized, domain.RoleCustomer, true, true},
		{"customer with bnpl only", domain.PaymentStatusBNPLConfirmed, domain.RoleCustomer, false, true},
		{"provider before payment", domain.PaymentStatusNone, domain.RoleProvider, true, false},
		{"provider after payment", domain.PaymentStatusCompleted, domain.RoleProvider, true, true},
		{"admin before payment", domain.PaymentStatusNone, domain.RoleAdmin, true, true},
		{"unknown role masks both", domain.PaymentStatusNone, domain.Role("guest"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Guard(fixture(tt.payment), tt.role)
			require.NotNil(t, out.Provider)

			if tt.wantProviderShown {
				assert.Equal(t, "555-0199", *out.Provider.Phone)
				assert.Equal(t, "pro@example.com", *out.Provider.Email)
			} else {
				assert.Nil(t, out.Provider.Phone)
				assert.Nil(t, out.Provider.Email)
			}

			if tt.wantCustomerShown {
				assert.Equal(t, "555-0100", *out.Job.CustomerPhone)
				assert.Equal(t, "cust@example.com", *out.Job.CustomerEmail)
			} else {
				assert.Nil(t, out.Job.CustomerPhone)
				assert.Nil(t, out.Job.CustomerEmail)
			}

			// non-contact fields survive masking
			assert.Equal(t, "Haul Co", out.Provider.DisplayName)
			assert.Equal(t, "cust-1", out.Job.CustomerID)
		})
	}
}

func TestGuard_Idempotent(t *testing.T) {
	roles := []domain.Role{domain.RoleCustomer, domain.RoleProvider, domain.RoleAdmin, domain.Role("")}
	statuses := []domain.PaymentStatus{
		domain.PaymentStatusNone,
		domain.PaymentStatusAuthorized,
		domain.PaymentStatusCaptured,
		domain.PaymentStatusBNPLConfirmed,
	}

	for _, role := range roles {
		for _, status := range statuses {
			once := Guard(fixture(status), role)
			twice := Guard(once, role)
			assert.Equal(t, once, twice, "role=%s status=%s", role, status)
		}
	}
}

func TestGuard_DoesNotMutateInput(t *testing.T) {
	in := fixture(domain.PaymentStatusNone)
	_ = Guard(in, domain.RoleCustomer)
	_ = Guard(in, domain.RoleProvider)

	assert.Equal(t, "555-0199", *in.Provider.Phone)
	assert.Equal(t, "555-0100", *in.Job.CustomerPhone)
}

func TestGuard_NoProvider(t *testing.T) {
	job := &domain.Job{ID: "job-2", Status: domain.JobStatusMatching, CustomerPhone: domain.Ptr("555")}
	out := Guard(NewJobView(job, nil, time.Now()), domain.RoleCustomer)
	assert.Nil(t, out.Provider)
	assert.Equal(t, "555", *out.Job.CustomerPhone)
}

func TestNewJobView_LazyManualMatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(-time.Second)
	job := &domain.Job{ID: "job-3", Status: domain.JobStatusMatching, MatchingExpiresAt: &expires}

	v := NewJobView(job, nil, now)
	assert.True(t, v.NeedsManualMatch)
	assert.Equal(t, domain.MatchingLapsed, v.MatchingState)
	assert.Equal(t, domain.JobStatusMatching, v.Job.Status)
}

func TestGuardAll(t *testing.T) {
	views := GuardAll([]JobView{fixture(domain.PaymentStatusNone), fixture(domain.PaymentStatusCaptured)}, domain.RoleCustomer)
	require.Len(t, views, 2)
	assert.Nil(t, views[0].Provider.Phone)
	assert.NotNil(t, views[1].Provider.Phone)
}
