package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/matching"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/payment"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
	"github.com/cuongbtq/dispatch-be/shared/logger"
)

var (
	t0       = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pickup   = domain.Location{Lat: 37.7749, Lng: -122.4194}
	customer = domain.Actor{ID: "cust-1", Role: domain.RoleCustomer}
	admin    = domain.Admin("ops-1")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingPublisher) Publish(evt domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingPublisher) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recordingPublisher) last() domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recordingPublisher) count(typ domain.EventType) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	svc    *Service
	opts   Options
	store  store.Store
	gw     *payment.MockGateway
	events *recordingPublisher
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		store:  store.NewMemory(),
		gw:     payment.NewMockGateway(ctrl),
		events: &recordingPublisher{},
		clock:  &fakeClock{now: t0},
	}

	var seq atomic.Int64
	f.opts = Options{
		Store:     f.store,
		Gateway:   f.gw,
		Matcher:   matching.NewEngine(matching.DefaultConfig(), matching.NewTierQuoter(nil), logger.NewDiscard()),
		Publisher: f.events,
		Logger:    logger.NewDiscard(),
		Now:       f.clock.Now,
		NewID:     func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	}
	f.rebuild(t)
	return f
}

// rebuild recreates the service from f.opts after a test changed them.
func (f *fixture) rebuild(t *testing.T) {
	t.Helper()
	svc, err := New(f.opts)
	require.NoError(t, err)
	f.svc = svc
}

func providerActor(id string) domain.Actor {
	return domain.Actor{ID: id, Role: domain.RoleProvider}
}

// addProvider stores a fully compliant provider the given distance north of pickup.
func (f *fixture) addProvider(t *testing.T, id string, miles float64, opts ...func(*domain.ProviderProfile)) {
	t.Helper()
	p := &domain.ProviderProfile{
		ID:                     id,
		UserID:                 "user-" + id,
		DisplayName:            "Provider " + id,
		Phone:                  domain.Ptr("555-0200"),
		Email:                  domain.Ptr(id + "@example.com"),
		ServiceTypes:           []string{"junk_removal"},
		Tier:                   domain.TierIndependent,
		IsAvailable:            true,
		HasPaymentMethodOnFile: true,
		BackgroundCheckStatus:  domain.BackgroundCheckClear,
		NDAAccepted:            true,
		CanAcceptJobs:          true,
		LastKnown:              &domain.Location{Lat: pickup.Lat + miles/69, Lng: pickup.Lng},
		CreatedAt:              t0,
		UpdatedAt:              t0,
	}
	for _, opt := range opts {
		opt(p)
	}
	require.NoError(t, f.store.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateProvider(context.Background(), p)
	}))
}

func (f *fixture) createJob(t *testing.T, price domain.Money) *CreateJobResult {
	t.Helper()
	res, err := f.svc.CreateJob(context.Background(), customer, CreateJobInput{
		CustomerPhone: domain.Ptr("555-0100"),
		CustomerEmail: domain.Ptr("cust@example.com"),
		ServiceType:   "junk_removal",
		LoadSize:      "half",
		Pickup:        pickup,
		PriceEstimate: price,
	})
	require.NoError(t, err)
	return res
}

// inProgressJob returns a job accepted and started by provider "p1".
func (f *fixture) inProgressJob(t *testing.T, price domain.Money) string {
	t.Helper()
	ctx := context.Background()
	res := f.createJob(t, price)
	require.NotEmpty(t, res.Attempts)
	jobID := res.View.Job.ID
	p1 := providerActor("p1")
	_, err := f.svc.AcceptMatch(ctx, p1, jobID, res.Attempts[0].ID)
	require.NoError(t, err)
	_, err = f.svc.StartJob(ctx, p1, jobID)
	require.NoError(t, err)
	return jobID
}

func (f *fixture) job(t *testing.T, jobID string) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.NoError(t, f.store.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		job, err = tx.GetJob(context.Background(), jobID)
		return err
	}))
	return job
}

func (f *fixture) provider(t *testing.T, id string) *domain.ProviderProfile {
	t.Helper()
	var p *domain.ProviderProfile
	require.NoError(t, f.store.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		p, err = tx.GetProvider(context.Background(), id)
		return err
	}))
	return p
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestCreateJob(t *testing.T) {
	f := newFixture(t)
	f.addProvider(t, "p1", 1)
	f.addProvider(t, "p2", 2)

	res := f.createJob(t, domain.Dollars(200))
	job := res.View.Job
	assert.Equal(t, domain.JobStatusMatching, job.Status)
	assert.Equal(t, "cust-1", job.CustomerID)
	assert.Equal(t, t0.Add(60*time.Second), *job.MatchingExpiresAt)
	assert.False(t, job.NeedsManualMatch)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "p1", res.Attempts[0].ProviderID)
	assert.Equal(t, []domain.EventType{domain.EventJobCreated}, f.events.types())
}

func TestCreateJob_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor domain.Actor
		in    CreateJobInput
		want  error
	}{
		{"missing service type", customer, CreateJobInput{PriceEstimate: 100}, domain.ErrValidation},
		{"zero price", customer, CreateJobInput{ServiceType: "junk_removal"}, domain.ErrValidation},
		{"bad latitude", customer, CreateJobInput{ServiceType: "junk_removal", PriceEstimate: 100, Pickup: domain.Location{Lat: 91}}, domain.ErrValidation},
		{"unknown tier", customer, CreateJobInput{ServiceType: "junk_removal", PriceEstimate: 100, PreferredTier: "gold"}, domain.ErrValidation},
		{"provider cannot create", providerActor("p1"), CreateJobInput{ServiceType: "junk_removal", PriceEstimate: 100}, domain.ErrUnauthorized},
		{"admin needs customer", admin, CreateJobInput{ServiceType: "junk_removal", PriceEstimate: 100}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateJob(ctx, tt.actor, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateJob_NoCandidatesGoesToManualQueue(t *testing.T) {
	f := newFixture(t)
	res := f.createJob(t, domain.Dollars(150))
	assert.Empty(t, res.Attempts)
	assert.True(t, res.View.NeedsManualMatch)
	assert.Equal(t, domain.JobStatusMatching, res.View.Job.Status)
}

func TestScenarioA_AcceptExpiresOtherOffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "pA", 1)
	f.addProvider(t, "pB", 2)
	f.addProvider(t, "pC", 3)

	res := f.createJob(t, domain.Dollars(200))
	require.Len(t, res.Attempts, 3)
	jobID := res.View.Job.ID
	second := res.Attempts[1]
	require.Equal(t, "pB", second.ProviderID)

	f.clock.Advance(10 * time.Second)
	view, err := f.svc.AcceptMatch(ctx, providerActor("pB"), jobID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusAssigned, view.Job.Status)
	assert.Equal(t, "pB", *view.Job.AssignedProviderID)
	assert.Nil(t, view.Job.MatchingExpiresAt)
	assert.Equal(t, domain.ContactAwaiting, view.Job.ContactState)
	assert.Equal(t, t0.Add(10*time.Second+5*time.Minute), *view.Job.ContactRequiredBy)

	attempts, err := f.svc.ListMatchAttempts(ctx, customer, jobID)
	require.NoError(t, err)
	got := map[string]domain.MatchAttemptStatus{}
	for _, a := range attempts {
		got[a.ProviderID] = a.Status
	}
	assert.Equal(t, map[string]domain.MatchAttemptStatus{
		"pA": domain.AttemptExpired,
		"pB": domain.AttemptAccepted,
		"pC": domain.AttemptExpired,
	}, got)

	_, err = f.svc.AcceptMatch(ctx, providerActor("pA"), jobID, res.Attempts[0].ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyMatched)

	assert.Equal(t, 1, f.events.count(domain.EventJobAccepted))
}

func TestAcceptMatch_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("other provider's attempt", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1)
		res := f.createJob(t, domain.Dollars(100))
		_, err := f.svc.AcceptMatch(ctx, providerActor("intruder"), res.View.Job.ID, res.Attempts[0].ID)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("customers cannot accept", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1)
		res := f.createJob(t, domain.Dollars(100))
		_, err := f.svc.AcceptMatch(ctx, customer, res.View.Job.ID, res.Attempts[0].ID)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("ineligible provider", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1)
		res := f.createJob(t, domain.Dollars(100))

		_, err := f.svc.UpdateCompliance(ctx, admin, "p1", ComplianceUpdate{HasPaymentMethodOnFile: domain.Ptr(false)})
		require.NoError(t, err)

		_, err = f.svc.AcceptMatch(ctx, providerActor("p1"), res.View.Job.ID, res.Attempts[0].ID)
		require.ErrorIs(t, err, domain.ErrIneligibleProvider)
		var de *domain.Error
		require.True(t, errors.As(err, &de))
		assert.Equal(t, domain.ConditionPaymentMethod, de.Condition)
		assert.Equal(t, domain.JobStatusMatching, f.job(t, res.View.Job.ID).Status)
	})

	t.Run("window lapsed", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1)
		res := f.createJob(t, domain.Dollars(100))
		f.clock.Advance(61 * time.Second)
		_, err := f.svc.AcceptMatch(ctx, providerActor("p1"), res.View.Job.ID, res.Attempts[0].ID)
		assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonMatchingLapsed})
	})

	t.Run("declined offer", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1)
		res := f.createJob(t, domain.Dollars(100))
		_, err := f.svc.DeclineMatch(ctx, providerActor("p1"), res.View.Job.ID, res.Attempts[0].ID)
		require.NoError(t, err)
		_, err = f.svc.AcceptMatch(ctx, providerActor("p1"), res.View.Job.ID, res.Attempts[0].ID)
		assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonAlreadyDecided})
	})
}

func TestAcceptMatch_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := range 3 {
		f.addProvider(t, fmt.Sprintf("p%d", i+1), float64(i+1))
	}
	res := f.createJob(t, domain.Dollars(200))
	require.Len(t, res.Attempts, 3)
	jobID := res.View.Job.ID

	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		matched  atomic.Int32
		start    = make(chan struct{})
		attempts = res.Attempts
	)
	for _, a := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.AcceptMatch(ctx, providerActor(a.ProviderID), jobID, a.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrAlreadyMatched):
				matched.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 2, matched.Load())
	assert.Equal(t, 1, f.events.count(domain.EventJobAccepted))
	assert.Equal(t, 0, f.svc.locks.size())
}

func TestDeclineMatch_LastOfferFlagsManualMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	f.addProvider(t, "p2", 2)
	res := f.createJob(t, domain.Dollars(100))
	jobID := res.View.Job.ID

	_, err := f.svc.DeclineMatch(ctx, providerActor("p1"), jobID, res.Attempts[0].ID)
	require.NoError(t, err)
	assert.False(t, f.job(t, jobID).NeedsManualMatch)

	a, err := f.svc.DeclineMatch(ctx, providerActor("p2"), jobID, res.Attempts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptDeclined, a.Status)
	assert.True(t, f.job(t, jobID).NeedsManualMatch)

	// declining again changes nothing
	_, err = f.svc.DeclineMatch(ctx, providerActor("p2"), jobID, res.Attempts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.events.count(domain.EventMatchDeclined))
}

func TestListProviderOffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	res := f.createJob(t, domain.Dollars(100))

	offers, err := f.svc.ListProviderOffers(ctx, providerActor("p1"))
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, res.Attempts[0].ID, offers[0].Attempt.ID)
	assert.Nil(t, offers[0].Job.Job.CustomerPhone, "customer contact is masked before payment")

	f.clock.Advance(61 * time.Second)
	offers, err = f.svc.ListProviderOffers(ctx, providerActor("p1"))
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestScenarioB_CompleteCapturesLivePricePlusApprovedAdjustments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1, func(p *domain.ProviderProfile) {
		p.PayoutOnboarded = true
		p.PayoutAccountRef = domain.Ptr("acct_p1")
		p.Tier = domain.TierVerifiedPro
	})

	res := f.createJob(t, domain.Dollars(200))
	jobID := res.View.Job.ID
	p1 := providerActor("p1")

	f.gw.EXPECT().Authorize(gomock.Any(), "cus_1", domain.Dollars(200), jobID).Return("auth_1", nil)
	f.gw.EXPECT().
		CaptureAndSplit(gomock.Any(), "auth_1", gomock.Eq(domain.Ptr("acct_p1")), domain.Dollars(230), domain.TierVerifiedPro).
		Return(payment.SplitResult{PlatformFee: domain.Dollars(46), ProviderPayout: domain.Dollars(184)}, nil)

	_, err := f.svc.AcceptMatch(ctx, p1, jobID, res.Attempts[0].ID)
	require.NoError(t, err)
	_, err = f.svc.AuthorizePayment(ctx, customer, jobID, "cus_1")
	require.NoError(t, err)
	_, err = f.svc.StartJob(ctx, p1, jobID)
	require.NoError(t, err)
	_, err = f.svc.UpdateChecklist(ctx, p1, jobID, domain.ChecklistUpdate{WorkCompleted: domain.Ptr(true)})
	require.NoError(t, err)
	adj, err := f.svc.AddAdjustment(ctx, p1, jobID, AddAdjustmentInput{
		Type:        domain.AdjustmentAddItem,
		ItemName:    "mattress",
		Quantity:    1,
		PriceChange: domain.Dollars(30),
		Reason:      "extra item at pickup",
	})
	require.NoError(t, err)
	_, err = f.svc.ApproveAdjustment(ctx, customer, jobID, adj.ID)
	require.NoError(t, err)

	out, err := f.svc.CompleteJob(ctx, p1, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.Dollars(230), out.FinalAmount)
	assert.True(t, out.PaymentCaptured)
	assert.Empty(t, out.PaymentError)
	assert.Equal(t, domain.Dollars(46), *out.PlatformFee)

	job := f.job(t, jobID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, domain.PaymentStatusCaptured, job.PaymentStatus)
	assert.Equal(t, domain.Dollars(184), *job.ProviderPayout)

	assert.Equal(t, []domain.EventType{
		domain.EventJobCreated,
		domain.EventJobAccepted,
		domain.EventPaymentAuthorized,
		domain.EventJobStarted,
		domain.EventChecklistUpdated,
		domain.EventAdjustmentAdded,
		domain.EventAdjustmentUpdated,
		domain.EventJobCompleted,
	}, f.events.types())
	assert.Equal(t, true, f.events.last().Payload["paymentCaptured"])

	// completing again is a no-op
	again, err := f.svc.CompleteJob(ctx, p1, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.Dollars(230), again.FinalAmount)
	assert.Equal(t, 1, f.events.count(domain.EventJobCompleted))
}

func TestCompleteJob_CaptureFailureStillCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	p1 := providerActor("p1")

	res := f.createJob(t, domain.Dollars(120))
	jobID := res.View.Job.ID
	f.gw.EXPECT().Authorize(gomock.Any(), "cus_1", domain.Dollars(120), jobID).Return("auth_9", nil)
	f.gw.EXPECT().
		CaptureAndSplit(gomock.Any(), "auth_9", gomock.Nil(), domain.Dollars(120), domain.TierIndependent).
		Return(payment.SplitResult{}, domain.PaymentUnavailable(errors.New("gateway timeout")))

	_, err := f.svc.AuthorizePayment(ctx, customer, jobID, "cus_1")
	require.NoError(t, err)
	_, err = f.svc.AcceptMatch(ctx, p1, jobID, res.Attempts[0].ID)
	require.NoError(t, err)
	_, err = f.svc.StartJob(ctx, p1, jobID)
	require.NoError(t, err)
	_, err = f.svc.UpdateChecklist(ctx, p1, jobID, domain.ChecklistUpdate{WorkCompleted: domain.Ptr(true)})
	require.NoError(t, err)

	out, err := f.svc.CompleteJob(ctx, p1, jobID)
	require.NoError(t, err)
	assert.False(t, out.PaymentCaptured)
	assert.Equal(t, CaptureFailedMessage, out.PaymentError)

	job := f.job(t, jobID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, domain.PaymentStatusAuthorized, job.PaymentStatus)
	assert.Equal(t, false, f.events.last().Payload["paymentCaptured"])
}

func TestCompleteJob_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("work not completed", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1)
		jobID := f.inProgressJob(t, domain.Dollars(100))
		_, err := f.svc.CompleteJob(ctx, providerActor("p1"), jobID)
		assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonWorkNotCompleted})
	})

	t.Run("not in progress", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1)
		res := f.createJob(t, domain.Dollars(100))
		_, err := f.svc.AcceptMatch(ctx, providerActor("p1"), res.View.Job.ID, res.Attempts[0].ID)
		require.NoError(t, err)
		_, err = f.svc.CompleteJob(ctx, providerActor("p1"), res.View.Job.ID)
		assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonWrongStatus})
	})

	t.Run("other provider", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1)
		jobID := f.inProgressJob(t, domain.Dollars(100))
		_, err := f.svc.CompleteJob(ctx, providerActor("p2"), jobID)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

// Completion is refused exactly while some adjustment is pending, and the
// final amount always equals the live price plus the approved changes.
func TestCompleteJob_PendingAdjustmentsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for run := range 25 {
		t.Run(fmt.Sprintf("run_%d", run), func(t *testing.T) {
			f := newFixture(t)
			f.addProvider(t, "p1", 1)
			p1 := providerActor("p1")
			base := domain.Money(10_000 + rng.Intn(50_000))
			jobID := f.inProgressJob(t, base)
			_, err := f.svc.UpdateChecklist(ctx, p1, jobID, domain.ChecklistUpdate{WorkCompleted: domain.Ptr(true)})
			require.NoError(t, err)

			var (
				approved domain.Money
				pending  []string
			)
			for range rng.Intn(6) {
				change := domain.Money(rng.Intn(10_000) - 3_000)
				if change == 0 {
					change = 1
				}
				adj, err := f.svc.AddAdjustment(ctx, p1, jobID, AddAdjustmentInput{
					Type:        domain.AdjustmentOther,
					PriceChange: change,
					Reason:      "change",
				})
				require.NoError(t, err)
				switch rng.Intn(3) {
				case 0:
					_, err = f.svc.ApproveAdjustment(ctx, customer, jobID, adj.ID)
					require.NoError(t, err)
					approved += change
				case 1:
					_, err = f.svc.DeclineAdjustment(ctx, customer, jobID, adj.ID)
					require.NoError(t, err)
				default:
					pending = append(pending, adj.ID)
				}
			}

			if len(pending) > 0 {
				_, err := f.svc.CompleteJob(ctx, p1, jobID)
				require.ErrorIs(t, err, domain.ErrPendingAdjustmentsExist)
				assert.Equal(t, domain.JobStatusInProgress, f.job(t, jobID).Status)
				for _, id := range pending {
					_, err := f.svc.DeclineAdjustment(ctx, admin, jobID, id)
					require.NoError(t, err)
				}
			}

			out, err := f.svc.CompleteJob(ctx, p1, jobID)
			require.NoError(t, err)
			assert.Equal(t, base+approved, out.FinalAmount)
			assert.False(t, out.PaymentCaptured)
		})
	}
}

func TestAdjustmentDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	jobID := f.inProgressJob(t, domain.Dollars(100))
	p1 := providerActor("p1")

	_, err := f.svc.AddAdjustment(ctx, p1, jobID, AddAdjustmentInput{Type: "bogus", PriceChange: 100, Reason: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	adj, err := f.svc.AddAdjustment(ctx, p1, jobID, AddAdjustmentInput{Type: domain.AdjustmentExtraLabor, PriceChange: 500, Reason: "stairs"})
	require.NoError(t, err)

	_, err = f.svc.ApproveAdjustment(ctx, p1, jobID, adj.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "providers cannot approve their own adjustments")

	_, err = f.svc.ApproveAdjustment(ctx, customer, jobID, adj.ID)
	require.NoError(t, err)
	_, err = f.svc.ApproveAdjustment(ctx, customer, jobID, adj.ID)
	require.NoError(t, err, "approving twice is a no-op")
	_, err = f.svc.DeclineAdjustment(ctx, customer, jobID, adj.ID)
	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonAlreadyDecided})
	assert.Equal(t, 1, f.events.count(domain.EventAdjustmentUpdated))

	list, err := f.svc.ListAdjustments(ctx, customer, jobID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.AdjustmentApproved, list[0].Status)
}

func TestScenarioC_DisclosureFollowsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	res := f.createJob(t, domain.Dollars(100))
	jobID := res.View.Job.ID
	_, err := f.svc.AcceptMatch(ctx, providerActor("p1"), jobID, res.Attempts[0].ID)
	require.NoError(t, err)

	view, err := f.svc.GetJob(ctx, customer, jobID)
	require.NoError(t, err)
	require.NotNil(t, view.Provider)
	assert.Nil(t, view.Provider.Phone)
	assert.Nil(t, view.Provider.Email)
	assert.Equal(t, domain.DisclosureMasked, view.Disclosure)

	asProvider, err := f.svc.GetJob(ctx, providerActor("p1"), jobID)
	require.NoError(t, err)
	assert.Nil(t, asProvider.Job.CustomerPhone)

	f.gw.EXPECT().Authorize(gomock.Any(), "cus_1", domain.Dollars(100), jobID).Return("auth_1", nil)
	_, err = f.svc.AuthorizePayment(ctx, customer, jobID, "cus_1")
	require.NoError(t, err)

	view, err = f.svc.GetJob(ctx, customer, jobID)
	require.NoError(t, err)
	assert.Equal(t, "555-0200", *view.Provider.Phone)
	assert.Equal(t, domain.DisclosureReleased, view.Disclosure)

	asProvider, err = f.svc.GetJob(ctx, providerActor("p1"), jobID)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", *asProvider.Job.CustomerPhone)

	_, err = f.svc.GetJob(ctx, domain.Actor{ID: "cust-2", Role: domain.RoleCustomer}, jobID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuthorizePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("declined leaves payment untouched", func(t *testing.T) {
		f := newFixture(t)
		res := f.createJob(t, domain.Dollars(100))
		jobID := res.View.Job.ID
		f.gw.EXPECT().Authorize(gomock.Any(), "cus_bad", gomock.Any(), jobID).
			Return("", domain.PaymentDeclined(errors.New("card declined")))

		_, err := f.svc.AuthorizePayment(ctx, customer, jobID, "cus_bad")
		assert.ErrorIs(t, err, domain.ErrPaymentDeclined)
		assert.False(t, domain.IsRetryable(err))
		assert.Equal(t, domain.PaymentStatusNone, f.job(t, jobID).PaymentStatus)
	})

	t.Run("authorizing twice is a no-op", func(t *testing.T) {
		f := newFixture(t)
		res := f.createJob(t, domain.Dollars(100))
		jobID := res.View.Job.ID
		f.gw.EXPECT().Authorize(gomock.Any(), "cus_1", gomock.Any(), jobID).Return("auth_1", nil).Times(1)

		_, err := f.svc.AuthorizePayment(ctx, customer, jobID, "cus_1")
		require.NoError(t, err)
		view, err := f.svc.AuthorizePayment(ctx, customer, jobID, "cus_1")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusAuthorized, view.Job.PaymentStatus)
		assert.Equal(t, 1, f.events.count(domain.EventPaymentAuthorized))
	})

	t.Run("bnpl keeps contact masked", func(t *testing.T) {
		f := newFixture(t)
		res := f.createJob(t, domain.Dollars(100))
		view, err := f.svc.ConfirmBNPL(ctx, customer, res.View.Job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusBNPLConfirmed, view.Job.PaymentStatus)
		assert.Equal(t, domain.DisclosureMasked, view.Disclosure)
	})
}

func TestConfirmContact_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	res := f.createJob(t, domain.Dollars(100))
	jobID := res.View.Job.ID
	p1 := providerActor("p1")

	_, err := f.svc.ConfirmContact(ctx, p1, jobID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "not assigned yet")

	_, err = f.svc.AcceptMatch(ctx, p1, jobID, res.Attempts[0].ID)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	first, err := f.svc.ConfirmContact(ctx, p1, jobID)
	require.NoError(t, err)
	assert.False(t, first.AlreadyConfirmed)
	assert.False(t, first.Late)

	f.clock.Advance(time.Minute)
	second, err := f.svc.ConfirmContact(ctx, p1, jobID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyConfirmed)
	assert.Equal(t, first.ConfirmedAt, second.ConfirmedAt)
	assert.Equal(t, 1, f.events.count(domain.EventCallConfirmed))
	assert.Equal(t, domain.ContactConfirmed, f.job(t, jobID).ContactState)
}

func TestStartJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	jobID := f.inProgressJob(t, domain.Dollars(100))

	_, err := f.svc.StartJob(ctx, providerActor("p1"), jobID)
	require.NoError(t, err, "starting a running job is a no-op")
	assert.Equal(t, 1, f.events.count(domain.EventJobStarted))

	_, err = f.svc.UpdateChecklist(ctx, providerActor("p1"), jobID, domain.ChecklistUpdate{ArrivedAtPickup: domain.Ptr(true)})
	require.NoError(t, err)
}

func TestScenarioD_CancelWithoutIncidentCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	res := f.createJob(t, domain.Dollars(100))
	jobID := res.View.Job.ID
	p1 := providerActor("p1")
	_, err := f.svc.AcceptMatch(ctx, p1, jobID, res.Attempts[0].ID)
	require.NoError(t, err)

	out, err := f.svc.CancelJob(ctx, p1, jobID, "truck broke down")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, out.View.Job.Status)
	assert.Equal(t, domain.Dollars(25), out.PenaltyAmount)
	assert.False(t, out.PenaltyCharged)

	penalties, err := f.svc.ListPenalties(ctx, p1, store.PenaltyFilter{})
	require.NoError(t, err)
	require.Len(t, penalties, 1)
	assert.Equal(t, domain.PenaltyStatusAssessed, penalties[0].Status)
	assert.Equal(t, out.PenaltyID, penalties[0].ID)

	assert.False(t, f.provider(t, "p1").CanAcceptJobs)
	detail, err := f.svc.GetProvider(ctx, p1, "p1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Condition{domain.ConditionPenalties}, detail.Unmet)
	assert.Equal(t, domain.Dollars(25), detail.OutstandingTotal)

	event := f.events.last()
	assert.Equal(t, domain.EventJobCancelled, event.Type)
	assert.Equal(t, false, event.Payload["penaltyCharged"])

	// cancelling again reports the same penalty
	again, err := f.svc.CancelJob(ctx, p1, jobID, "truck broke down")
	require.NoError(t, err)
	assert.Equal(t, out.PenaltyID, again.PenaltyID)
	penalties, err = f.svc.ListPenalties(ctx, admin, store.PenaltyFilter{JobID: jobID})
	require.NoError(t, err)
	assert.Len(t, penalties, 1)

	_, err = f.svc.WaivePenalty(ctx, admin, out.PenaltyID, "first offence")
	require.NoError(t, err)
	assert.True(t, f.provider(t, "p1").CanAcceptJobs)
}

func TestCancelJob_ChargesIncidentCard(t *testing.T) {
	ctx := context.Background()
	withCard := func(p *domain.ProviderProfile) {
		p.IncidentPaymentMethodRef = domain.Ptr("pm_1")
		p.PaymentCustomerRef = domain.Ptr("cus_p1")
	}

	t.Run("charged", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1, withCard)
		jobID := f.inProgressJob(t, domain.Dollars(100))
		f.gw.EXPECT().ChargeIncident(gomock.Any(), gomock.Any(), "cus_p1", "pm_1", domain.Dollars(25), gomock.Any()).Return("ch_1", nil)

		out, err := f.svc.CancelJob(ctx, providerActor("p1"), jobID, "emergency")
		require.NoError(t, err)
		assert.True(t, out.PenaltyCharged)
		assert.True(t, out.View.Job.CancellationPenaltyCharged)
		assert.True(t, f.provider(t, "p1").CanAcceptJobs)
	})

	t.Run("charge fails then admin retries", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1, withCard)
		jobID := f.inProgressJob(t, domain.Dollars(100))
		var chargeIDs []string
		record := func(_ context.Context, chargeID, _, _ string, _ domain.Money, _ string) {
			chargeIDs = append(chargeIDs, chargeID)
		}
		gomock.InOrder(
			f.gw.EXPECT().ChargeIncident(gomock.Any(), gomock.Any(), "cus_p1", "pm_1", domain.Dollars(25), gomock.Any()).
				Do(record).
				Return("", domain.PaymentDeclined(errors.New("insufficient funds"))),
			f.gw.EXPECT().ChargeIncident(gomock.Any(), gomock.Any(), "cus_p1", "pm_1", domain.Dollars(25), gomock.Any()).
				Do(record).
				Return("ch_2", nil),
		)

		out, err := f.svc.CancelJob(ctx, providerActor("p1"), jobID, "emergency")
		require.NoError(t, err)
		assert.False(t, out.PenaltyCharged)
		assert.False(t, f.provider(t, "p1").CanAcceptJobs)

		_, err = f.svc.RetryPenaltyCharge(ctx, providerActor("p1"), out.PenaltyID)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)

		p, err := f.svc.RetryPenaltyCharge(ctx, admin, out.PenaltyID)
		require.NoError(t, err)
		assert.Equal(t, domain.PenaltyStatusCharged, p.Status)
		assert.Equal(t, "ch_2", *p.ChargeRef)
		assert.True(t, f.provider(t, "p1").CanAcceptJobs)
		assert.True(t, f.job(t, jobID).CancellationPenaltyCharged)
		assert.Equal(t, []string{out.PenaltyID, out.PenaltyID}, chargeIDs, "every attempt is keyed by the penalty")

		again, err := f.svc.RetryPenaltyCharge(ctx, admin, out.PenaltyID)
		require.NoError(t, err, "retrying a charged penalty returns it")
		assert.Equal(t, "ch_2", *again.ChargeRef)
	})
}

func TestCancelJob_Guards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addProvider(t, "p1", 1)
	res := f.createJob(t, domain.Dollars(100))
	jobID := res.View.Job.ID

	_, err := f.svc.CancelJob(ctx, admin, jobID, "no one accepted")
	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonWrongStatus})

	_, err = f.svc.CancelJob(ctx, providerActor("p1"), jobID, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.AcceptMatch(ctx, providerActor("p1"), jobID, res.Attempts[0].ID)
	require.NoError(t, err)
	_, err = f.svc.CancelJob(ctx, customer, jobID, "changed my mind")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestScenarioE_LapsedWindowNeedsManualMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	res := f.createJob(t, domain.Dollars(100))
	jobID := res.View.Job.ID

	f.clock.Advance(59 * time.Second)
	view, err := f.svc.GetJob(ctx, customer, jobID)
	require.NoError(t, err)
	assert.False(t, view.NeedsManualMatch)

	f.clock.Advance(time.Second)
	view, err = f.svc.GetJob(ctx, customer, jobID)
	require.NoError(t, err)
	assert.True(t, view.NeedsManualMatch)
	assert.Equal(t, domain.JobStatusMatching, view.Job.Status)
	assert.True(t, f.job(t, jobID).NeedsManualMatch, "lapse is persisted on read")

	page, err := f.svc.ListJobs(ctx, admin, ListJobsInput{ManualQueue: true})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, jobID, page.Jobs[0].Job.ID)

	_, err = f.svc.ListJobs(ctx, customer, ListJobsInput{ManualQueue: true})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	rematched, err := f.svc.RematchJob(ctx, admin, jobID)
	require.NoError(t, err)
	require.Len(t, rematched.Attempts, 1)
	assert.False(t, rematched.View.NeedsManualMatch)
	assert.Equal(t, f.clock.Now().Add(60*time.Second), *rematched.View.Job.MatchingExpiresAt)

	_, err = f.svc.AcceptMatch(ctx, providerActor("p1"), jobID, rematched.Attempts[0].ID)
	require.NoError(t, err)
	_, err = f.svc.AcceptMatch(ctx, providerActor("p1"), jobID, res.Attempts[0].ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyMatched)
}

func TestRematchJob_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	res := f.createJob(t, domain.Dollars(100))
	jobID := res.View.Job.ID

	_, err := f.svc.RematchJob(ctx, customer, jobID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.svc.RematchJob(ctx, admin, jobID)
	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonWrongStatus})
}

func TestRematchJob_AfterCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	f.addProvider(t, "p2", 2)
	jobID := f.inProgressJob(t, domain.Dollars(100))
	p1 := providerActor("p1")

	approved, err := f.svc.AddAdjustment(ctx, p1, jobID, AddAdjustmentInput{
		Type:        domain.AdjustmentAddItem,
		ItemName:    "sofa",
		PriceChange: domain.Dollars(30),
		Reason:      "extra sofa",
	})
	require.NoError(t, err)
	_, err = f.svc.ApproveAdjustment(ctx, customer, jobID, approved.ID)
	require.NoError(t, err)
	pending, err := f.svc.AddAdjustment(ctx, p1, jobID, AddAdjustmentInput{
		Type:        domain.AdjustmentExtraLabor,
		PriceChange: domain.Dollars(10),
		Reason:      "stairs",
	})
	require.NoError(t, err)

	_, err = f.svc.CancelJob(ctx, p1, jobID, "sick")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	out, err := f.svc.RematchJob(ctx, admin, jobID)
	require.NoError(t, err)
	job := out.View.Job
	assert.Equal(t, domain.JobStatusMatching, job.Status)
	assert.Nil(t, job.AssignedProviderID)
	assert.Nil(t, job.CancellationPenaltyID)
	assert.True(t, job.AssignmentConsistent())
	require.Len(t, out.Attempts, 1, "p1 is blocked by its penalty")
	assert.Equal(t, "p2", out.Attempts[0].ProviderID)
	assert.Equal(t, 1, f.events.last().Payload["declinedAdjustments"])

	list, err := f.svc.ListAdjustments(ctx, admin, jobID)
	require.NoError(t, err)
	statuses := map[string]domain.AdjustmentStatus{}
	for _, a := range list {
		statuses[a.ID] = a.Status
	}
	assert.Equal(t, domain.AdjustmentApproved, statuses[approved.ID])
	assert.Equal(t, domain.AdjustmentDeclined, statuses[pending.ID])

	p2 := providerActor("p2")
	_, err = f.svc.AcceptMatch(ctx, p2, jobID, out.Attempts[0].ID)
	require.NoError(t, err)
	_, err = f.svc.StartJob(ctx, p2, jobID)
	require.NoError(t, err, "the leftover checklist is reset")
	_, err = f.svc.UpdateChecklist(ctx, p2, jobID, domain.ChecklistUpdate{WorkCompleted: domain.Ptr(true)})
	require.NoError(t, err)

	done, err := f.svc.CompleteJob(ctx, p2, jobID)
	require.NoError(t, err, "adjustments from the cancelled run do not block completion")
	assert.Equal(t, domain.Dollars(100), done.FinalAmount, "only adjustments made by p2 count")
}

func TestWithdrawJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	f.addProvider(t, "p2", 2)
	res := f.createJob(t, domain.Dollars(100))
	jobID := res.View.Job.ID

	view, err := f.svc.WithdrawJob(ctx, customer, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusWithdrawn, view.Job.Status)

	attempts, err := f.svc.ListMatchAttempts(ctx, customer, jobID)
	require.NoError(t, err)
	for _, a := range attempts {
		assert.Equal(t, domain.AttemptExpired, a.Status)
	}

	_, err = f.svc.WithdrawJob(ctx, customer, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.count(domain.EventJobWithdrawn))

	_, err = f.svc.AcceptMatch(ctx, providerActor("p1"), jobID, res.Attempts[0].ID)
	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonWrongStatus})
}

func TestRecordProviderLocation_ArrivalFiresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	res := f.createJob(t, domain.Dollars(100))
	jobID := res.View.Job.ID
	p1 := providerActor("p1")
	_, err := f.svc.AcceptMatch(ctx, p1, jobID, res.Attempts[0].ID)
	require.NoError(t, err)

	arrived, err := f.svc.RecordProviderLocation(ctx, p1, jobID, LocationUpdate{Lat: pickup.Lat + 0.5/69, Lng: pickup.Lng})
	require.NoError(t, err)
	assert.False(t, arrived)

	arrived, err = f.svc.RecordProviderLocation(ctx, p1, jobID, LocationUpdate{Lat: pickup.Lat + 0.05/69, Lng: pickup.Lng})
	require.NoError(t, err)
	assert.True(t, arrived)

	arrived, err = f.svc.RecordProviderLocation(ctx, p1, jobID, LocationUpdate{Lat: pickup.Lat, Lng: pickup.Lng})
	require.NoError(t, err)
	assert.False(t, arrived)

	assert.Equal(t, 1, f.events.count(domain.EventWorkerArrived))
	assert.Equal(t, 3, f.events.count(domain.EventLocationUpdated))
	assert.InDelta(t, pickup.Lat, f.provider(t, "p1").LastKnown.Lat, 1e-9)

	_, err = f.svc.RecordProviderLocation(ctx, p1, jobID, LocationUpdate{Lat: 100})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecordCustomerLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.createJob(t, domain.Dollars(100))
	jobID := res.View.Job.ID

	require.NoError(t, f.svc.RecordCustomerLocation(ctx, customer, jobID, LocationUpdate{Lat: 1, Lng: 2}))
	assert.Equal(t, domain.EventCustomerLocationUpdated, f.events.last().Type)

	err := f.svc.RecordCustomerLocation(ctx, providerActor("p1"), jobID, LocationUpdate{Lat: 1, Lng: 2})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuthorizeSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	res := f.createJob(t, domain.Dollars(100))
	jobID := res.View.Job.ID

	tests := []struct {
		name  string
		actor domain.Actor
		want  error
	}{
		{"customer", customer, nil},
		{"offered provider", providerActor("p1"), nil},
		{"admin", admin, nil},
		{"stranger", providerActor("p9"), domain.ErrUnauthorized},
		{"other customer", domain.Actor{ID: "cust-2", Role: domain.RoleCustomer}, domain.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.AuthorizeSubscription(ctx, tt.actor, jobID)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.ErrorIs(t, f.svc.AuthorizeSubscription(ctx, customer, "missing"), domain.ErrNotFound)
}

func TestRateJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	p1 := providerActor("p1")
	jobID := f.inProgressJob(t, domain.Dollars(100))
	_, err := f.svc.UpdateChecklist(ctx, p1, jobID, domain.ChecklistUpdate{WorkCompleted: domain.Ptr(true)})
	require.NoError(t, err)

	_, err = f.svc.RateJob(ctx, customer, jobID, RateJobInput{Rating: 4})
	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonWrongStatus})

	_, err = f.svc.CompleteJob(ctx, p1, jobID)
	require.NoError(t, err)

	_, err = f.svc.RateJob(ctx, customer, jobID, RateJobInput{Rating: 6})
	assert.ErrorIs(t, err, domain.ErrValidation)

	c, err := f.svc.RateJob(ctx, customer, jobID, RateJobInput{Rating: 4, Feedback: domain.Ptr("quick")})
	require.NoError(t, err)
	assert.Equal(t, 4, *c.CustomerRating)
	assert.InDelta(t, 4.0, f.provider(t, "p1").Rating, 1e-9)

	_, err = f.svc.RateJob(ctx, customer, jobID, RateJobInput{Rating: 5})
	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonAlreadyRated})
}

func TestProviderOnboarding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := providerActor("p-new")

	detail, err := f.svc.RegisterProvider(ctx, p, RegisterProviderInput{
		DisplayName:  "New Hauler",
		ServiceTypes: []string{"junk_removal"},
	})
	require.NoError(t, err)
	assert.False(t, detail.Profile.CanAcceptJobs)
	assert.Equal(t, []domain.Condition{
		domain.ConditionPaymentMethod,
		domain.ConditionBackgroundCheck,
		domain.ConditionNDA,
	}, detail.Unmet)

	_, err = f.svc.UpdateCompliance(ctx, p, "p-new", ComplianceUpdate{BackgroundCheckStatus: domain.Ptr(domain.BackgroundCheckClear)})
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "providers cannot clear their own background check")

	_, err = f.svc.UpdateCompliance(ctx, p, "p-new", ComplianceUpdate{
		HasPaymentMethodOnFile: domain.Ptr(true),
		NDAAccepted:            domain.Ptr(true),
		IsAvailable:            domain.Ptr(true),
	})
	require.NoError(t, err)

	detail, err = f.svc.UpdateCompliance(ctx, admin, "p-new", ComplianceUpdate{BackgroundCheckStatus: domain.Ptr(domain.BackgroundCheckClear)})
	require.NoError(t, err)
	assert.True(t, detail.Profile.CanAcceptJobs)
	assert.Empty(t, detail.Unmet)

	_, err = f.svc.GetProvider(ctx, providerActor("someone-else"), "p-new")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.RegisterProvider(ctx, customer, RegisterProviderInput{DisplayName: "x", ServiceTypes: []string{"a"}})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestListJobs_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for range 5 {
		f.createJob(t, domain.Dollars(100))
		f.clock.Advance(time.Second)
	}

	var seen []string
	var cursor *store.JobCursor
	for {
		page, err := f.svc.ListJobs(ctx, customer, ListJobsInput{PageSize: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, v := range page.Jobs {
			seen = append(seen, v.Job.ID)
		}
		if !page.HasMore {
			assert.Nil(t, page.NextCursor)
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)

	other, err := f.svc.ListJobs(ctx, domain.Actor{ID: "cust-2", Role: domain.RoleCustomer}, ListJobsInput{})
	require.NoError(t, err)
	assert.Empty(t, other.Jobs)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		unlock()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second lock on the same key must wait")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-done
	unlockB()
	assert.Equal(t, 0, k.size())
}

func TestReportNoShow(t *testing.T) {
	ctx := context.Background()
	withCard := func(p *domain.ProviderProfile) {
		p.IncidentPaymentMethodRef = domain.Ptr("pm_1")
		p.PaymentCustomerRef = domain.Ptr("cus_p1")
	}

	t.Run("cancels and charges a no-show penalty", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1, withCard)
		res := f.createJob(t, domain.Dollars(100))
		jobID := res.View.Job.ID
		_, err := f.svc.AcceptMatch(ctx, providerActor("p1"), jobID, res.Attempts[0].ID)
		require.NoError(t, err)
		f.clock.Advance(10 * time.Minute)

		f.gw.EXPECT().ChargeIncident(gomock.Any(), gomock.Any(), "cus_p1", "pm_1", domain.Dollars(25), "no_show").Return("ch_ns", nil)

		out, err := f.svc.ReportNoShow(ctx, admin, jobID, "")
		require.NoError(t, err)
		assert.True(t, out.NoShow)
		assert.True(t, out.PenaltyCharged)
		assert.Equal(t, domain.JobStatusCancelled, out.View.Job.Status)
		assert.Equal(t, NoShowCancellationReason, *f.job(t, jobID).CancellationReason)

		penalties, err := f.svc.ListPenalties(ctx, admin, store.PenaltyFilter{JobID: jobID})
		require.NoError(t, err)
		require.Len(t, penalties, 1)
		assert.Equal(t, "no_show", penalties[0].Reason)
		assert.Equal(t, domain.PenaltyStatusCharged, penalties[0].Status)

		event := f.events.last()
		assert.Equal(t, domain.EventJobCancelled, event.Type)
		assert.Equal(t, true, event.Payload["noShow"])

		again, err := f.svc.ReportNoShow(ctx, admin, jobID, "")
		require.NoError(t, err)
		assert.Equal(t, out.PenaltyID, again.PenaltyID)
		assert.True(t, again.NoShow)
		assert.Equal(t, 1, f.events.count(domain.EventJobCancelled))
	})

	t.Run("without a card the provider is blocked", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1)
		res := f.createJob(t, domain.Dollars(100))
		jobID := res.View.Job.ID
		_, err := f.svc.AcceptMatch(ctx, providerActor("p1"), jobID, res.Attempts[0].ID)
		require.NoError(t, err)

		out, err := f.svc.ReportNoShow(ctx, admin, jobID, "customer waited an hour")
		require.NoError(t, err)
		assert.False(t, out.PenaltyCharged)
		assert.Equal(t, "customer waited an hour", *f.job(t, jobID).CancellationReason)
		assert.False(t, f.provider(t, "p1").CanAcceptJobs)
	})

	t.Run("guards", func(t *testing.T) {
		f := newFixture(t)
		f.addProvider(t, "p1", 1)
		res := f.createJob(t, domain.Dollars(100))
		jobID := res.View.Job.ID

		_, err := f.svc.ReportNoShow(ctx, admin, jobID, "")
		assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonWrongStatus})

		p1 := providerActor("p1")
		_, err = f.svc.AcceptMatch(ctx, p1, jobID, res.Attempts[0].ID)
		require.NoError(t, err)
		_, err = f.svc.ReportNoShow(ctx, customer, jobID, "")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		_, err = f.svc.ReportNoShow(ctx, p1, jobID, "")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)

		_, err = f.svc.StartJob(ctx, p1, jobID)
		require.NoError(t, err)
		_, err = f.svc.ReportNoShow(ctx, admin, jobID, "")
		assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindInvalidTransition, Reason: domain.ReasonWrongStatus},
			"a started job had its provider on site")
	})
}

func TestRetryPenaltyCharge_ConcurrentRetriesChargeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1, func(p *domain.ProviderProfile) {
		p.IncidentPaymentMethodRef = domain.Ptr("pm_1")
		p.PaymentCustomerRef = domain.Ptr("cus_p1")
	})
	jobID := f.inProgressJob(t, domain.Dollars(100))

	f.gw.EXPECT().ChargeIncident(gomock.Any(), gomock.Any(), "cus_p1", "pm_1", domain.Dollars(25), gomock.Any()).
		Return("", domain.PaymentUnavailable(errors.New("timeout")))
	out, err := f.svc.CancelJob(ctx, providerActor("p1"), jobID, "emergency")
	require.NoError(t, err)
	require.False(t, out.PenaltyCharged)

	var inFlight, maxInFlight atomic.Int32
	f.gw.EXPECT().ChargeIncident(gomock.Any(), out.PenaltyID, "cus_p1", "pm_1", domain.Dollars(25), gomock.Any()).
		DoAndReturn(func(context.Context, string, string, string, domain.Money, string) (string, error) {
			n := inFlight.Add(1)
			if n > maxInFlight.Load() {
				maxInFlight.Store(n)
			}
			time.Sleep(30 * time.Millisecond)
			inFlight.Add(-1)
			return "ch_once", nil
		}).
		Times(1)

	const retries = 5
	var (
		wg      sync.WaitGroup
		results [retries]*domain.Penalty
		errs    [retries]error
	)
	for i := range retries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.RetryPenaltyCharge(ctx, admin, out.PenaltyID)
		}()
	}
	wg.Wait()

	for i := range retries {
		require.NoError(t, errs[i])
		assert.Equal(t, domain.PenaltyStatusCharged, results[i].Status)
		assert.Equal(t, "ch_once", *results[i].ChargeRef)
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.True(t, f.provider(t, "p1").CanAcceptJobs)
}

// lockCheckingStore rejects provider writes that were not preceded by
// LockProvider on the same id inside the same transaction.
type lockCheckingStore struct {
	store.Store
}

func (s lockCheckingStore) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.RunInTx(ctx, func(tx store.Tx) error {
		return fn(&lockCheckingTx{Tx: tx, locked: map[string]bool{}})
	})
}

type lockCheckingTx struct {
	store.Tx
	locked map[string]bool
}

func (t *lockCheckingTx) LockProvider(ctx context.Context, providerID string) error {
	if err := t.Tx.LockProvider(ctx, providerID); err != nil {
		return err
	}
	t.locked[providerID] = true
	return nil
}

func (t *lockCheckingTx) UpdateProvider(ctx context.Context, p *domain.ProviderProfile) error {
	if !t.locked[p.ID] {
		return fmt.Errorf("provider %s written without holding its lock", p.ID)
	}
	return t.Tx.UpdateProvider(ctx, p)
}

func TestProviderWritesHoldProviderLock(t *testing.T) {
	f := newFixture(t)
	f.opts.Store = lockCheckingStore{Store: f.store}
	f.rebuild(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1, func(p *domain.ProviderProfile) {
		p.IncidentPaymentMethodRef = domain.Ptr("pm_1")
	})
	p1 := providerActor("p1")

	// location, completion and rating
	jobID := f.inProgressJob(t, domain.Dollars(100))
	_, err := f.svc.RecordProviderLocation(ctx, p1, jobID, LocationUpdate{Lat: pickup.Lat, Lng: pickup.Lng})
	require.NoError(t, err)
	_, err = f.svc.UpdateChecklist(ctx, p1, jobID, domain.ChecklistUpdate{WorkCompleted: domain.Ptr(true)})
	require.NoError(t, err)
	_, err = f.svc.CompleteJob(ctx, p1, jobID)
	require.NoError(t, err)
	_, err = f.svc.RateJob(ctx, customer, jobID, RateJobInput{Rating: 5})
	require.NoError(t, err)

	_, err = f.svc.UpdateCompliance(ctx, admin, "p1", ComplianceUpdate{IsAvailable: domain.Ptr(true)})
	require.NoError(t, err)

	gomock.InOrder(
		f.gw.EXPECT().ChargeIncident(gomock.Any(), gomock.Any(), "p1", "pm_1", gomock.Any(), gomock.Any()).
			Return("", domain.PaymentDeclined(errors.New("declined"))),
		f.gw.EXPECT().ChargeIncident(gomock.Any(), gomock.Any(), "p1", "pm_1", gomock.Any(), gomock.Any()).
			Return("ch_retry", nil),
		f.gw.EXPECT().ChargeIncident(gomock.Any(), gomock.Any(), "p1", "pm_1", gomock.Any(), gomock.Any()).
			Return("", domain.PaymentDeclined(errors.New("declined"))),
	)

	// cancellation then a successful retry
	second := f.inProgressJob(t, domain.Dollars(100))
	out, err := f.svc.CancelJob(ctx, p1, second, "flat tire")
	require.NoError(t, err)
	_, err = f.svc.RetryPenaltyCharge(ctx, admin, out.PenaltyID)
	require.NoError(t, err)

	// cancellation then a waiver
	third := f.inProgressJob(t, domain.Dollars(100))
	out, err = f.svc.CancelJob(ctx, p1, third, "flat tire")
	require.NoError(t, err)
	_, err = f.svc.WaivePenalty(ctx, admin, out.PenaltyID, "first offence")
	require.NoError(t, err)

	p := f.provider(t, "p1")
	assert.True(t, p.CanAcceptJobs)
	assert.InDelta(t, 5.0, p.Rating, 1e-9)
}

// held reports whether someone holds or waits for key.
func (k *keyedMutex) held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.locks[key]
	return ok
}

func TestEventsPublishedUnderJobLock(t *testing.T) {
	f := newFixture(t)
	var (
		mu       sync.Mutex
		unlocked []domain.EventType
	)
	f.opts.Publisher = PublisherFunc(func(evt domain.Event) {
		if !f.svc.locks.held(evt.JobID) {
			mu.Lock()
			unlocked = append(unlocked, evt.Type)
			mu.Unlock()
		}
		f.events.Publish(evt)
	})
	f.rebuild(t)
	ctx := context.Background()
	f.addProvider(t, "p1", 1)
	f.addProvider(t, "p2", 2)
	p1 := providerActor("p1")

	jobID := f.inProgressJob(t, domain.Dollars(100))
	_, err := f.svc.ConfirmContact(ctx, p1, jobID)
	require.NoError(t, err)
	_, err = f.svc.RecordProviderLocation(ctx, p1, jobID, LocationUpdate{Lat: pickup.Lat, Lng: pickup.Lng})
	require.NoError(t, err)
	require.NoError(t, f.svc.RecordCustomerLocation(ctx, customer, jobID, LocationUpdate{Lat: 1, Lng: 2}))
	adj, err := f.svc.AddAdjustment(ctx, p1, jobID, AddAdjustmentInput{Type: domain.AdjustmentOther, PriceChange: 500, Reason: "extra"})
	require.NoError(t, err)
	_, err = f.svc.ApproveAdjustment(ctx, customer, jobID, adj.ID)
	require.NoError(t, err)
	_, err = f.svc.ConfirmBNPL(ctx, customer, jobID)
	require.NoError(t, err)
	_, err = f.svc.UpdateChecklist(ctx, p1, jobID, domain.ChecklistUpdate{WorkCompleted: domain.Ptr(true)})
	require.NoError(t, err)
	_, err = f.svc.CompleteJob(ctx, p1, jobID)
	require.NoError(t, err)
	_, err = f.svc.RateJob(ctx, customer, jobID, RateJobInput{Rating: 5})
	require.NoError(t, err)

	second := f.createJob(t, domain.Dollars(100))
	offers := map[string]string{}
	for _, a := range second.Attempts {
		offers[a.ProviderID] = a.ID
	}
	require.Len(t, offers, 2)
	_, err = f.svc.DeclineMatch(ctx, providerActor("p2"), second.View.Job.ID, offers["p2"])
	require.NoError(t, err)
	_, err = f.svc.AcceptMatch(ctx, p1, second.View.Job.ID, offers["p1"])
	require.NoError(t, err)
	_, err = f.svc.CancelJob(ctx, p1, second.View.Job.ID, "sick")
	require.NoError(t, err)
	_, err = f.svc.RematchJob(ctx, admin, second.View.Job.ID)
	require.NoError(t, err)
	_, err = f.svc.WithdrawJob(ctx, customer, second.View.Job.ID)
	require.NoError(t, err)

	assert.Greater(t, len(f.events.types()), 10)
	assert.Empty(t, unlocked)
}
