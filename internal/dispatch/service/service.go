// Package service is the job state machine. Every transition on a job runs
// under that job's lock, persists atomically and then broadcasts exactly
// one lifecycle event.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/disclosure"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/matching"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/payment"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
)

// Publisher receives every event after the transition that produced it
// has committed. Publish must not block.
type Publisher interface {
	Publish(evt domain.Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(evt domain.Event)

func (f PublisherFunc) Publish(evt domain.Event) { f(evt) }

// Policy holds the business constants of the lifecycle.
type Policy struct {
	MatchingWindow time.Duration
	ContactWindow  time.Duration
	PenaltyAmount  domain.Money
	PenaltyReason  string
	NoShowReason   string
	GeofenceMiles  float64
	Fees           payment.FeeSchedule
}

// DefaultPolicy is a 60s matching window, a 5 minute contact window, a $25
// cancellation penalty and a 0.1 mile arrival geofence.
func DefaultPolicy() Policy {
	return Policy{
		MatchingWindow: 60 * time.Second,
		ContactWindow:  5 * time.Minute,
		PenaltyAmount:  domain.Dollars(25),
		PenaltyReason:  "cancellation after acceptance",
		NoShowReason:   "no_show",
		GeofenceMiles:  0.1,
		Fees:           payment.DefaultFeeSchedule(),
	}
}

// Options wires a Service.
type Options struct {
	Store     store.Store
	Gateway   payment.Gateway
	Matcher   *matching.Engine
	Publisher Publisher
	Logger    *slog.Logger
	Policy    Policy
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID defaults to uuid.NewString.
	NewID func() string
}

// Service implements the dispatch operations.
type Service struct {
	store     store.Store
	gateway   payment.Gateway
	matcher   *matching.Engine
	publisher Publisher
	logger    *slog.Logger
	policy    Policy
	now       func() time.Time
	newID     func() string
	locks     *keyedMutex
}

// New creates a new Service instance
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if opts.Matcher == nil {
		return nil, errors.New("matcher is required")
	}

	s := &Service{
		store:     opts.Store,
		gateway:   opts.Gateway,
		matcher:   opts.Matcher,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		policy:    opts.Policy,
		now:       opts.Now,
		newID:     opts.NewID,
		locks:     newKeyedMutex(),
	}
	if s.publisher == nil {
		s.publisher = PublisherFunc(func(domain.Event) {})
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}

	def := DefaultPolicy()
	if s.policy.MatchingWindow <= 0 {
		s.policy.MatchingWindow = def.MatchingWindow
	}
	if s.policy.ContactWindow <= 0 {
		s.policy.ContactWindow = def.ContactWindow
	}
	if s.policy.PenaltyAmount <= 0 {
		s.policy.PenaltyAmount = def.PenaltyAmount
	}
	if s.policy.PenaltyReason == "" {
		s.policy.PenaltyReason = def.PenaltyReason
	}
	if s.policy.NoShowReason == "" {
		s.policy.NoShowReason = def.NoShowReason
	}
	if s.policy.GeofenceMiles <= 0 {
		s.policy.GeofenceMiles = def.GeofenceMiles
	}
	if len(s.policy.Fees) == 0 {
		s.policy.Fees = def.Fees
	}
	return s, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// emit broadcasts one event for job. Callers invoke it after commit and
// before leaving withJob, so a job's events go out in commit order.
func (s *Service) emit(jobID string, typ domain.EventType, payload map[string]any) domain.Event {
	evt := domain.Event{
		ID:        s.newID(),
		Type:      typ,
		JobID:     jobID,
		Payload:   payload,
		Timestamp: s.clock(),
	}
	s.publisher.Publish(evt)
	s.logger.Debug("Event published",
		slog.String("job_id", jobID),
		slog.String("event_type", string(typ)),
		slog.String("event_id", evt.ID),
	)
	return evt
}

// withJob serializes fn with every other operation on jobID in this process.
func (s *Service) withJob(jobID string, fn func() error) error {
	unlock := s.locks.Lock(jobID)
	defer unlock()
	return fn()
}

// loadProvider locks providerID inside tx and reads it. Every path that
// writes a profile back reads it through here, after any job lock.
func loadProvider(ctx context.Context, tx store.Tx, providerID string) (*domain.ProviderProfile, error) {
	if err := tx.LockProvider(ctx, providerID); err != nil {
		return nil, err
	}
	return tx.GetProvider(ctx, providerID)
}

// loadJob locks jobID inside tx and reads it.
func loadJob(ctx context.Context, tx store.Tx, jobID string) (*domain.Job, error) {
	if err := tx.LockJob(ctx, jobID); err != nil {
		return nil, err
	}
	return tx.GetJob(ctx, jobID)
}

// view builds the guarded representation of job for actor.
func (s *Service) view(ctx context.Context, tx store.Tx, job *domain.Job, actor domain.Actor) (disclosure.JobView, error) {
	var provider *domain.ProviderProfile
	if job.AssignedProviderID != nil {
		p, err := tx.GetProvider(ctx, *job.AssignedProviderID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return disclosure.JobView{}, err
		}
		provider = p
	}
	return disclosure.Guard(disclosure.NewJobView(job, provider, s.clock()), actor.Role), nil
}

// authorizeParty allows admins, the job's customer, the assigned provider
// and providers holding an offer for the job.
func authorizeParty(ctx context.Context, tx store.Tx, actor domain.Actor, job *domain.Job) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleCustomer:
		if job.CustomerID == actor.ID {
			return nil
		}
	case domain.RoleProvider:
		if job.IsAssignedTo(actor.ID) {
			return nil
		}
		attempts, err := tx.ListMatchAttempts(ctx, job.ID)
		if err != nil {
			return err
		}
		for _, a := range attempts {
			if a.ProviderID == actor.ID {
				return nil
			}
		}
	}
	return domain.Unauthorizedf("not a party to job %s", job.ID)
}

func requireAssignedProvider(actor domain.Actor, job *domain.Job) error {
	if actor.Role == domain.RoleProvider && job.IsAssignedTo(actor.ID) {
		return nil
	}
	return domain.Unauthorizedf("only the assigned provider may do this on job %s", job.ID)
}

func requireCustomerOrAdmin(actor domain.Actor, job *domain.Job) error {
	if actor.IsAdmin() || (actor.Role == domain.RoleCustomer && job.CustomerID == actor.ID) {
		return nil
	}
	return domain.Unauthorizedf("only the customer or an admin may do this on job %s", job.ID)
}

func requireAdmin(actor domain.Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	return domain.Unauthorizedf("admin role required")
}

func wrongStatus(job *domain.Job, want ...domain.JobStatus) error {
	return domain.InvalidTransitionf(domain.ReasonWrongStatus, "job %s is %s, expected %v", job.ID, job.Status, want)
}

// refreshEligibility recomputes the cached gate from p and its outstanding
// penalties and persists it in tx.
func refreshEligibility(ctx context.Context, tx store.Tx, p *domain.ProviderProfile, now time.Time) error {
	outstanding, err := tx.ListPenalties(ctx, store.PenaltyFilter{ProviderID: p.ID, Status: domain.PenaltyStatusAssessed})
	if err != nil {
		return err
	}
	p.CanAcceptJobs = domain.CanAcceptJobs(p, outstanding)
	p.UpdatedAt = now
	return tx.UpdateProvider(ctx, p)
}
