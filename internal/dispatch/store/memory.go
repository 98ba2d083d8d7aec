package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

// Memory is an in-process Store. Transactions are serialized; every write
// records how to undo itself and a failed transaction replays those records
// in reverse.
type Memory struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	jobs        map[string]*domain.Job
	providers   map[string]*domain.ProviderProfile
	attempts    map[string]*domain.MatchAttempt
	adjustments map[string]*domain.Adjustment
	completions map[string]*domain.Completion
	penalties   map[string]*domain.Penalty
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{data: &memData{
		jobs:        make(map[string]*domain.Job),
		providers:   make(map[string]*domain.ProviderProfile),
		attempts:    make(map[string]*domain.MatchAttempt),
		adjustments: make(map[string]*domain.Adjustment),
		completions: make(map[string]*domain.Completion),
		penalties:   make(map[string]*domain.Penalty),
	}}
}

func (m *Memory) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{d: m.data}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func cloneAttempt(a *domain.MatchAttempt) *domain.MatchAttempt {
	c := *a
	if a.RespondedAt != nil {
		t := *a.RespondedAt
		c.RespondedAt = &t
	}
	return &c
}

type memTx struct {
	d    *memData
	undo []func()
}

// put stores v under key in m and remembers the previous entry. Stored
// values are never mutated in place, so the previous pointer stays valid.
func put[T any](t *memTx, m map[string]*T, key string, v *T) {
	prev, existed := m[key]
	t.undo = append(t.undo, func() {
		if existed {
			m[key] = prev
			return
		}
		delete(m, key)
	})
	m[key] = v
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// LockJob is a no-op: memory transactions already run one at a time.
func (t *memTx) LockJob(context.Context, string) error {
	return nil
}

// LockProvider only checks the provider exists, for the same reason.
func (t *memTx) LockProvider(_ context.Context, providerID string) error {
	if _, ok := t.d.providers[providerID]; !ok {
		return domain.NotFoundf("provider %s not found", providerID)
	}
	return nil
}

func (t *memTx) CreateJob(_ context.Context, job *domain.Job) error {
	if _, ok := t.d.jobs[job.ID]; ok {
		return domain.Conflictf("job %s already exists", job.ID)
	}
	put(t, t.d.jobs, job.ID, job.Clone())
	return nil
}

func (t *memTx) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	j, ok := t.d.jobs[jobID]
	if !ok {
		return nil, domain.NotFoundf("job %s not found", jobID)
	}
	return j.Clone(), nil
}

func (t *memTx) UpdateJob(_ context.Context, job *domain.Job, expected domain.JobStatus) error {
	cur, ok := t.d.jobs[job.ID]
	if !ok {
		return domain.NotFoundf("job %s not found", job.ID)
	}
	if cur.Status != expected {
		return domain.Conflictf("job %s is %s, expected %s", job.ID, cur.Status, expected)
	}
	put(t, t.d.jobs, job.ID, job.Clone())
	return nil
}

func (t *memTx) ListJobs(_ context.Context, f JobFilter) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range t.d.jobs {
		if f.CustomerID != "" && j.CustomerID != f.CustomerID {
			continue
		}
		if f.ProviderID != "" && !j.IsAssignedTo(f.ProviderID) {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.ManualMatchAt != nil && j.MatchingState(*f.ManualMatchAt) != domain.MatchingLapsed {
			continue
		}
		if f.Cursor != nil && !before(j.CreatedAt, j.ID, f.Cursor.CreatedAt, f.Cursor.JobID) {
			continue
		}
		out = append(out, *j.Clone())
	}

	slices.SortFunc(out, func(a, b domain.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	if n := f.limit(); n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// before reports (at, id) < (cursorAt, cursorID) in keyset order.
func before(at time.Time, id string, cursorAt time.Time, cursorID string) bool {
	if at.Equal(cursorAt) {
		return id < cursorID
	}
	return at.Before(cursorAt)
}

func (t *memTx) CreateProvider(_ context.Context, p *domain.ProviderProfile) error {
	if _, ok := t.d.providers[p.ID]; ok {
		return domain.Conflictf("provider %s already exists", p.ID)
	}
	for _, existing := range t.d.providers {
		if existing.UserID == p.UserID {
			return domain.Conflictf("user %s already has a provider profile", p.UserID)
		}
	}
	put(t, t.d.providers, p.ID, p.Clone())
	return nil
}

func (t *memTx) GetProvider(_ context.Context, providerID string) (*domain.ProviderProfile, error) {
	p, ok := t.d.providers[providerID]
	if !ok {
		return nil, domain.NotFoundf("provider %s not found", providerID)
	}
	return p.Clone(), nil
}

func (t *memTx) UpdateProvider(_ context.Context, p *domain.ProviderProfile) error {
	if _, ok := t.d.providers[p.ID]; !ok {
		return domain.NotFoundf("provider %s not found", p.ID)
	}
	put(t, t.d.providers, p.ID, p.Clone())
	return nil
}

func (t *memTx) ListCandidateProviders(_ context.Context, serviceType string) ([]domain.ProviderProfile, error) {
	var out []domain.ProviderProfile
	for _, p := range t.d.providers {
		if p.CanAcceptJobs && p.IsAvailable && p.Offers(serviceType) {
			out = append(out, *p.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.ProviderProfile) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) CreateMatchAttempts(_ context.Context, attempts []domain.MatchAttempt) error {
	for i := range attempts {
		if _, ok := t.d.attempts[attempts[i].ID]; ok {
			return domain.Conflictf("match attempt %s already exists", attempts[i].ID)
		}
	}
	for i := range attempts {
		put(t, t.d.attempts, attempts[i].ID, cloneAttempt(&attempts[i]))
	}
	return nil
}

func (t *memTx) GetMatchAttempt(_ context.Context, attemptID string) (*domain.MatchAttempt, error) {
	a, ok := t.d.attempts[attemptID]
	if !ok {
		return nil, domain.NotFoundf("match attempt %s not found", attemptID)
	}
	return cloneAttempt(a), nil
}

func (t *memTx) ListMatchAttempts(_ context.Context, jobID string) ([]domain.MatchAttempt, error) {
	var out []domain.MatchAttempt
	for _, a := range t.d.attempts {
		if a.JobID == jobID {
			out = append(out, *cloneAttempt(a))
		}
	}
	sortAttempts(out)
	return out, nil
}

func (t *memTx) ListProviderOffers(_ context.Context, providerID string, now time.Time) ([]domain.MatchAttempt, error) {
	var out []domain.MatchAttempt
	for _, a := range t.d.attempts {
		if a.ProviderID == providerID && a.Live(now) {
			out = append(out, *cloneAttempt(a))
		}
	}
	slices.SortFunc(out, func(a, b domain.MatchAttempt) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func sortAttempts(out []domain.MatchAttempt) {
	slices.SortFunc(out, func(a, b domain.MatchAttempt) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Rank, b.Rank); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func (t *memTx) UpdateMatchAttemptStatus(_ context.Context, attemptID string, expected, next domain.MatchAttemptStatus, at time.Time) error {
	a, ok := t.d.attempts[attemptID]
	if !ok {
		return domain.NotFoundf("match attempt %s not found", attemptID)
	}
	if a.Status != expected {
		return domain.Conflictf("match attempt %s is %s, expected %s", attemptID, a.Status, expected)
	}
	updated := cloneAttempt(a)
	updated.Status = next
	updated.RespondedAt = &at
	put(t, t.d.attempts, attemptID, updated)
	return nil
}

func (t *memTx) ExpireMatchAttempts(_ context.Context, jobID, exceptID string, at time.Time) (int, error) {
	n := 0
	for _, a := range t.d.attempts {
		if a.JobID != jobID || a.ID == exceptID || a.Status != domain.AttemptPending {
			continue
		}
		expired := cloneAttempt(a)
		expired.Status = domain.AttemptExpired
		expired.RespondedAt = &at
		put(t, t.d.attempts, a.ID, expired)
		n++
	}
	return n, nil
}

func (t *memTx) CreateAdjustment(_ context.Context, a *domain.Adjustment) error {
	if _, ok := t.d.adjustments[a.ID]; ok {
		return domain.Conflictf("adjustment %s already exists", a.ID)
	}
	put(t, t.d.adjustments, a.ID, a.Clone())
	return nil
}

func (t *memTx) GetAdjustment(_ context.Context, adjustmentID string) (*domain.Adjustment, error) {
	a, ok := t.d.adjustments[adjustmentID]
	if !ok {
		return nil, domain.NotFoundf("adjustment %s not found", adjustmentID)
	}
	return a.Clone(), nil
}

func (t *memTx) ListAdjustments(_ context.Context, jobID string) ([]domain.Adjustment, error) {
	var out []domain.Adjustment
	for _, a := range t.d.adjustments {
		if a.JobID == jobID {
			out = append(out, *a.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Adjustment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *memTx) DecideAdjustment(_ context.Context, a *domain.Adjustment) error {
	cur, ok := t.d.adjustments[a.ID]
	if !ok {
		return domain.NotFoundf("adjustment %s not found", a.ID)
	}
	if cur.Status != domain.AdjustmentPending {
		return domain.Conflictf("adjustment %s already %s", a.ID, cur.Status)
	}
	put(t, t.d.adjustments, a.ID, a.Clone())
	return nil
}

func (t *memTx) CreateCompletion(_ context.Context, c *domain.Completion) error {
	if _, ok := t.d.completions[c.JobID]; ok {
		return domain.Conflictf("completion for job %s already exists", c.JobID)
	}
	put(t, t.d.completions, c.JobID, c.Clone())
	return nil
}

func (t *memTx) GetCompletion(_ context.Context, jobID string) (*domain.Completion, error) {
	c, ok := t.d.completions[jobID]
	if !ok {
		return nil, domain.NotFoundf("completion for job %s not found", jobID)
	}
	return c.Clone(), nil
}

func (t *memTx) UpdateCompletion(_ context.Context, c *domain.Completion) error {
	if _, ok := t.d.completions[c.JobID]; !ok {
		return domain.NotFoundf("completion for job %s not found", c.JobID)
	}
	put(t, t.d.completions, c.JobID, c.Clone())
	return nil
}

func (t *memTx) CreatePenalty(_ context.Context, p *domain.Penalty) error {
	if _, ok := t.d.penalties[p.ID]; ok {
		return domain.Conflictf("penalty %s already exists", p.ID)
	}
	put(t, t.d.penalties, p.ID, p.Clone())
	return nil
}

func (t *memTx) GetPenalty(_ context.Context, penaltyID string) (*domain.Penalty, error) {
	p, ok := t.d.penalties[penaltyID]
	if !ok {
		return nil, domain.NotFoundf("penalty %s not found", penaltyID)
	}
	return p.Clone(), nil
}

func (t *memTx) UpdatePenalty(_ context.Context, p *domain.Penalty, expected domain.PenaltyStatus) error {
	cur, ok := t.d.penalties[p.ID]
	if !ok {
		return domain.NotFoundf("penalty %s not found", p.ID)
	}
	if cur.Status != expected {
		return domain.Conflictf("penalty %s is %s, expected %s", p.ID, cur.Status, expected)
	}
	put(t, t.d.penalties, p.ID, p.Clone())
	return nil
}

func (t *memTx) ListPenalties(_ context.Context, f PenaltyFilter) ([]domain.Penalty, error) {
	var out []domain.Penalty
	for _, p := range t.d.penalties {
		if f.ProviderID != "" && p.ProviderID != f.ProviderID {
			continue
		}
		if f.JobID != "" && p.JobID != f.JobID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, *p.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Penalty) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

var (
	_ Store = (*Memory)(nil)
	_ Tx    = (*memTx)(nil)
)
