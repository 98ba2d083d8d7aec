// Package store persists jobs, providers and their satellite records.
//
// Every mutation happens inside Store.RunInTx. Status changes are
// compare-and-set: the caller passes the status it read and the update
// fails with a conflict when another writer moved the row first.
package store

import (
	"context"
	"time"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

// Store opens transactions.
type Store interface {
	// RunInTx runs fn atomically. Any error returned by fn discards every
	// write fn made.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the repository surface available inside a transaction.
type Tx interface {
	// LockJob serializes writers of a single job until the transaction ends.
	LockJob(ctx context.Context, jobID string) error

	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	// UpdateJob writes job when its stored status still equals expected.
	UpdateJob(ctx context.Context, job *domain.Job, expected domain.JobStatus) error
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)

	CreateProvider(ctx context.Context, p *domain.ProviderProfile) error
	GetProvider(ctx context.Context, providerID string) (*domain.ProviderProfile, error)
	// LockProvider serializes writers of a single provider until the
	// transaction ends. Call it before reading a profile that will be written
	// back; it is taken after any job lock.
	LockProvider(ctx context.Context, providerID string) error
	// UpdateProvider writes every column of p.
	UpdateProvider(ctx context.Context, p *domain.ProviderProfile) error
	// ListCandidateProviders returns available, eligible providers offering serviceType.
	ListCandidateProviders(ctx context.Context, serviceType string) ([]domain.ProviderProfile, error)

	CreateMatchAttempts(ctx context.Context, attempts []domain.MatchAttempt) error
	GetMatchAttempt(ctx context.Context, attemptID string) (*domain.MatchAttempt, error)
	// ListMatchAttempts returns a job's attempts ordered by rank.
	ListMatchAttempts(ctx context.Context, jobID string) ([]domain.MatchAttempt, error)
	// ListProviderOffers returns the provider's pending attempts that are live at now.
	ListProviderOffers(ctx context.Context, providerID string, now time.Time) ([]domain.MatchAttempt, error)
	// UpdateMatchAttemptStatus moves one attempt from expected to next.
	UpdateMatchAttemptStatus(ctx context.Context, attemptID string, expected, next domain.MatchAttemptStatus, at time.Time) error
	// ExpireMatchAttempts expires every pending attempt of jobID except
	// exceptID and returns how many changed.
	ExpireMatchAttempts(ctx context.Context, jobID, exceptID string, at time.Time) (int, error)

	CreateAdjustment(ctx context.Context, a *domain.Adjustment) error
	GetAdjustment(ctx context.Context, adjustmentID string) (*domain.Adjustment, error)
	ListAdjustments(ctx context.Context, jobID string) ([]domain.Adjustment, error)
	// DecideAdjustment writes a decision onto a still-pending adjustment.
	DecideAdjustment(ctx context.Context, a *domain.Adjustment) error

	CreateCompletion(ctx context.Context, c *domain.Completion) error
	GetCompletion(ctx context.Context, jobID string) (*domain.Completion, error)
	UpdateCompletion(ctx context.Context, c *domain.Completion) error

	CreatePenalty(ctx context.Context, p *domain.Penalty) error
	GetPenalty(ctx context.Context, penaltyID string) (*domain.Penalty, error)
	// UpdatePenalty writes p when its stored status still equals expected.
	UpdatePenalty(ctx context.Context, p *domain.Penalty, expected domain.PenaltyStatus) error
	ListPenalties(ctx context.Context, filter PenaltyFilter) ([]domain.Penalty, error)
}

// JobFilter narrows ListJobs. Results are newest first.
type JobFilter struct {
	CustomerID string
	ProviderID string
	Status     domain.JobStatus
	// ManualMatchAt, when set, restricts to matching jobs flagged for manual
	// matching or whose window lapsed by that instant.
	ManualMatchAt *time.Time
	PageSize      int
	Cursor        *JobCursor
}

// JobCursor is the keyset position after the last returned job.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// PenaltyFilter narrows ListPenalties. Results are newest first.
type PenaltyFilter struct {
	ProviderID string
	JobID      string
	Status     domain.PenaltyStatus
}

func (f JobFilter) limit() int {
	if f.PageSize <= 0 {
		return 0
	}
	// one extra row tells the caller whether another page exists
	return f.PageSize + 1
}
