package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/shared/postgresql"
)

// Postgres is the sqlx-backed Store.
type Postgres struct {
	client *postgresql.Client
	logger *slog.Logger
}

// NewPostgres creates a new Postgres store
func NewPostgres(client *postgresql.Client, logger *slog.Logger) *Postgres {
	return &Postgres{
		client: client,
		logger: logger,
	}
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	return p.client.InTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&pgTx{tx: tx, logger: p.logger})
	})
}

type pgTx struct {
	tx     *sqlx.Tx
	logger *slog.Logger
}

// jobLockKey derives the advisory lock key from the first 8 bytes of the
// SHA-256 of the job id.
func jobLockKey(jobID string) int64 {
	sum := sha256.Sum256([]byte("job:" + jobID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

func (t *pgTx) LockJob(ctx context.Context, jobID string) error {
	if _, err := t.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", jobLockKey(jobID)); err != nil {
		return fmt.Errorf("failed to acquire job lock: %w", err)
	}
	return nil
}

func (t *pgTx) CreateJob(ctx context.Context, job *domain.Job) error {
	row := newJobRow(job)
	if _, err := sqlx.NamedExecContext(ctx, t.tx, insertSQL("jobs", jobColumns), &row); err != nil {
		return fmt.Errorf("failed to create job: %w", MapDBError(err, "job"))
	}
	return nil
}

func (t *pgTx) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	if err := t.tx.GetContext(ctx, &row, selectSQL("jobs", jobColumns)+" WHERE id = $1", jobID); err != nil {
		return nil, MapDBError(err, "job")
	}
	j := row.toDomain()
	return &j, nil
}

type jobUpdate struct {
	jobRow
	Expected domain.JobStatus `db:"expected_status"`
}

func (t *pgTx) UpdateJob(ctx context.Context, job *domain.Job, expected domain.JobStatus) error {
	arg := jobUpdate{jobRow: newJobRow(job), Expected: expected}
	res, err := sqlx.NamedExecContext(ctx, t.tx, updateSQL("jobs", "id", jobColumns, " AND status = :expected_status"), &arg)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", MapDBError(err, "job"))
	}
	return t.checkCAS(ctx, res, "jobs", job.ID, "job", string(expected))
}

func (t *pgTx) ListJobs(ctx context.Context, f JobFilter) ([]domain.Job, error) {
	query := selectSQL("jobs", jobColumns) + " WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if f.CustomerID != "" {
		query += fmt.Sprintf(" AND customer_id = $%d", argIdx)
		args = append(args, f.CustomerID)
		argIdx++
	}

	if f.ProviderID != "" {
		query += fmt.Sprintf(" AND assigned_provider_id = $%d", argIdx)
		args = append(args, f.ProviderID)
		argIdx++
	}

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, f.Status)
		argIdx++
	}

	if f.ManualMatchAt != nil {
		query += fmt.Sprintf(" AND status = 'matching' AND (needs_manual_match OR matching_expires_at <= $%d)", argIdx)
		args = append(args, *f.ManualMatchAt)
		argIdx++
	}

	if f.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, f.Cursor.CreatedAt, f.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"

	if n := f.limit(); n > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, n)
	}

	var rows []jobRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", MapDBError(err, "job"))
	}

	jobs := make([]domain.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}
	return jobs, nil
}

func (t *pgTx) CreateProvider(ctx context.Context, p *domain.ProviderProfile) error {
	row := newProviderRow(p)
	if _, err := sqlx.NamedExecContext(ctx, t.tx, insertSQL("provider_profiles", providerColumns), &row); err != nil {
		return fmt.Errorf("failed to create provider: %w", MapDBError(err, "provider"))
	}
	return nil
}

func (t *pgTx) GetProvider(ctx context.Context, providerID string) (*domain.ProviderProfile, error) {
	var row providerRow
	if err := t.tx.GetContext(ctx, &row, selectSQL("provider_profiles", providerColumns)+" WHERE id = $1", providerID); err != nil {
		return nil, MapDBError(err, "provider")
	}
	p := row.toDomain()
	return &p, nil
}

// LockProvider holds the provider's row lock until the transaction ends.
func (t *pgTx) LockProvider(ctx context.Context, providerID string) error {
	var id string
	if err := t.tx.GetContext(ctx, &id, "SELECT id FROM provider_profiles WHERE id = $1 FOR UPDATE", providerID); err != nil {
		return MapDBError(err, "provider")
	}
	return nil
}

func (t *pgTx) UpdateProvider(ctx context.Context, p *domain.ProviderProfile) error {
	row := newProviderRow(p)
	res, err := sqlx.NamedExecContext(ctx, t.tx, updateSQL("provider_profiles", "id", providerColumns, ""), &row)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", MapDBError(err, "provider"))
	}
	return t.checkCAS(ctx, res, "provider_profiles", p.ID, "provider", "")
}

func (t *pgTx) ListCandidateProviders(ctx context.Context, serviceType string) ([]domain.ProviderProfile, error) {
	query := selectSQL("provider_profiles", providerColumns) + `
		WHERE can_accept_jobs AND is_available AND $1 = ANY(service_types)
		ORDER BY id`

	var rows []providerRow
	if err := t.tx.SelectContext(ctx, &rows, query, serviceType); err != nil {
		return nil, fmt.Errorf("failed to list candidate providers: %w", MapDBError(err, "provider"))
	}

	out := make([]domain.ProviderProfile, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (t *pgTx) CreateMatchAttempts(ctx context.Context, attempts []domain.MatchAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	rows := make([]attemptRow, len(attempts))
	for i := range attempts {
		rows[i] = attemptRow(attempts[i])
	}
	if _, err := sqlx.NamedExecContext(ctx, t.tx, insertSQL("match_attempts", attemptColumns), rows); err != nil {
		return fmt.Errorf("failed to create match attempts: %w", MapDBError(err, "match attempt"))
	}
	return nil
}

func (t *pgTx) GetMatchAttempt(ctx context.Context, attemptID string) (*domain.MatchAttempt, error) {
	var row attemptRow
	if err := t.tx.GetContext(ctx, &row, selectSQL("match_attempts", attemptColumns)+" WHERE id = $1", attemptID); err != nil {
		return nil, MapDBError(err, "match attempt")
	}
	a := row.toDomain()
	return &a, nil
}

func (t *pgTx) ListMatchAttempts(ctx context.Context, jobID string) ([]domain.MatchAttempt, error) {
	query := selectSQL("match_attempts", attemptColumns) + " WHERE job_id = $1 ORDER BY created_at, rank, id"
	return t.selectAttempts(ctx, query, jobID)
}

func (t *pgTx) ListProviderOffers(ctx context.Context, providerID string, now time.Time) ([]domain.MatchAttempt, error) {
	query := selectSQL("match_attempts", attemptColumns) + `
		WHERE provider_id = $1 AND status = 'pending' AND expires_at > $2
		ORDER BY expires_at, id`
	return t.selectAttempts(ctx, query, providerID, now)
}

func (t *pgTx) selectAttempts(ctx context.Context, query string, args ...interface{}) ([]domain.MatchAttempt, error) {
	var rows []attemptRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list match attempts: %w", MapDBError(err, "match attempt"))
	}
	out := make([]domain.MatchAttempt, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (t *pgTx) UpdateMatchAttemptStatus(ctx context.Context, attemptID string, expected, next domain.MatchAttemptStatus, at time.Time) error {
	query := `
		UPDATE match_attempts
		SET status = $1, responded_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := t.tx.ExecContext(ctx, query, next, at, attemptID, expected)
	if err != nil {
		return fmt.Errorf("failed to update match attempt: %w", MapDBError(err, "match attempt"))
	}
	return t.checkCAS(ctx, res, "match_attempts", attemptID, "match attempt", string(expected))
}

func (t *pgTx) ExpireMatchAttempts(ctx context.Context, jobID, exceptID string, at time.Time) (int, error) {
	query := `
		UPDATE match_attempts
		SET status = 'expired', responded_at = $1
		WHERE job_id = $2 AND id <> $3 AND status = 'pending'
	`
	res, err := t.tx.ExecContext(ctx, query, at, jobID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("failed to expire match attempts: %w", MapDBError(err, "match attempt"))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (t *pgTx) CreateAdjustment(ctx context.Context, a *domain.Adjustment) error {
	row := newAdjustmentRow(a)
	if _, err := sqlx.NamedExecContext(ctx, t.tx, insertSQL("job_adjustments", adjustmentColumns), &row); err != nil {
		return fmt.Errorf("failed to create adjustment: %w", MapDBError(err, "adjustment"))
	}
	return nil
}

func (t *pgTx) GetAdjustment(ctx context.Context, adjustmentID string) (*domain.Adjustment, error) {
	var row adjustmentRow
	if err := t.tx.GetContext(ctx, &row, selectSQL("job_adjustments", adjustmentColumns)+" WHERE id = $1", adjustmentID); err != nil {
		return nil, MapDBError(err, "adjustment")
	}
	a := row.toDomain()
	return &a, nil
}

func (t *pgTx) ListAdjustments(ctx context.Context, jobID string) ([]domain.Adjustment, error) {
	var rows []adjustmentRow
	query := selectSQL("job_adjustments", adjustmentColumns) + " WHERE job_id = $1 ORDER BY created_at, id"
	if err := t.tx.SelectContext(ctx, &rows, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", MapDBError(err, "adjustment"))
	}
	out := make([]domain.Adjustment, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (t *pgTx) DecideAdjustment(ctx context.Context, a *domain.Adjustment) error {
	query := `
		UPDATE job_adjustments
		SET status = $1, decided_by = $2, decided_at = $3
		WHERE id = $4 AND status = 'pending'
	`
	res, err := t.tx.ExecContext(ctx, query, a.Status, a.DecidedBy, a.DecidedAt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to decide adjustment: %w", MapDBError(err, "adjustment"))
	}
	return t.checkCAS(ctx, res, "job_adjustments", a.ID, "adjustment", string(domain.AdjustmentPending))
}

func (t *pgTx) CreateCompletion(ctx context.Context, c *domain.Completion) error {
	row := completionRow(*c)
	if _, err := sqlx.NamedExecContext(ctx, t.tx, insertSQL("job_completions", completionColumns), &row); err != nil {
		return fmt.Errorf("failed to create completion: %w", MapDBError(err, "completion"))
	}
	return nil
}

func (t *pgTx) GetCompletion(ctx context.Context, jobID string) (*domain.Completion, error) {
	var row completionRow
	if err := t.tx.GetContext(ctx, &row, selectSQL("job_completions", completionColumns)+" WHERE job_id = $1", jobID); err != nil {
		return nil, MapDBError(err, "completion")
	}
	c := row.toDomain()
	return &c, nil
}

func (t *pgTx) UpdateCompletion(ctx context.Context, c *domain.Completion) error {
	row := completionRow(*c)
	res, err := sqlx.NamedExecContext(ctx, t.tx, updateSQL("job_completions", "job_id", completionColumns, ""), &row)
	if err != nil {
		return fmt.Errorf("failed to update completion: %w", MapDBError(err, "completion"))
	}
	return t.checkCAS(ctx, res, "job_completions", c.JobID, "completion", "")
}

func (t *pgTx) CreatePenalty(ctx context.Context, p *domain.Penalty) error {
	row := penaltyRow(*p)
	if _, err := sqlx.NamedExecContext(ctx, t.tx, insertSQL("provider_penalties", penaltyColumns), &row); err != nil {
		return fmt.Errorf("failed to create penalty: %w", MapDBError(err, "penalty"))
	}
	return nil
}

func (t *pgTx) GetPenalty(ctx context.Context, penaltyID string) (*domain.Penalty, error) {
	var row penaltyRow
	if err := t.tx.GetContext(ctx, &row, selectSQL("provider_penalties", penaltyColumns)+" WHERE id = $1", penaltyID); err != nil {
		return nil, MapDBError(err, "penalty")
	}
	p := row.toDomain()
	return &p, nil
}

type penaltyUpdate struct {
	penaltyRow
	Expected domain.PenaltyStatus `db:"expected_status"`
}

func (t *pgTx) UpdatePenalty(ctx context.Context, p *domain.Penalty, expected domain.PenaltyStatus) error {
	arg := penaltyUpdate{penaltyRow: penaltyRow(*p), Expected: expected}
	res, err := sqlx.NamedExecContext(ctx, t.tx, updateSQL("provider_penalties", "id", penaltyColumns, " AND status = :expected_status"), &arg)
	if err != nil {
		return fmt.Errorf("failed to update penalty: %w", MapDBError(err, "penalty"))
	}
	return t.checkCAS(ctx, res, "provider_penalties", p.ID, "penalty", string(expected))
}

func (t *pgTx) ListPenalties(ctx context.Context, f PenaltyFilter) ([]domain.Penalty, error) {
	query := selectSQL("provider_penalties", penaltyColumns) + " WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if f.ProviderID != "" {
		query += fmt.Sprintf(" AND provider_id = $%d", argIdx)
		args = append(args, f.ProviderID)
		argIdx++
	}
	if f.JobID != "" {
		query += fmt.Sprintf(" AND job_id = $%d", argIdx)
		args = append(args, f.JobID)
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, f.Status)
	}
	query += " ORDER BY created_at DESC, id DESC"

	var rows []penaltyRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list penalties: %w", MapDBError(err, "penalty"))
	}
	out := make([]domain.Penalty, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

// checkCAS turns a zero-row conditional update into not_found or conflict.
func (t *pgTx) checkCAS(ctx context.Context, res rowsAffecter, table, id, entity, expected string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	key := "id"
	if table == "job_completions" {
		key = "job_id"
	}
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s = $1)", table, key)
	if err := t.tx.GetContext(ctx, &exists, query, id); err != nil {
		return fmt.Errorf("failed to check %s: %w", entity, err)
	}
	if !exists {
		return domain.NotFoundf("%s %s not found", entity, id)
	}

	t.logger.Warn("Conditional update lost race",
		slog.String("entity", entity),
		slog.String("id", id),
		slog.String("expected_status", expected),
	)
	return domain.Conflictf("%s %s was modified concurrently", entity, id)
}

var (
	_ Store = (*Postgres)(nil)
	_ Tx    = (*pgTx)(nil)
)
