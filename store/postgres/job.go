package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/id"
	"github.com/qualidade-ams/books-sonda-sub000/job"
)

const jobColumns = `
	id, type, status, payload, result,
	scheduled_at, started_at, completed_at, heartbeat_at,
	attempts, max_attempts, last_error, leased_by,
	created_at, updated_at`

// EnqueueJob persists a new job in pending status.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO disparo_jobs (
			id, type, status, payload, result,
			scheduled_at, started_at, completed_at, heartbeat_at,
			attempts, max_attempts, last_error, leased_by,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15
		)`,
		j.ID.String(), string(j.Type), string(j.Status), j.Payload, j.Result,
		j.ScheduledAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt,
		j.Attempts, j.MaxAttempts, j.LastError, j.LeasedBy.String(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return disparo.ErrJobAlreadyExists
		}
		return fmt.Errorf("disparo/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimDueJobs atomically claims up to limit due pending jobs, sets
// them to running under the claimant's lease, and returns them. Uses
// SELECT FOR UPDATE SKIP LOCKED so concurrent instances never claim
// the same job.
func (s *Store) ClaimDueJobs(ctx context.Context, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE disparo_jobs
			SET status = 'running', leased_by = $1,
			    started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM disparo_jobs
				WHERE status = 'pending'
				  AND scheduled_at <= NOW()
				ORDER BY scheduled_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY scheduled_at ASC`,
		workerID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("disparo/postgres: claim due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM disparo_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, disparo.ErrJobNotFound
		}
		return nil, fmt.Errorf("disparo/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE disparo_jobs SET
			type = $2, status = $3, payload = $4, result = $5,
			scheduled_at = $6, started_at = $7, completed_at = $8,
			heartbeat_at = $9, attempts = $10, max_attempts = $11,
			last_error = $12, leased_by = $13, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), string(j.Type), string(j.Status), j.Payload, j.Result,
		j.ScheduledAt, j.StartedAt, j.CompletedAt,
		j.HeartbeatAt, j.Attempts, j.MaxAttempts,
		j.LastError, j.LeasedBy.String(),
	)
	if err != nil {
		return fmt.Errorf("disparo/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return disparo.ErrJobNotFound
	}
	return nil
}

// CancelJob cancels a job while it is still pending or failed. The
// status check happens inside the UPDATE so a concurrent claim and a
// cancel cannot both win.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE disparo_jobs
		SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'failed')
		RETURNING `+jobColumns,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("disparo/postgres: cancel job: %w", err)
	}

	// Nothing matched: distinguish missing from non-cancellable.
	existing, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: job is %s", disparo.ErrNotCancellable, existing.Status)
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM disparo_jobs WHERE 1=1`
	args := []any{}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("disparo/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// DeleteJobsOlderThan removes jobs in the given statuses created before
// the cutoff and returns the count removed.
func (s *Store) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time, statuses []job.Status) (int64, error) {
	strs := make([]string, len(statuses))
	for i, st := range statuses {
		strs[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM disparo_jobs
		WHERE status = ANY($1) AND created_at < $2`,
		strs, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("disparo/postgres: delete old jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// JobStats returns aggregate counts by status and type plus the number
// of jobs that failed in the last 24 hours.
func (s *Store) JobStats(ctx context.Context) (*job.Stats, error) {
	stats := &job.Stats{
		ByStatus: make(map[job.Status]int64),
		ByType:   make(map[job.Type]int64),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, type, COUNT(*) FROM disparo_jobs GROUP BY status, type`)
	if err != nil {
		return nil, fmt.Errorf("disparo/postgres: job stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var statusStr, typeStr string
		var count int64
		if err := rows.Scan(&statusStr, &typeStr, &count); err != nil {
			return nil, fmt.Errorf("disparo/postgres: scan stats row: %w", err)
		}
		stats.ByStatus[job.Status(statusStr)] += count
		stats.ByType[job.Type(typeStr)] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disparo/postgres: iterate stats rows: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM disparo_jobs
		WHERE status = 'failed' AND completed_at > NOW() - INTERVAL '24 hours'`,
	).Scan(&stats.FailedLast24h)
	if err != nil {
		return nil, fmt.Errorf("disparo/postgres: failed job count: %w", err)
	}

	return stats, nil
}

// HeartbeatJob renews the lease on a running job. The lease check is
// part of the UPDATE: a worker that lost its claim gets ErrLockNotHeld.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE disparo_jobs
		SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running' AND leased_by = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("disparo/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return getErr
		}
		return disparo.ErrLockNotHeld
	}
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than the
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM disparo_jobs
		WHERE status = 'running'
		  AND (heartbeat_at IS NULL OR heartbeat_at < NOW() - $1::interval)`,
		threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("disparo/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		typeStr   string
		statusStr string
		leasedStr string
	)
	err := row.Scan(
		&idStr, &typeStr, &statusStr, &j.Payload, &j.Result,
		&j.ScheduledAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt,
		&j.Attempts, &j.MaxAttempts, &j.LastError, &leasedStr,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = job.Type(typeStr)
	j.Status = job.Status(statusStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("disparo/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if leasedStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(leasedStr); workerErr == nil {
			j.LeasedBy = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("disparo/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disparo/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
