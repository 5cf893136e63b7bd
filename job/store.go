package job

import (
	"context"
	"time"

	"github.com/qualidade-ams/books-sonda-sub000/id"
)

// ListOpts controls filtering and pagination for job list queries.
type ListOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
	// Type filters by job type. Empty means all types.
	Type Type
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Stats aggregates job counts for monitoring.
type Stats struct {
	ByStatus      map[Status]int64 `json:"by_status"`
	ByType        map[Type]int64   `json:"by_type"`
	FailedLast24h int64            `json:"failed_last_24h"`
}

// Store defines the persistence contract for jobs.
type Store interface {
	// EnqueueJob persists a new job in pending status.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimDueJobs atomically claims up to limit pending jobs whose
	// ScheduledAt is not in the future, sets them to running with
	// StartedAt and the claiming worker's lease, and returns them
	// ordered by ScheduledAt ascending. Jobs in any other status are
	// never claimed regardless of ScheduledAt.
	ClaimDueJobs(ctx context.Context, workerID id.WorkerID, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// CancelJob transitions a job to cancelled only if its current
	// status is pending or failed, and returns the updated job.
	// Returns ErrNotCancellable otherwise; no field changes.
	CancelJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs matching the given options, newest first
	// by CreatedAt.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// DeleteJobsOlderThan removes jobs created before cutoff whose
	// status is in statuses, returning the number deleted.
	DeleteJobsOlderThan(ctx context.Context, cutoff time.Time, statuses []Status) (int64, error)

	// JobStats returns aggregate counts by status and type plus the
	// number of terminal failures in the last 24 hours.
	JobStats(ctx context.Context) (*Stats, error)

	// HeartbeatJob renews the lease on a running job, indicating the
	// owning scheduler process is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose last heartbeat is older
	// than the given threshold, indicating the owning process crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)
}
