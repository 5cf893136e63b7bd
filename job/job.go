package job

import (
	"encoding/json"
	"time"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/id"
)

// Type identifies the kind of work a job performs. The set is closed:
// each Type has exactly one handler registered by the engine.
type Type string

const (
	// TypeMonthlyDispatch runs the full (or selective) monthly report
	// dispatch for a billing period.
	TypeMonthlyDispatch Type = "monthly_dispatch"
	// TypeRetryFailedDispatch re-runs the dispatch for companies whose
	// control record is marked failed for the period.
	TypeRetryFailedDispatch Type = "retry_failed_dispatch"
	// TypeCleanupOldData deletes terminal jobs past the retention window.
	TypeCleanupOldData Type = "cleanup_old_data"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed by the poller.
	// A retry puts a failed attempt back here with a future ScheduledAt.
	StatusPending Status = "pending"
	// StatusRunning means the scheduler is currently executing the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed terminally and will not be retried.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Job represents a schedulable unit of work.
type Job struct {
	disparo.Entity

	ID          id.JobID        `json:"id"`
	Type        Type            `json:"type"`
	Status      Status          `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`

	// LeasedBy and HeartbeatAt implement leased claims: a running job
	// belongs to one scheduler process and must renew its heartbeat, so
	// a crashed process's claims become reclaimable after a timeout.
	LeasedBy    id.WorkerID `json:"leased_by,omitempty"`
	HeartbeatAt *time.Time  `json:"heartbeat_at,omitempty"`
}

// Terminal reports whether the job is in a final status.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

// Cancellable reports whether the job may be cancelled: only pending and
// failed jobs are; a running job is never interrupted.
func (j *Job) Cancellable() bool {
	return j.Status == StatusPending || j.Status == StatusFailed
}
