// Package job defines the job entity, status machine, typed definitions,
// and store interface.
//
// # Job Entity
//
// A [Job] represents a schedulable unit of work. It embeds
// [disparo.Entity] for timestamps, carries a typed JSON payload, and
// progresses through a status machine:
//
//	pending → running → completed
//	pending → running → pending (retry, future ScheduledAt) → running → ...
//	pending → running → failed
//	pending → cancelled
//	failed  → cancelled
//
// A job whose status is not pending is never re-claimed by the poller
// regardless of ScheduledAt, and Attempts never decreases.
//
// # Job Types
//
// The set of job types is closed: monthly_dispatch,
// retry_failed_dispatch and cleanup_old_data. The engine registers the
// handler for each type at construction time; payloads live in
// payload.go.
//
// # Permanent Failures
//
// Handlers signal "do not retry" by wrapping the error with [Permanent].
// The executor fails such jobs terminally without consuming the
// remaining attempt budget.
package job
