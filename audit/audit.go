// Package audit bridges lifecycle events to an audit trail backend.
//
// Every job and dispatch lifecycle hook emits a structured audit event
// through the [Recorder] interface. The extension assigns severity
// levels (info for normal operations, warning for retries, critical for
// terminal failures) and metadata (job type, attempt counts, dispatch
// totals, errors). Hosts bridge Record to whatever immutable store
// their compliance setup requires; the slog-backed recorder is the
// default.
package audit

import (
	"context"
	"log/slog"
)

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued       = "job.enqueued"
	ActionJobStarted        = "job.started"
	ActionJobCompleted      = "job.completed"
	ActionJobFailed         = "job.failed"
	ActionJobRetrying       = "job.retrying"
	ActionDispatchCompleted = "dispatch.completed"
)

// Audit event categories group related actions.
const (
	CategoryJob      = "disparo.job"
	CategoryDispatch = "disparo.dispatch"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob      = "job"
	ResourceDispatch = "dispatch_run"
)

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionDispatchCompleted,
	}
}

// Event is a fully-formed audit event.
type Event struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// Recorder is the interface audit backends implement. It is defined
// locally so the audit package does not import any backend directly;
// callers inject the concrete recorder at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// SlogRecorder writes audit events to a structured logger. Suitable as
// a default when no dedicated audit store is wired.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a log-backed recorder. A nil logger uses
// slog.Default.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogRecorder{logger: logger}
}

func (r *SlogRecorder) Record(ctx context.Context, event *Event) error {
	attrs := []any{
		slog.String("action", event.Action),
		slog.String("resource", event.Resource),
		slog.String("resource_id", event.ResourceID),
		slog.String("category", event.Category),
		slog.String("outcome", event.Outcome),
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}

	switch event.Severity {
	case SeverityWarning:
		r.logger.WarnContext(ctx, "audit", attrs...)
	case SeverityCritical:
		r.logger.ErrorContext(ctx, "audit", attrs...)
	default:
		r.logger.InfoContext(ctx, "audit", attrs...)
	}
	return nil
}
