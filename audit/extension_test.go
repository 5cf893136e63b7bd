package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/audit"
	"github.com/qualidade-ams/books-sonda-sub000/dispatch"
	"github.com/qualidade-ams/books-sonda-sub000/id"
	"github.com/qualidade-ams/books-sonda-sub000/job"
)

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *mockRecorder) Record(_ context.Context, evt *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestJob() *job.Job {
	return &job.Job{
		Entity:      disparo.NewEntity(),
		ID:          id.NewJobID(),
		Type:        job.TypeMonthlyDispatch,
		Status:      job.StatusRunning,
		ScheduledAt: time.Now().UTC(),
		Attempts:    1,
		MaxAttempts: 3,
		LeasedBy:    id.NewWorkerID(),
	}
}

func TestExtensionName(t *testing.T) {
	e := audit.New(&mockRecorder{})
	if e.Name() != "audit" {
		t.Errorf("name = %q, want %q", e.Name(), "audit")
	}
}

func TestJobEnqueuedEvent(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	j := newTestJob()

	if err := e.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != audit.ActionJobEnqueued {
		t.Errorf("Action = %q, want %q", evt.Action, audit.ActionJobEnqueued)
	}
	if evt.Resource != audit.ResourceJob || evt.Category != audit.CategoryJob {
		t.Errorf("Resource/Category = %q/%q", evt.Resource, evt.Category)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID = %q, want %q", evt.ResourceID, j.ID.String())
	}
	if evt.Severity != audit.SeverityInfo || evt.Outcome != audit.OutcomeSuccess {
		t.Errorf("Severity/Outcome = %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["job_type"] != string(job.TypeMonthlyDispatch) {
		t.Errorf("job_type metadata = %v", evt.Metadata["job_type"])
	}
}

func TestJobFailedEventIsCritical(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	j := newTestJob()
	j.Attempts = 3

	jobErr := errors.New("smtp unavailable")
	if err := e.OnJobFailed(context.Background(), j, jobErr); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != audit.SeverityCritical || evt.Outcome != audit.OutcomeFailure {
		t.Errorf("Severity/Outcome = %q/%q, want critical/failure", evt.Severity, evt.Outcome)
	}
	if evt.Reason != "smtp unavailable" {
		t.Errorf("Reason = %q", evt.Reason)
	}
	if evt.Metadata["max_attempts"] != 3 {
		t.Errorf("max_attempts metadata = %v", evt.Metadata["max_attempts"])
	}
}

func TestJobRetryingEventIsWarning(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	next := time.Now().Add(5 * time.Second).UTC()

	if err := e.OnJobRetrying(context.Background(), newTestJob(), 1, next); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionJobRetrying || evt.Severity != audit.SeverityWarning {
		t.Errorf("Action/Severity = %q/%q", evt.Action, evt.Severity)
	}
	if evt.Metadata["next_run_at"] != next.Format(time.RFC3339) {
		t.Errorf("next_run_at metadata = %v", evt.Metadata["next_run_at"])
	}
}

func TestDispatchCompletedEvent(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	period := dispatch.Period{Mes: 7, Ano: 2026}

	ok := &dispatch.Summary{Succeeded: 3, Failed: 0, Total: 3}
	if err := e.OnDispatchCompleted(context.Background(), period, ok); err != nil {
		t.Fatal(err)
	}
	if evt := rec.last(); evt.Severity != audit.SeverityInfo || evt.ResourceID != "07/2026" {
		t.Errorf("Severity/ResourceID = %q/%q", evt.Severity, evt.ResourceID)
	}

	bad := &dispatch.Summary{Succeeded: 2, Failed: 1, Total: 3}
	if err := e.OnDispatchCompleted(context.Background(), period, bad); err != nil {
		t.Fatal(err)
	}
	evt := rec.last()
	if evt.Severity != audit.SeverityWarning || evt.Outcome != audit.OutcomeFailure {
		t.Errorf("Severity/Outcome = %q/%q, want warning/failure", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["falhas"] != 1 || evt.Metadata["total"] != 3 {
		t.Errorf("metadata = %v", evt.Metadata)
	}
}

func TestWithActionsFilters(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec, audit.WithActions(audit.ActionJobFailed))
	j := newTestJob()

	if err := e.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	if err := e.OnJobCompleted(context.Background(), j, time.Second); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 0 {
		t.Fatalf("filtered actions recorded %d events", rec.count())
	}

	if err := e.OnJobFailed(context.Background(), j, errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 1 {
		t.Fatalf("enabled action recorded %d events, want 1", rec.count())
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	e := audit.New(
		audit.RecorderFunc(func(context.Context, *audit.Event) error {
			return errors.New("backend down")
		}),
		audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	// Lifecycle hooks never propagate recorder failures.
	if err := e.OnJobStarted(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}
}
