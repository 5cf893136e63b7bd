package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/qualidade-ams/books-sonda-sub000/job"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got job.MonthlyDispatchPayload
	def := job.NewDefinition(job.TypeMonthlyDispatch, func(_ context.Context, p job.MonthlyDispatchPayload) (any, error) {
		got = p
		return map[string]int{"total": 4}, nil
	})

	job.RegisterDefinition(r, def)

	h, ok := r.Get(job.TypeMonthlyDispatch)
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(job.MonthlyDispatchPayload{Mes: 3, Ano: 2025})
	result, err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Mes != 3 || got.Ano != 2025 {
		t.Errorf("payload = %+v, want mes=3 ano=2025", got)
	}

	var decoded map[string]int
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("result did not round-trip: %v", err)
	}
	if decoded["total"] != 4 {
		t.Errorf("result total = %d, want 4", decoded["total"])
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Fatal("expected no handler for unregistered type")
	}
}

func TestRegistry_InvalidJSONIsPermanent(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition(job.TypeRetryFailedDispatch, func(_ context.Context, _ job.RetryFailedPayload) (any, error) {
		t.Fatal("handler should not be called with invalid JSON")
		return nil, nil
	}))

	h, _ := r.Get(job.TypeRetryFailedDispatch)
	_, err := h(context.Background(), []byte(`{invalid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !job.IsPermanent(err) {
		t.Fatalf("malformed payload should be a permanent failure, got %v", err)
	}
}

func TestRegistry_EmptyPayload(t *testing.T) {
	r := job.NewRegistry()
	called := false
	job.RegisterDefinition(r, job.NewDefinition(job.TypeCleanupOldData, func(_ context.Context, _ job.CleanupPayload) (any, error) {
		called = true
		return nil, nil
	}))

	h, _ := r.Get(job.TypeCleanupOldData)
	result, err := h(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result, got %s", result)
	}
	if !called {
		t.Fatal("handler not called with empty payload")
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry()
	want := errors.New("handler failed")
	job.RegisterDefinition(r, job.NewDefinition(job.TypeCleanupOldData, func(_ context.Context, _ job.CleanupPayload) (any, error) {
		return nil, want
	}))

	h, _ := r.Get(job.TypeCleanupOldData)
	_, err := h(context.Background(), nil)
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestPermanent(t *testing.T) {
	if job.Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}

	base := errors.New("bad payload")
	wrapped := job.Permanent(base)
	if !job.IsPermanent(wrapped) {
		t.Error("IsPermanent(Permanent(err)) = false")
	}
	if !errors.Is(wrapped, base) {
		t.Error("Permanent should preserve the wrapped error for errors.Is")
	}
	if job.IsPermanent(base) {
		t.Error("plain errors must not be permanent")
	}
}

func TestJob_Cancellable(t *testing.T) {
	tests := []struct {
		status job.Status
		want   bool
	}{
		{job.StatusPending, true},
		{job.StatusFailed, true},
		{job.StatusRunning, false},
		{job.StatusCompleted, false},
		{job.StatusCancelled, false},
	}
	for _, tt := range tests {
		j := &job.Job{Status: tt.status}
		if got := j.Cancellable(); got != tt.want {
			t.Errorf("Cancellable() with status %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}
