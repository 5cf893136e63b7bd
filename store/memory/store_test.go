package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/dispatch"
	"github.com/qualidade-ams/books-sonda-sub000/id"
	"github.com/qualidade-ams/books-sonda-sub000/job"
)

func newJob(t job.Type, status job.Status, scheduledAt time.Time) *job.Job {
	return &job.Job{
		Entity:      disparo.NewEntity(),
		ID:          id.NewJobID(),
		Type:        t,
		Status:      status,
		ScheduledAt: scheduledAt,
		MaxAttempts: 3,
	}
}

func TestClaimDueJobsOrderAndLease(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	early := newJob(job.TypeMonthlyDispatch, job.StatusPending, now.Add(-2*time.Minute))
	late := newJob(job.TypeCleanupOldData, job.StatusPending, now.Add(-time.Minute))
	future := newJob(job.TypeRetryFailedDispatch, job.StatusPending, now.Add(time.Hour))

	for _, j := range []*job.Job{late, early, future} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	worker := id.NewWorkerID()
	claimed, err := s.ClaimDueJobs(ctx, worker, 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}

	if len(claimed) != 2 {
		t.Fatalf("claimed %d jobs, want 2", len(claimed))
	}
	if claimed[0].ID != early.ID || claimed[1].ID != late.ID {
		t.Errorf("claim order = %s, %s; want earliest scheduled first", claimed[0].ID, claimed[1].ID)
	}
	for _, j := range claimed {
		if j.Status != job.StatusRunning || j.LeasedBy != worker || j.StartedAt == nil {
			t.Errorf("claimed job %s not leased: status=%s leased_by=%s", j.ID, j.Status, j.LeasedBy)
		}
	}

	// A second claim finds nothing due.
	again, err := s.ClaimDueJobs(ctx, worker, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second claim returned %d jobs, want 0", len(again))
	}
}

func TestClaimDueJobsRespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	for range 5 {
		if err := s.EnqueueJob(ctx, newJob(job.TypeMonthlyDispatch, job.StatusPending, now.Add(-time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	claimed, err := s.ClaimDueJobs(ctx, id.NewWorkerID(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 3 {
		t.Errorf("claimed %d jobs, want 3", len(claimed))
	}
}

func TestCancelJobStates(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		status  job.Status
		wantErr error
	}{
		{job.StatusPending, nil},
		{job.StatusFailed, nil},
		{job.StatusRunning, disparo.ErrNotCancellable},
		{job.StatusCompleted, disparo.ErrNotCancellable},
		{job.StatusCancelled, disparo.ErrNotCancellable},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			s := New()
			j := newJob(job.TypeMonthlyDispatch, tt.status, now)
			if err := s.EnqueueJob(ctx, j); err != nil {
				t.Fatal(err)
			}

			cancelled, err := s.CancelJob(ctx, j.ID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CancelJob = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CancelJob: %v", err)
			}
			if cancelled.Status != job.StatusCancelled || cancelled.CompletedAt == nil {
				t.Errorf("cancelled job = %+v", cancelled)
			}
		})
	}
}

func TestCancelJobNotFound(t *testing.T) {
	s := New()
	if _, err := s.CancelJob(context.Background(), id.NewJobID()); !errors.Is(err, disparo.ErrJobNotFound) {
		t.Fatalf("CancelJob = %v, want ErrJobNotFound", err)
	}
}

func TestDeleteJobsOlderThan(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	old := newJob(job.TypeMonthlyDispatch, job.StatusCompleted, now)
	old.CreatedAt = now.AddDate(0, 0, -40)
	recent := newJob(job.TypeMonthlyDispatch, job.StatusCompleted, now)
	oldButRunning := newJob(job.TypeCleanupOldData, job.StatusRunning, now)
	oldButRunning.CreatedAt = now.AddDate(0, 0, -40)

	for _, j := range []*job.Job{old, recent, oldButRunning} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := s.DeleteJobsOlderThan(ctx, now.AddDate(0, 0, -30), []job.Status{
		job.StatusCompleted, job.StatusFailed, job.StatusCancelled,
	})
	if err != nil {
		t.Fatalf("DeleteJobsOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := s.GetJob(ctx, old.ID); !errors.Is(err, disparo.ErrJobNotFound) {
		t.Error("old terminal job should be gone")
	}
	if _, err := s.GetJob(ctx, oldButRunning.ID); err != nil {
		t.Error("running job must survive cleanup regardless of age")
	}
}

func TestHeartbeatAndReap(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	j := newJob(job.TypeMonthlyDispatch, job.StatusPending, now.Add(-time.Minute))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	worker := id.NewWorkerID()
	claimed, err := s.ClaimDueJobs(ctx, worker, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(claimed))
	}

	if err := s.HeartbeatJob(ctx, j.ID, worker); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}
	// A different worker does not hold the lease.
	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); !errors.Is(err, disparo.ErrLockNotHeld) {
		t.Fatalf("foreign heartbeat = %v, want ErrLockNotHeld", err)
	}

	// Fresh heartbeat: nothing stale.
	stale, err := s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("reaped %d jobs with a live heartbeat", len(stale))
	}

	// Age the heartbeat past the threshold.
	past := now.Add(-10 * time.Minute)
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.HeartbeatAt = &past
	if err := s.UpdateJob(ctx, got); err != nil {
		t.Fatal(err)
	}

	stale, err = s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != j.ID {
		t.Fatalf("stale = %v, want the aged job", stale)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	oldest := newJob(job.TypeMonthlyDispatch, job.StatusPending, now)
	oldest.CreatedAt = now.Add(-3 * time.Hour)
	middle := newJob(job.TypeCleanupOldData, job.StatusPending, now)
	middle.CreatedAt = now.Add(-2 * time.Hour)
	newest := newJob(job.TypeMonthlyDispatch, job.StatusPending, now)
	newest.CreatedAt = now.Add(-time.Hour)

	for _, j := range []*job.Job{oldest, newest, middle} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("listed %d jobs, want 3", len(got))
	}
	if got[0].ID != newest.ID || got[1].ID != middle.ID || got[2].ID != oldest.ID {
		t.Errorf("order = %s, %s, %s; want newest first", got[0].ID, got[1].ID, got[2].ID)
	}

	limited, err := s.ListJobs(ctx, job.ListOpts{Type: job.TypeMonthlyDispatch, Limit: 1})
	if err != nil {
		t.Fatalf("ListJobs limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != newest.ID {
		t.Errorf("filtered list = %+v, want only the newest monthly job", limited)
	}
}

func TestJobStats(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	completed := newJob(job.TypeMonthlyDispatch, job.StatusCompleted, now)
	failedRecent := newJob(job.TypeCleanupOldData, job.StatusFailed, now)
	failedRecent.CompletedAt = &now
	old := now.Add(-48 * time.Hour)
	failedOld := newJob(job.TypeCleanupOldData, job.StatusFailed, now)
	failedOld.CompletedAt = &old

	for _, j := range []*job.Job{completed, failedRecent, failedOld} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if stats.ByStatus[job.StatusFailed] != 2 || stats.ByStatus[job.StatusCompleted] != 1 {
		t.Errorf("ByStatus = %v", stats.ByStatus)
	}
	if stats.ByType[job.TypeCleanupOldData] != 2 {
		t.Errorf("ByType = %v", stats.ByType)
	}
	if stats.FailedLast24h != 1 {
		t.Errorf("FailedLast24h = %d, want 1", stats.FailedLast24h)
	}
}

func TestTransitionControlFirstWins(t *testing.T) {
	ctx := context.Background()
	s := New()
	period := dispatch.Period{Mes: 7, Ano: 2026}

	fresh := &dispatch.Control{
		Entity: disparo.NewEntity(), Mes: 7, Ano: 2026, EmpresaID: "emp-1",
		Status: dispatch.ControlSent,
	}

	// Empty expected status requires the row not to exist.
	ok, err := s.TransitionControl(ctx, fresh, "")
	if err != nil || !ok {
		t.Fatalf("first transition = %v, %v, want true", ok, err)
	}

	// The losing run read no row, so its precondition now fails.
	loser := &dispatch.Control{
		Entity: disparo.NewEntity(), Mes: 7, Ano: 2026, EmpresaID: "emp-1",
		Status: dispatch.ControlFailed,
	}
	ok, err = s.TransitionControl(ctx, loser, "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("concurrent transition with a stale precondition succeeded")
	}

	got, err := s.GetControl(ctx, period, "emp-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != dispatch.ControlSent {
		t.Errorf("status = %s, want the first writer's %s", got.Status, dispatch.ControlSent)
	}

	// A matching precondition still transitions.
	next := &dispatch.Control{
		Entity: disparo.NewEntity(), Mes: 7, Ano: 2026, EmpresaID: "emp-1",
		Status: dispatch.ControlFailed,
	}
	ok, err = s.TransitionControl(ctx, next, dispatch.ControlSent)
	if err != nil || !ok {
		t.Fatalf("matched transition = %v, %v, want true", ok, err)
	}
}

func TestUpsertControlLastWriterWins(t *testing.T) {
	ctx := context.Background()
	s := New()
	period := dispatch.Period{Mes: 7, Ano: 2026}

	first := &dispatch.Control{
		Entity: disparo.NewEntity(), Mes: 7, Ano: 2026, EmpresaID: "emp-1",
		Status: dispatch.ControlPending,
	}
	if err := s.UpsertControl(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := &dispatch.Control{
		Entity: disparo.NewEntity(), Mes: 7, Ano: 2026, EmpresaID: "emp-1",
		Status: dispatch.ControlScheduled, Notes: "agendado",
	}
	if err := s.UpsertControl(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetControl(ctx, period, "emp-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != dispatch.ControlScheduled {
		t.Errorf("status = %s, want %s", got.Status, dispatch.ControlScheduled)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Error("upsert should preserve the original CreatedAt")
	}
}

func TestHistoryIsAppendOnlyAndOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now().UTC()

	for i := range 3 {
		e := &dispatch.HistoryEntry{
			Entity:    disparo.NewEntity(),
			ID:        id.NewHistoryID(),
			EmpresaID: "emp-1",
			Status:    dispatch.HistorySent,
			SentAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendHistory(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.ListHistory(ctx, "emp-1", 2)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want limit 2", len(rows))
	}
	if !rows[0].SentAt.After(rows[1].SentAt) {
		t.Error("history should be ordered newest first")
	}
}

func TestCompanyDirectory(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.PutCompany(&dispatch.Company{ID: "emp-b", Name: "Beta", Active: true})
	s.PutCompany(&dispatch.Company{ID: "emp-a", Name: "Alfa", Active: true})
	s.PutCompany(&dispatch.Company{ID: "emp-c", Name: "Gama", Active: false})
	s.PutRecipient(&dispatch.Recipient{ID: "d1", EmpresaID: "emp-a", Email: "d1@alfa.com", Active: true})
	s.PutRecipient(&dispatch.Recipient{ID: "d2", EmpresaID: "emp-a", Email: "d2@alfa.com", Active: false})
	s.SetResponsibleAddresses([]string{"controle@sonda.com"})

	companies, err := s.ListActiveCompanies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(companies) != 2 || companies[0].ID != "emp-a" {
		t.Errorf("companies = %v, want active ordered by id", companies)
	}

	// Inactive companies still resolve individually.
	if _, err := s.GetCompany(ctx, "emp-c"); err != nil {
		t.Errorf("GetCompany(emp-c): %v", err)
	}
	if _, err := s.GetCompany(ctx, "emp-x"); !errors.Is(err, disparo.ErrCompanyNotFound) {
		t.Errorf("GetCompany(emp-x) = %v, want ErrCompanyNotFound", err)
	}

	recipients, err := s.ListActiveRecipients(ctx, "emp-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(recipients) != 1 || recipients[0].ID != "d1" {
		t.Errorf("recipients = %v, want only the active one", recipients)
	}
}
