// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing, development,
// and single-process deployments that can afford to lose state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/dispatch"
	"github.com/qualidade-ams/books-sonda-sub000/id"
	"github.com/qualidade-ams/books-sonda-sub000/job"
)

// Ensure Store implements each subsystem contract at compile time.
// We can't import store here (import cycle with backends is avoided by
// convention), so we verify per subsystem.
var (
	_ job.Store                 = (*Store)(nil)
	_ dispatch.ControlStore     = (*Store)(nil)
	_ dispatch.HistoryStore     = (*Store)(nil)
	_ dispatch.CompanyDirectory = (*Store)(nil)
)

func controlKey(mes, ano int, empresaID string) string {
	return fmt.Sprintf("%04d-%02d-%s", ano, mes, empresaID)
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs        map[string]*job.Job
	controls    map[string]*dispatch.Control // key: "YYYY-MM-empresaID"
	history     []*dispatch.HistoryEntry
	companies   map[string]*dispatch.Company
	recipients  map[string][]*dispatch.Recipient // key: empresaID
	responsible []string
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:       make(map[string]*job.Job),
		controls:   make(map[string]*dispatch.Control),
		companies:  make(map[string]*dispatch.Company),
		recipients: make(map[string][]*dispatch.Recipient),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return disparo.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ClaimDueJobs atomically claims up to limit due pending jobs, sets
// them to running with the claimant's lease, and returns them ordered
// by scheduled time.
func (m *Store) ClaimDueJobs(_ context.Context, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Status != job.StatusPending {
			continue
		}
		if j.ScheduledAt.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].ScheduledAt.Before(candidates[k].ScheduledAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.Status = job.StatusRunning
		n := now
		j.StartedAt = &n
		j.HeartbeatAt = &n
		j.LeasedBy = workerID
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, disparo.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return disparo.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// CancelJob cancels a job only while it is still cancellable (pending
// or failed). Running, completed, and cancelled jobs are rejected.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, disparo.ErrJobNotFound
	}
	if !j.Cancellable() {
		return nil, fmt.Errorf("%w: job is %s", disparo.ErrNotCancellable, j.Status)
	}

	now := time.Now().UTC()
	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now

	cp := *j
	return &cp, nil
}

func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Newest first, matching the Postgres backend's ordering.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*job.Job{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *Store) DeleteJobsOlderThan(_ context.Context, cutoff time.Time, statuses []job.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	statusSet := make(map[job.Status]struct{}, len(statuses))
	for _, s := range statuses {
		statusSet[s] = struct{}{}
	}

	var deleted int64
	for key, j := range m.jobs {
		if _, ok := statusSet[j.Status]; !ok {
			continue
		}
		if !j.CreatedAt.Before(cutoff) {
			continue
		}
		delete(m.jobs, key)
		deleted++
	}
	return deleted, nil
}

func (m *Store) JobStats(_ context.Context) (*job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &job.Stats{
		ByStatus: make(map[job.Status]int64),
		ByType:   make(map[job.Type]int64),
	}

	dayAgo := time.Now().UTC().Add(-24 * time.Hour)
	for _, j := range m.jobs {
		stats.ByStatus[j.Status]++
		stats.ByType[j.Type]++
		if j.Status == job.StatusFailed && j.CompletedAt != nil && j.CompletedAt.After(dayAgo) {
			stats.FailedLast24h++
		}
	}
	return stats, nil
}

func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return disparo.ErrJobNotFound
	}
	if j.Status != job.StatusRunning || j.LeasedBy != workerID {
		return disparo.ErrLockNotHeld
	}

	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deadline := time.Now().UTC().Add(-threshold)

	var stale []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.After(deadline) {
			continue
		}
		cp := *j
		stale = append(stale, &cp)
	}
	return stale, nil
}

// ──────────────────────────────────────────────────
// Dispatch control store
// ──────────────────────────────────────────────────

func (m *Store) GetControl(_ context.Context, period dispatch.Period, empresaID string) (*dispatch.Control, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.controls[controlKey(period.Mes, period.Ano, empresaID)]
	if !ok {
		return nil, disparo.ErrControlNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Store) UpsertControl(_ context.Context, c *dispatch.Control) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := controlKey(c.Mes, c.Ano, c.EmpresaID)
	cp := *c
	if existing, ok := m.controls[key]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	cp.UpdatedAt = time.Now().UTC()
	m.controls[key] = &cp
	return nil
}

func (m *Store) TransitionControl(_ context.Context, c *dispatch.Control, expected dispatch.ControlStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := controlKey(c.Mes, c.Ano, c.EmpresaID)
	existing, ok := m.controls[key]

	if expected == "" {
		if ok {
			return false, nil
		}
	} else {
		if !ok || existing.Status != expected {
			return false, nil
		}
	}

	cp := *c
	if ok {
		cp.CreatedAt = existing.CreatedAt
	}
	cp.UpdatedAt = time.Now().UTC()
	m.controls[key] = &cp
	return true, nil
}

func (m *Store) ListControlsByStatus(_ context.Context, period dispatch.Period, status dispatch.ControlStatus) ([]*dispatch.Control, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*dispatch.Control
	for _, c := range m.controls {
		if c.Mes != period.Mes || c.Ano != period.Ano || c.Status != status {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].EmpresaID < result[k].EmpresaID
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Dispatch history store
// ──────────────────────────────────────────────────

func (m *Store) AppendHistory(_ context.Context, e *dispatch.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.history = append(m.history, &cp)
	return nil
}

func (m *Store) ListHistory(_ context.Context, empresaID string, limit int) ([]*dispatch.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*dispatch.HistoryEntry
	for _, e := range m.history {
		if e.EmpresaID != empresaID {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].SentAt.After(result[k].SentAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Company directory
// ──────────────────────────────────────────────────

func (m *Store) ListActiveCompanies(_ context.Context) ([]*dispatch.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*dispatch.Company
	for _, c := range m.companies {
		if !c.Active {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID < result[k].ID
	})
	return result, nil
}

func (m *Store) GetCompany(_ context.Context, empresaID string) (*dispatch.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.companies[empresaID]
	if !ok {
		return nil, disparo.ErrCompanyNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Store) ListActiveRecipients(_ context.Context, empresaID string) ([]*dispatch.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*dispatch.Recipient
	for _, r := range m.recipients[empresaID] {
		if !r.Active {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	return result, nil
}

func (m *Store) ResponsibleAddresses(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.responsible))
	copy(out, m.responsible)
	return out, nil
}

// ──────────────────────────────────────────────────
// Fixture helpers
// ──────────────────────────────────────────────────

// PutCompany registers or replaces a company.
func (m *Store) PutCompany(c *dispatch.Company) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.companies[c.ID] = &cp
}

// PutRecipient registers a recipient under its company.
func (m *Store) PutRecipient(r *dispatch.Recipient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.recipients[r.EmpresaID] = append(m.recipients[r.EmpresaID], &cp)
}

// SetResponsibleAddresses replaces the responsible-group address list.
func (m *Store) SetResponsibleAddresses(addrs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responsible = append([]string(nil), addrs...)
}
