// Package scheduler provides the background job service: a polling
// claim loop with bounded concurrency, retry with exponential backoff,
// lease heartbeats with stale-job recovery, and the host-facing job
// management API.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/backoff"
	"github.com/qualidade-ams/books-sonda-sub000/dispatch"
	"github.com/qualidade-ams/books-sonda-sub000/ext"
	"github.com/qualidade-ams/books-sonda-sub000/id"
	"github.com/qualidade-ams/books-sonda-sub000/job"
	"github.com/qualidade-ams/books-sonda-sub000/lock"
	"github.com/qualidade-ams/books-sonda-sub000/middleware"
	"github.com/qualidade-ams/books-sonda-sub000/notify"
)

// leadershipKey names the lease a multi-instance deployment contends on.
const leadershipKey = "scheduler"

// Recurring schedules, in the standard five-field cron syntax.
const (
	cleanupSpec = "0 2 * * *"
	monthlySpec = "0 9 1 * *"
)

func mustSchedule(spec string) cronlib.Schedule {
	s, err := cronlib.ParseStandard(spec)
	if err != nil {
		panic(fmt.Sprintf("scheduler: bad cron spec %q: %v", spec, err))
	}
	return s
}

var (
	cleanupSchedule = mustSchedule(cleanupSpec)
	monthlySchedule = mustSchedule(monthlySpec)
)

// Scheduler polls the store for due jobs and executes them with bounded
// concurrency. At most Config.MaxConcurrentJobs jobs run at once; a
// poll tick that finds the service at capacity claims nothing.
type Scheduler struct {
	store      job.Store
	registry   *job.Registry
	extensions *ext.Registry
	notifier   notify.Notifier
	locker     lock.Locker
	executor   *Executor
	cfg        disparo.Config
	workerID   id.WorkerID
	logger     *slog.Logger

	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*schedulerConfig)

type schedulerConfig struct {
	cfg      disparo.Config
	notifier notify.Notifier
	locker   lock.Locker
	strategy backoff.Strategy
	mws      []middleware.Middleware
}

// WithConfig replaces the default runtime configuration.
func WithConfig(cfg disparo.Config) Option {
	return func(c *schedulerConfig) { c.cfg = cfg }
}

// WithNotifier sets the operational alert channel. Defaults to the
// log-backed notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(c *schedulerConfig) { c.notifier = n }
}

// WithLocker enables the leadership lease. When set, a poll tick claims
// jobs only while this instance holds the lease, so multiple instances
// of the service cooperate instead of double-claiming.
func WithLocker(l lock.Locker) Option {
	return func(c *schedulerConfig) { c.locker = l }
}

// WithBackoff replaces the retry delay strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(c *schedulerConfig) { c.strategy = s }
}

// WithMiddleware appends execution middleware. The recover and logging
// middleware are always installed first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *schedulerConfig) { c.mws = append(c.mws, mws...) }
}

// New creates a Scheduler. Call Start to begin polling.
func New(
	store job.Store,
	registry *job.Registry,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	sc := &schedulerConfig{
		cfg: disparo.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.notifier == nil {
		sc.notifier = notify.NewLogNotifier(logger)
	}
	if sc.strategy == nil {
		if sc.cfg.RetryInitialDelay > 0 && sc.cfg.RetryMaxDelay > 0 {
			sc.strategy = backoff.NewExponential(sc.cfg.RetryInitialDelay, sc.cfg.RetryMaxDelay)
		} else {
			sc.strategy = backoff.DefaultStrategy()
		}
	}

	s := &Scheduler{
		store:      store,
		registry:   registry,
		extensions: extensions,
		notifier:   sc.notifier,
		locker:     sc.locker,
		cfg:        sc.cfg,
		workerID:   id.NewWorkerID(),
		logger:     logger,
		stopCh:     make(chan struct{}),
		active:     make(map[string]context.CancelFunc),
	}

	mws := append([]middleware.Middleware{
		middleware.Recover(logger),
		middleware.Logging(logger),
	}, sc.mws...)
	s.executor = NewExecutor(registry, extensions, store, sc.notifier, sc.strategy, logger, mws...)

	return s
}

// WorkerID returns this instance's unique worker identifier, used as
// the lease owner on claimed jobs.
func (s *Scheduler) WorkerID() id.WorkerID { return s.workerID }

// Start launches the poll, heartbeat, and reaper loops and schedules
// the nightly cleanup job. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.logger.Info("scheduler starting",
		slog.String("worker_id", s.workerID.String()),
		slog.Int("max_concurrent", s.cfg.MaxConcurrentJobs),
		slog.Duration("poll_interval", s.cfg.PollInterval),
	)

	if err := s.ensureCleanupScheduled(ctx); err != nil {
		s.logger.Warn("could not schedule cleanup job", slog.String("error", err.Error()))
	}

	s.wg.Add(1)
	go s.pollLoop()

	if s.cfg.HeartbeatInterval > 0 {
		s.wg.Add(1)
		go s.heartbeatLoop()
	}
	if s.cfg.StaleJobThreshold > 0 {
		s.wg.Add(1)
		go s.reaperLoop()
	}

	return nil
}

// Stop drains the scheduler: no new jobs are claimed and running jobs
// get Config.ShutdownTimeout to finish before their contexts are
// cancelled. Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopping", slog.String("worker_id", s.workerID.String()))
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	drain := time.NewTimer(s.cfg.ShutdownTimeout)
	defer drain.Stop()

	select {
	case <-done:
		s.logger.Info("scheduler stopped gracefully")
	case <-drain.C:
		s.logger.Warn("scheduler shutdown timed out, cancelling active jobs")
		s.cancelActiveJobs()
		s.wg.Wait()
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown interrupted, cancelling active jobs")
		s.cancelActiveJobs()
		s.wg.Wait()
	}

	if s.locker != nil {
		if err := s.locker.Release(context.WithoutCancel(ctx), leadershipKey); err != nil && err != disparo.ErrLockNotHeld {
			s.logger.Warn("failed to release leadership lease", slog.String("error", err.Error()))
		}
	}

	s.extensions.EmitShutdown(context.WithoutCancel(ctx))
	return nil
}

// ──────────────────────────────────────────────────
// Job management API
// ──────────────────────────────────────────────────

// EnqueueJob validates the type against the registry, serializes the
// payload, and persists a pending job. A zero scheduled time means run
// at the next poll.
func (s *Scheduler) EnqueueJob(ctx context.Context, t job.Type, payload any, opts ...job.Option) (*job.Job, error) {
	if _, ok := s.registry.Get(t); !ok {
		return nil, fmt.Errorf("%w: %s", disparo.ErrUnknownJobType, t)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("scheduler: marshal payload for %s: %w", t, err)
	}

	options := job.DefaultOptions()
	options.MaxAttempts = s.cfg.DefaultMaxAttempts
	for _, opt := range opts {
		opt(&options)
	}

	scheduledAt := options.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}

	j := &job.Job{
		Entity:      disparo.NewEntity(),
		ID:          id.NewJobID(),
		Type:        t,
		Status:      job.StatusPending,
		Payload:     raw,
		ScheduledAt: scheduledAt,
		MaxAttempts: options.MaxAttempts,
	}

	if err := s.store.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("scheduler: enqueue %s: %w", t, err)
	}

	s.extensions.EmitJobEnqueued(ctx, j)

	s.logger.Info("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(t)),
		slog.Time("scheduled_at", j.ScheduledAt),
	)
	return j, nil
}

// ScheduleMonthlyDispatch enqueues a monthly dispatch job. Without an
// explicit schedule option the job runs at the next monthly slot, 09:00
// on the first day of the month.
func (s *Scheduler) ScheduleMonthlyDispatch(ctx context.Context, payload job.MonthlyDispatchPayload, opts ...job.Option) (*job.Job, error) {
	opts = append([]job.Option{job.WithScheduledAt(monthlySchedule.Next(time.Now()))}, opts...)
	return s.EnqueueJob(ctx, job.TypeMonthlyDispatch, payload, opts...)
}

// ScheduleRetryFailedDispatch enqueues a failure-retry job for the
// period after the given delay. A non-positive delay defaults to 30
// minutes.
func (s *Scheduler) ScheduleRetryFailedDispatch(ctx context.Context, period dispatch.Period, delay time.Duration, opts ...job.Option) (*job.Job, error) {
	if delay <= 0 {
		delay = 30 * time.Minute
	}
	payload := job.RetryFailedPayload{Mes: period.Mes, Ano: period.Ano}
	opts = append([]job.Option{job.WithScheduledAt(time.Now().UTC().Add(delay))}, opts...)
	return s.EnqueueJob(ctx, job.TypeRetryFailedDispatch, payload, opts...)
}

// CancelJob cancels a pending or failed job. Running, completed, and
// cancelled jobs are rejected with disparo.ErrNotCancellable.
func (s *Scheduler) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.store.CancelJob(ctx, jobID)
}

// GetJobStatus retrieves a job by id.
func (s *Scheduler) GetJobStatus(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListJobs lists jobs filtered by the given options.
func (s *Scheduler) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return s.store.ListJobs(ctx, opts)
}

// GetJobStatistics returns aggregate job counts.
func (s *Scheduler) GetJobStatistics(ctx context.Context) (*job.Stats, error) {
	return s.store.JobStats(ctx)
}

// ensureCleanupScheduled guarantees one pending cleanup job exists,
// targeted at the next nightly slot. Restarting the service does not
// pile up duplicates.
func (s *Scheduler) ensureCleanupScheduled(ctx context.Context) error {
	pending, err := s.store.ListJobs(ctx, job.ListOpts{
		Status: job.StatusPending,
		Type:   job.TypeCleanupOldData,
		Limit:  1,
	})
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return nil
	}

	_, err = s.EnqueueJob(ctx, job.TypeCleanupOldData,
		job.CleanupPayload{RetentionDays: s.cfg.RetentionDays},
		job.WithScheduledAt(cleanupSchedule.Next(time.Now())),
	)
	return err
}

// ──────────────────────────────────────────────────
// Poll loop
// ──────────────────────────────────────────────────

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// First poll happens immediately, not one interval in.
	s.poll()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll claims up to the remaining capacity of due jobs and launches
// them. At capacity the whole tick is skipped.
func (s *Scheduler) poll() {
	ctx := context.Background()

	if s.locker != nil {
		held, err := s.locker.Acquire(ctx, leadershipKey, 2*s.cfg.PollInterval)
		if err != nil {
			s.logger.Error("leadership check failed", slog.String("error", err.Error()))
			return
		}
		if !held {
			return
		}
	}

	capacity := s.cfg.MaxConcurrentJobs - s.activeCount()
	if capacity <= 0 {
		s.logger.Debug("at capacity, skipping poll tick",
			slog.Int("max_concurrent", s.cfg.MaxConcurrentJobs),
		)
		return
	}

	jobs, err := s.store.ClaimDueJobs(ctx, s.workerID, capacity)
	if err != nil {
		s.logger.Error("claim due jobs failed", slog.String("error", err.Error()))
		return
	}

	// Claimed jobs count against capacity immediately, before their
	// goroutines start, so a fast successive tick cannot over-claim.
	for _, j := range jobs {
		jobCtx, cancel := context.WithCancel(context.Background())
		s.trackJob(j.ID.String(), cancel)
		s.wg.Add(1)
		go s.runJob(jobCtx, cancel, j)
	}
}

func (s *Scheduler) runJob(ctx context.Context, cancel context.CancelFunc, j *job.Job) {
	defer s.wg.Done()
	defer cancel()
	defer s.untrackJob(j.ID.String())

	s.extensions.EmitJobStarted(ctx, j)

	if err := s.executor.Execute(ctx, j); err != nil {
		s.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
	}

	// Completed cleanup runs re-arm the nightly schedule.
	if j.Type == job.TypeCleanupOldData && j.Status == job.StatusCompleted {
		if err := s.ensureCleanupScheduled(context.Background()); err != nil {
			s.logger.Warn("could not reschedule cleanup job", slog.String("error", err.Error()))
		}
	}
}

// ──────────────────────────────────────────────────
// Heartbeat and reaper loops
// ──────────────────────────────────────────────────

func (s *Scheduler) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sendHeartbeats()
		}
	}
}

func (s *Scheduler) sendHeartbeats() {
	s.activeMu.Lock()
	jobIDs := make([]string, 0, len(s.active))
	for jobID := range s.active {
		jobIDs = append(jobIDs, jobID)
	}
	s.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		jobID, err := id.ParseJobID(jobIDStr)
		if err != nil {
			s.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		if err := s.store.HeartbeatJob(context.Background(), jobID, s.workerID); err != nil {
			s.logger.Warn("heartbeat failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Scheduler) reaperLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.StaleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reapStaleJobs()
		}
	}
}

// reapStaleJobs returns running jobs with expired heartbeats to
// pending so another poll can pick them up. A crashed instance's work
// is recovered instead of stuck in running forever.
func (s *Scheduler) reapStaleJobs() {
	stale, err := s.store.ReapStaleJobs(context.Background(), s.cfg.StaleJobThreshold)
	if err != nil {
		s.logger.Error("reap stale jobs failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		j.Status = job.StatusPending
		j.ScheduledAt = time.Now().UTC()
		j.LeasedBy = id.WorkerID{}
		j.HeartbeatAt = nil
		j.StartedAt = nil

		if err := s.store.UpdateJob(context.Background(), j); err != nil {
			s.logger.Error("reap: failed to reset stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.logger.Info("reaped stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
		)
	}
}

// ──────────────────────────────────────────────────
// Active job tracking
// ──────────────────────────────────────────────────

func (s *Scheduler) activeCount() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return len(s.active)
}

func (s *Scheduler) trackJob(jobID string, cancel context.CancelFunc) {
	s.activeMu.Lock()
	s.active[jobID] = cancel
	s.activeMu.Unlock()
}

func (s *Scheduler) untrackJob(jobID string) {
	s.activeMu.Lock()
	delete(s.active, jobID)
	s.activeMu.Unlock()
}

func (s *Scheduler) cancelActiveJobs() {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	for jobID, cancel := range s.active {
		s.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
