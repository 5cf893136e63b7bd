package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/audit"
	"github.com/qualidade-ams/books-sonda-sub000/backoff"
	"github.com/qualidade-ams/books-sonda-sub000/dispatch"
	"github.com/qualidade-ams/books-sonda-sub000/ext"
	"github.com/qualidade-ams/books-sonda-sub000/id"
	"github.com/qualidade-ams/books-sonda-sub000/job"
	"github.com/qualidade-ams/books-sonda-sub000/lock"
	mw "github.com/qualidade-ams/books-sonda-sub000/middleware"
	"github.com/qualidade-ams/books-sonda-sub000/notify"
	"github.com/qualidade-ams/books-sonda-sub000/observability"
	"github.com/qualidade-ams/books-sonda-sub000/scheduler"
	"github.com/qualidade-ams/books-sonda-sub000/store"
)

// Engine composes the store, the job scheduler and the dispatch
// orchestrator behind a single lifecycle. Use New to create one.
type Engine struct {
	store        store.Store
	registry     *job.Registry
	extensions   *ext.Registry
	notifier     notify.Notifier
	orchestrator *dispatch.Orchestrator
	scheduler    *scheduler.Scheduler
	handlers     *scheduler.Handlers
	logger       *slog.Logger
	cfg          disparo.Config
}

type engineConfig struct {
	cfg             disparo.Config
	logger          *slog.Logger
	notifier        notify.Notifier
	locker          lock.Locker
	strategy        backoff.Strategy
	extensions      []ext.Extension
	mws             []mw.Middleware
	auditRecorder   audit.Recorder
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
	sendConcurrency int
	mailPerSecond   float64
	mailBurst       int
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithConfig replaces the default scheduler configuration.
func WithConfig(cfg disparo.Config) Option {
	return func(c *engineConfig) { c.cfg = cfg }
}

// WithConcurrency sets the maximum number of jobs executing at once.
func WithConcurrency(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.cfg.MaxConcurrentJobs = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithNotifier sets the alert notifier used for terminal job failures
// and dispatch runs with residual failures. Defaults to a slog-backed
// notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(c *engineConfig) { c.notifier = n }
}

// WithLocker sets the distributed lock used for poll leadership when
// several replicas share one store. Without a locker every replica
// polls; the store's claim query still hands each job to one worker.
func WithLocker(l lock.Locker) Option {
	return func(c *engineConfig) { c.locker = l }
}

// WithBackoff replaces the retry backoff strategy. Without it the
// strategy is exponential, built from the config's RetryInitialDelay
// and RetryMaxDelay.
func WithBackoff(s backoff.Strategy) Option {
	return func(c *engineConfig) { c.strategy = s }
}

// WithExtension registers a lifecycle extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(c *engineConfig) { c.extensions = append(c.extensions, e) }
}

// WithMiddleware appends middleware to the execution chain, after the
// built-in recover, tracing, metrics and logging layers.
func WithMiddleware(mws ...mw.Middleware) Option {
	return func(c *engineConfig) { c.mws = append(c.mws, mws...) }
}

// WithAuditRecorder enables the audit extension, recording job and
// dispatch lifecycle events through r.
func WithAuditRecorder(r audit.Recorder) Option {
	return func(c *engineConfig) { c.auditRecorder = r }
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses it instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *engineConfig) { c.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, both
// the metrics middleware and the observability extension use it
// instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *engineConfig) { c.meterProvider = mp }
}

// WithSendConcurrency sets how many recipients of one company are
// mailed in parallel during a dispatch run.
func WithSendConcurrency(n int) Option {
	return func(c *engineConfig) { c.sendConcurrency = n }
}

// WithMailRateLimit wraps the mailer with a token-bucket limiter so
// bulk dispatches respect the relay's sending quota.
func WithMailRateLimit(perSecond float64, burst int) Option {
	return func(c *engineConfig) {
		c.mailPerSecond = perSecond
		c.mailBurst = burst
	}
}

// New builds an Engine on top of a store backend, a template engine and
// a mail relay. Call Start to begin processing.
func New(
	st store.Store,
	templates dispatch.TemplateEngine,
	mailer dispatch.Mailer,
	opts ...Option,
) (*Engine, error) {
	if st == nil {
		return nil, disparo.ErrNoStore
	}
	if templates == nil {
		return nil, fmt.Errorf("engine: nil template engine")
	}
	if mailer == nil {
		return nil, fmt.Errorf("engine: nil mailer")
	}

	ec := &engineConfig{
		cfg: disparo.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(ec)
	}
	if ec.logger == nil {
		ec.logger = slog.Default()
	}
	if ec.notifier == nil {
		ec.notifier = notify.NewLogNotifier(ec.logger)
	}

	extensions := ext.NewRegistry(ec.logger)

	var obsExt *observability.MetricsExtension
	if ec.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			ec.meterProvider.Meter("github.com/qualidade-ams/books-sonda-sub000/observability"),
		)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	extensions.Register(obsExt)

	if ec.auditRecorder != nil {
		extensions.Register(audit.New(ec.auditRecorder, audit.WithLogger(ec.logger)))
	}
	for _, e := range ec.extensions {
		extensions.Register(e)
	}

	var tracingMw mw.Middleware
	if ec.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(ec.tracerProvider.Tracer("github.com/qualidade-ams/books-sonda-sub000"))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if ec.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(ec.meterProvider.Meter("github.com/qualidade-ams/books-sonda-sub000"))
	} else {
		metricsMw = mw.Metrics()
	}
	mws := append([]mw.Middleware{tracingMw, metricsMw}, ec.mws...)

	if ec.mailPerSecond > 0 {
		mailer = dispatch.NewRateLimitedMailer(mailer, ec.mailPerSecond, ec.mailBurst)
	}

	orchOpts := []dispatch.Option{dispatch.WithLogger(ec.logger)}
	if ec.sendConcurrency > 0 {
		orchOpts = append(orchOpts, dispatch.WithSendConcurrency(ec.sendConcurrency))
	}
	orchestrator := dispatch.NewOrchestrator(st, st, st, templates, mailer, orchOpts...)

	registry := job.NewRegistry()

	schedOpts := []scheduler.Option{
		scheduler.WithConfig(ec.cfg),
		scheduler.WithNotifier(ec.notifier),
		scheduler.WithMiddleware(mws...),
	}
	if ec.strategy != nil {
		schedOpts = append(schedOpts, scheduler.WithBackoff(ec.strategy))
	}
	if ec.locker != nil {
		schedOpts = append(schedOpts, scheduler.WithLocker(ec.locker))
	}
	sched := scheduler.New(st, registry, extensions, ec.logger, schedOpts...)

	handlers := scheduler.NewHandlers(sched, orchestrator, ec.notifier, ec.logger)
	handlers.Register(registry)

	return &Engine{
		store:        st,
		registry:     registry,
		extensions:   extensions,
		notifier:     ec.notifier,
		orchestrator: orchestrator,
		scheduler:    sched,
		handlers:     handlers,
		logger:       ec.logger,
		cfg:          ec.cfg,
	}, nil
}

// Register registers an additional typed job definition with the
// engine. The built-in dispatch and cleanup handlers are registered by
// New.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Start begins job processing: the scheduler starts polling for due
// jobs and the recurring cleanup job is armed.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.scheduler.Start(ctx)
}

// Stop gracefully shuts down the engine, waiting up to the configured
// shutdown timeout for in-flight jobs to drain.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.scheduler.Stop(ctx)
}

// ScheduleMonthlyDispatch enqueues a monthly dispatch job. A zero
// payload period means the period current at execution time.
func (eng *Engine) ScheduleMonthlyDispatch(ctx context.Context, payload job.MonthlyDispatchPayload, opts ...job.Option) (*job.Job, error) {
	return eng.scheduler.ScheduleMonthlyDispatch(ctx, payload, opts...)
}

// EnqueueJob marshals payload and enqueues a job of the given type.
func (eng *Engine) EnqueueJob(ctx context.Context, t job.Type, payload any, opts ...job.Option) (*job.Job, error) {
	return eng.scheduler.EnqueueJob(ctx, t, payload, opts...)
}

// CancelJob cancels a pending or failed job.
func (eng *Engine) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.scheduler.CancelJob(ctx, jobID)
}

// JobStatus returns the current state of a job.
func (eng *Engine) JobStatus(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.scheduler.GetJobStatus(ctx, jobID)
}

// ListJobs returns jobs matching opts, newest first.
func (eng *Engine) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.scheduler.ListJobs(ctx, opts)
}

// JobStatistics returns aggregate job counts.
func (eng *Engine) JobStatistics(ctx context.Context) (*job.Stats, error) {
	return eng.scheduler.GetJobStatistics(ctx)
}

// DispatchNow runs a dispatch synchronously, outside the job queue.
// With empresaIDs it runs selectively (force resends already-sent
// companies); without, it runs the full active roster.
func (eng *Engine) DispatchNow(ctx context.Context, period dispatch.Period, empresaIDs []string, force bool) (*dispatch.Summary, error) {
	var (
		summary *dispatch.Summary
		err     error
	)
	if len(empresaIDs) > 0 {
		summary, err = eng.orchestrator.RunSelective(ctx, period, empresaIDs, force)
	} else {
		summary, err = eng.orchestrator.RunFull(ctx, period)
	}
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitDispatchCompleted(ctx, period, summary)
	return summary, nil
}

// RetryFailedNow synchronously reprocesses the companies whose control
// for the period is marked failed.
func (eng *Engine) RetryFailedNow(ctx context.Context, period dispatch.Period) (*dispatch.Summary, error) {
	summary, err := eng.orchestrator.RunFailed(ctx, period)
	if err != nil {
		return nil, err
	}
	if summary.Total > 0 {
		eng.extensions.EmitDispatchCompleted(ctx, period, summary)
	}
	return summary, nil
}

// ScheduleDeferredDispatch records a deferred send for the listed
// companies and enqueues a monthly dispatch job at sendAt to perform
// it.
func (eng *Engine) ScheduleDeferredDispatch(ctx context.Context, period dispatch.Period, empresaIDs []string, sendAt time.Time) (*dispatch.Summary, error) {
	summary, err := eng.orchestrator.ScheduleDeferred(ctx, period, empresaIDs, sendAt)
	if err != nil {
		return nil, err
	}
	payload := job.MonthlyDispatchPayload{
		Mes:        period.Mes,
		Ano:        period.Ano,
		EmpresaIDs: empresaIDs,
		Force:      true,
	}
	if _, err := eng.scheduler.ScheduleMonthlyDispatch(ctx, payload, job.WithScheduledAt(sendAt)); err != nil {
		return nil, fmt.Errorf("engine: schedule deferred dispatch job: %w", err)
	}
	return summary, nil
}

// DispatchHistory returns a company's dispatch history, newest first.
// A non-positive limit returns all rows.
func (eng *Engine) DispatchHistory(ctx context.Context, empresaID string, limit int) ([]*dispatch.HistoryEntry, error) {
	return eng.store.ListHistory(ctx, empresaID, limit)
}

// ControlPanel returns the per-company controls for a period with the
// given status.
func (eng *Engine) ControlPanel(ctx context.Context, period dispatch.Period, status dispatch.ControlStatus) ([]*dispatch.Control, error) {
	return eng.store.ListControlsByStatus(ctx, period, status)
}

// Scheduler returns the job scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.scheduler }

// Orchestrator returns the dispatch orchestrator.
func (eng *Engine) Orchestrator() *dispatch.Orchestrator { return eng.orchestrator }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }
