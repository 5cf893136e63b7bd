// Package engine wires all disparo subsystems together and provides
// the primary application-level API: the polling job scheduler, the
// dispatch orchestrator, the extension registry and the middleware
// chain, all behind a single Start/Stop lifecycle.
//
// The engine package exists to break a fundamental import cycle: the
// root disparo package defines Entity and Config (imported by job,
// dispatch, scheduler, etc.) and therefore cannot import those packages
// back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	st, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
//	if err != nil { ... }
//
//	eng, err := engine.New(st, templates, mailer,
//	    engine.WithNotifier(slackNotifier),
//	    engine.WithConcurrency(3),
//	    engine.WithLocker(lock.NewRedis(redisClient)),
//	    engine.WithMailRateLimit(10, 5),
//	)
//	if err != nil { ... }
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
// New registers the built-in job handlers (monthly dispatch, failed
// retry, data cleanup) and Start arms the recurring cleanup job.
//
// # Dispatching
//
//	// Queue the next monthly run.
//	eng.ScheduleMonthlyDispatch(ctx, job.MonthlyDispatchPayload{})
//
//	// Run synchronously for selected companies, resending if needed.
//	summary, err := eng.DispatchNow(ctx, period, []string{"emp-1"}, true)
//
//	// Record a deferred send and queue the job that performs it.
//	eng.ScheduleDeferredDispatch(ctx, period, ids, sendAt)
//
// # Options
//
//   - [WithConfig] — replace the full scheduler configuration
//   - [WithConcurrency] — cap simultaneous job executions
//   - [WithNotifier] — route failure alerts
//   - [WithLocker] — poll leadership for multi-replica deployments
//   - [WithBackoff] — set the retry backoff strategy
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — extend the execution chain
//   - [WithAuditRecorder] — record lifecycle events for auditing
//   - [WithTracerProvider], [WithMeterProvider] — OpenTelemetry wiring
//   - [WithSendConcurrency], [WithMailRateLimit] — mail delivery tuning
package engine
