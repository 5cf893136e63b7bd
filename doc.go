// Package disparo provides the background job scheduler and monthly
// dispatch orchestrator for books-sonda: a persisted job queue, a polling
// scheduler with bounded concurrency and exponential-backoff retry, and a
// batch process that sends the periodic report to companies and their
// recipients with idempotency and partial-failure isolation.
//
// Disparo is designed as a library, not a service. The host application
// configures a store, constructs an engine and starts it:
//
//	eng, err := engine.New(pgStore, templates, mailer,
//	    engine.WithNotifier(notifier),
//	    engine.WithConcurrency(3),
//	)
//	if err != nil { ... }
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
//
// # Architecture
//
// Each subsystem (job, dispatch) defines its own store interface and a
// single backend implements all of them. The engine package sits above
// the subsystem packages and wires them together; this root package holds
// only what every subsystem shares: Entity, Config and sentinel errors.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package disparo
