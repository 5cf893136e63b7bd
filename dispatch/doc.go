// Package dispatch implements the monthly report dispatch orchestrator:
// for a billing period and a target set of companies it resolves
// recipients, renders and sends the report e-mail, and records
// per-company control state and per-recipient history.
//
// # Control and History
//
// A [Control] is the idempotency anchor: one record per (period,
// company), upserted on every processing attempt. Once its status is
// "enviado" a non-forced run skips the company. A [HistoryEntry] is the
// audit trail: one append-only row per send attempt per recipient;
// retries and resends add rows, never mutate prior ones.
//
// # Entry Points
//
// [Orchestrator.RunFull] targets all active companies,
// [Orchestrator.RunSelective] an explicit id list (optionally forcing a
// resend), and [Orchestrator.RunFailed] only companies whose control is
// marked "falhou". All three share one per-company algorithm with
// continue-on-error isolation: one company's failure never stops the
// rest of the batch.
//
// Per-recipient sends within one company run through a bounded worker
// pool; concurrency never spans companies inside one run.
//
// The summary's Total includes companies skipped as already sent, which
// are excluded from Succeeded/Failed. Downstream reporting depends on
// this; do not change it.
package dispatch
