// Package postgres provides the PostgreSQL store backend using pgx/v5.
//
// Job claims use SELECT FOR UPDATE SKIP LOCKED so concurrent scheduler
// instances never execute the same job. Dispatch control transitions
// are conditional UPDATEs keyed on the previously observed status, so
// two simultaneous runs of the same period resolve to first transition
// wins. History rows are insert-only.
//
// Schema migrations are embedded SQL files applied in filename order
// and tracked in the disparo_migrations table.
package postgres
