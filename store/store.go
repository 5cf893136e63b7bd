// Package store defines the aggregate persistence interface. Each
// subsystem (job, dispatch control, dispatch history, company
// directory) defines its own store interface; the composite Store
// composes them all. Backends: Postgres and Memory.
package store

import (
	"context"

	"github.com/qualidade-ams/books-sonda-sub000/dispatch"
	"github.com/qualidade-ams/books-sonda-sub000/job"
)

// Store is the aggregate persistence interface. A single backend
// implements every subsystem's persistence contract.
type Store interface {
	job.Store
	dispatch.ControlStore
	dispatch.HistoryStore
	dispatch.CompanyDirectory

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
