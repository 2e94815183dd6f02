// Package store defines the aggregate persistence interface. The job
// and dlq subsystems each define their own store interface; the
// composite Store composes them. Backends: Postgres, SQLite, Redis,
// MongoDB, and Memory.
package store

import (
	"context"

	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/job"
)

// Store is the aggregate persistence interface. A single backend
// implements all subsystem contracts plus lifecycle.
type Store interface {
	job.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
