// Package store defines the aggregate persistence interface. Each subsystem
// (ledger, trigger, branch) defines its own store interface; the composite
// Store composes them all. Backends: Postgres, Bun, Redis, and Memory.
package store

import (
	"context"

	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/ledger"
	"github.com/oryxerp/branchrun/trigger"
)

// Store is the aggregate persistence interface. A single backend implements
// all subsystem stores. The distributed lock contract (lock.Locker) is
// defined separately so a deployment can keep run state in the database and
// locks in a cache server; every backend here also implements lock.Locker
// for single-backend deployments.
type Store interface {
	ledger.Store
	trigger.Store
	branch.Directory

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
