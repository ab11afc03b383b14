// Package store defines the aggregate persistence interface. Each subsystem
// (workflow, hook, event, cron, cluster) defines its own store interface.
// The composite Store composes them all. Backends: Postgres, Bun, SQLite,
// Redis, Mongo, and Memory.
package store

import (
	"context"

	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, bun, sqlite, etc.) implements all of them.
type Store interface {
	workflow.Store
	hook.Store
	event.Store
	cron.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
