// Package sqlite implements the orchestrator store on SQLite via
// modernc.org/sqlite, a pure-Go driver with no cgo. Timestamps are
// stored as fixed-width UTC text so string comparison is chronological
// comparison, which keeps the dequeue and retention queries index-only.
//
// SQLite serializes writers, so the single-statement claim UPDATE is
// atomic without SKIP LOCKED. Suited to single-node deployments,
// development, and tests; use the postgres store for clusters.
package sqlite
