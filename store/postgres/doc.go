// Package postgres implements the orchestrator store on PostgreSQL
// using pgx/v5. Dequeue uses FOR UPDATE SKIP LOCKED so concurrent
// workers never claim the same run; hook resolution and leader
// election are single-statement compare-and-swaps.
package postgres
