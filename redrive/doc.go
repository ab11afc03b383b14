// Package redrive handles runs that have failed terminally. A run whose
// step exhausted its retry budget, or that hit a fatal error, is parked
// in failed state with its error and full checkpoint history preserved
// for debugging. Nothing retries it automatically; an operator inspects
// it and decides.
//
// # Service
//
// [Service] wraps the stores with operator-level operations:
//
//	svc := redrive.NewService(runner, logger)
//
//	// What failed, newest first.
//	runs, _ := svc.ListFailed(ctx, 50, 0)
//
//	// Why it failed: run, checkpoints, hooks in one report.
//	report, _ := svc.Inspect(ctx, runID)
//
//	// Try again from scratch as a fresh run. The failed run stays
//	// untouched for audit.
//	fresh, _ := svc.Redrive(ctx, runID)
//
// # Retention
//
// [Service.Sweep] expires pending hooks whose deadline has passed and
// purges terminal runs, hooks, and events older than the retention
// window. [Janitor] runs sweeps on an interval; the engine starts one
// per process. Sweeps are idempotent, so overlapping sweeps from
// multiple workers only cost wasted work.
package redrive
