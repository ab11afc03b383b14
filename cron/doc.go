// Package cron provides distributed schedules with leader election
// and per-tenant support.
//
// Schedules are stored in the database and fired only by the cluster
// leader. This guarantees at-most-once firing even when multiple
// orchestrator instances are running.
//
// # Schedule
//
// A [Schedule] represents a recurring workflow trigger:
//   - Expr: standard cron expression (e.g., "0 9 * * 1-5")
//   - Workflow: the registered workflow definition to start when fired
//   - Input: static JSON input passed to every triggered run
//   - ScopeAppID / ScopeOrgID: tenant scoping
//   - Enabled: whether the schedule fires
//   - LockedBy / LockedUntil: distributed lock fields (managed internally)
//
// # Registering a Schedule
//
// Use engine.RegisterSchedule to add a schedule at startup:
//
//	engine.RegisterSchedule(ctx, eng, "daily-report", "0 9 * * *",
//	    GenerateReport, ReportInput{Format: "pdf"})
//
// # Enable / Disable
//
// Schedules can be enabled or disabled at runtime via the admin API
// (POST /v1/schedules/:scheduleId/enable and POST /v1/schedules/:scheduleId/disable).
//
// # Scheduler
//
// The [Scheduler] evaluates due schedules on every tick, acquires a
// distributed lock on each, starts the corresponding workflow run, and
// updates LastRunAt and NextRunAt. The [ext.ScheduleFired] extension hook
// fires after each start.
package cron
