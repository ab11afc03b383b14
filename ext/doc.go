// Package ext defines the extension system for the orchestrator.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
//	    log.Printf("run %s completed in %s", r.ID, elapsed)
//	    return nil
//	}
//
// # Run Lifecycle Hooks
//
//   - [RunStarted] — a workflow run began executing
//   - [RunSuspended] — the run parked on a hook or durable sleep
//   - [RunResumed] — a suspended run was woken for re-execution
//   - [RunCompleted] — the run finished successfully
//   - [RunFailed] — the run failed terminally
//
// # Step Lifecycle Hooks
//
//   - [StepCompleted] — a step committed its checkpoint
//   - [StepRetried] — a step attempt failed and another is scheduled
//   - [StepFailed] — a step failed with no attempts remaining
//
// # Hook (Approval Gate) Lifecycle Hooks
//
//   - [HookCreated] — a run created a pending hook
//   - [HookResolved] — the hook was resolved by a caller
//   - [HookExpired] — the hook passed its deadline unresolved
//
// # Other Hooks
//
//   - [ScheduleFired] — a cron schedule fired and started a run
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. The registry itself
// satisfies workflow.RunEmitter and cron.Emitter, so the engine hands
// it straight to the runner and scheduler.
package ext
