package audit

// Audit event actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the emitted event.
const (
	ActionRunStarted    = "run.started"
	ActionRunSuspended  = "run.suspended"
	ActionRunResumed    = "run.resumed"
	ActionRunCompleted  = "run.completed"
	ActionRunFailed     = "run.failed"
	ActionStepCompleted = "step.completed"
	ActionStepRetried   = "step.retried"
	ActionStepFailed    = "step.failed"
	ActionHookCreated   = "hook.created"
	ActionHookResolved  = "hook.resolved"
	ActionHookExpired   = "hook.expired"
	ActionScheduleFired = "schedule.fired"
)

// Audit event categories group related actions.
const (
	CategoryRun      = "orchestration.run"
	CategoryStep     = "orchestration.step"
	CategoryHook     = "orchestration.hook"
	CategorySchedule = "orchestration.schedule"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceRun      = "workflow_run"
	ResourceHook     = "hook"
	ResourceSchedule = "schedule"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRunStarted,
		ActionRunSuspended,
		ActionRunResumed,
		ActionRunCompleted,
		ActionRunFailed,
		ActionStepCompleted,
		ActionStepRetried,
		ActionStepFailed,
		ActionHookCreated,
		ActionHookResolved,
		ActionHookExpired,
		ActionScheduleFired,
	}
}
