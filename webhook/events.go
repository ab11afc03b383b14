package webhook

// Orchestrator lifecycle event types. Each constant maps to one ext
// lifecycle hook and is used as the Delivery.Type when sending.
const (
	EventRunStarted    = "orchestration.run.started"
	EventRunSuspended  = "orchestration.run.suspended"
	EventRunResumed    = "orchestration.run.resumed"
	EventRunCompleted  = "orchestration.run.completed"
	EventRunFailed     = "orchestration.run.failed"
	EventStepCompleted = "orchestration.step.completed"
	EventStepRetried   = "orchestration.step.retried"
	EventStepFailed    = "orchestration.step.failed"
	EventHookCreated   = "orchestration.hook.created"
	EventHookResolved  = "orchestration.hook.resolved"
	EventHookExpired   = "orchestration.hook.expired"
	EventScheduleFired = "orchestration.schedule.fired"
)

// Definition describes one webhook event type for consumer-facing
// catalogs and docs pages.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Group       string `json:"group"`
	Version     string `json:"version"`
}

// AllDefinitions returns definitions for every lifecycle event type.
func AllDefinitions() []Definition {
	return []Definition{
		// ── Run events ──────────────────────────────────
		{
			Name:        EventRunStarted,
			Description: "Fired when a workflow run begins execution.",
			Group:       "runs",
			Version:     "2025-01-01",
		},
		{
			Name:        EventRunSuspended,
			Description: "Fired when a run parks on a hook or timer.",
			Group:       "runs",
			Version:     "2025-01-01",
		},
		{
			Name:        EventRunResumed,
			Description: "Fired when a suspended run is woken for replay.",
			Group:       "runs",
			Version:     "2025-01-01",
		},
		{
			Name:        EventRunCompleted,
			Description: "Fired when a workflow run finishes successfully.",
			Group:       "runs",
			Version:     "2025-01-01",
		},
		{
			Name:        EventRunFailed,
			Description: "Fired when a workflow run fails terminally.",
			Group:       "runs",
			Version:     "2025-01-01",
		},
		// ── Step events ─────────────────────────────────
		{
			Name:        EventStepCompleted,
			Description: "Fired after a step completes and its checkpoint is saved.",
			Group:       "steps",
			Version:     "2025-01-01",
		},
		{
			Name:        EventStepRetried,
			Description: "Fired when a step fails but will be attempted again.",
			Group:       "steps",
			Version:     "2025-01-01",
		},
		{
			Name:        EventStepFailed,
			Description: "Fired when a step exhausts its retry budget.",
			Group:       "steps",
			Version:     "2025-01-01",
		},
		// ── Hook events ─────────────────────────────────
		{
			Name:        EventHookCreated,
			Description: "Fired when a run creates a callback hook and suspends.",
			Group:       "hooks",
			Version:     "2025-01-01",
		},
		{
			Name:        EventHookResolved,
			Description: "Fired when a hook token is resolved with a payload.",
			Group:       "hooks",
			Version:     "2025-01-01",
		},
		{
			Name:        EventHookExpired,
			Description: "Fired when a hook passes its deadline unresolved.",
			Group:       "hooks",
			Version:     "2025-01-01",
		},
		// ── Schedule events ─────────────────────────────
		{
			Name:        EventScheduleFired,
			Description: "Fired when a cron schedule starts a new run.",
			Group:       "schedules",
			Version:     "2025-01-01",
		},
	}
}
