// Package stream provides a real-time event broker for orchestrator
// lifecycle events. It bridges the ext.Extension system to connected
// clients via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Run events.
	EventRunStarted   EventType = "run.started"
	EventRunSuspended EventType = "run.suspended"
	EventRunResumed   EventType = "run.resumed"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"

	// Step events.
	EventStepCompleted EventType = "step.completed"
	EventStepRetried   EventType = "step.retried"
	EventStepFailed    EventType = "step.failed"

	// Hook events.
	EventHookCreated  EventType = "hook.created"
	EventHookResolved EventType = "hook.resolved"
	EventHookExpired  EventType = "hook.expired"

	// Schedule events.
	EventScheduleFired EventType = "schedule.fired"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// RunEventData is the payload for run and step lifecycle events.
type RunEventData struct {
	RunID      string `json:"run_id"`
	Name       string `json:"name"`
	Status     string `json:"status,omitempty"`
	StepName   string `json:"step_name,omitempty"`
	ScopeAppID string `json:"scope_app_id,omitempty"`
	ScopeOrgID string `json:"scope_org_id,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	DelayMs    int64  `json:"delay_ms,omitempty"`
}

// HookEventData is the payload for hook lifecycle events.
type HookEventData struct {
	RunID      string `json:"run_id"`
	Name       string `json:"name"`
	HookName   string `json:"hook_name"`
	Token      string `json:"token"`
	Kind       string `json:"kind,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

// ScheduleEventData is the payload for schedule lifecycle events.
type ScheduleEventData struct {
	ScheduleName string `json:"schedule_name"`
	RunID        string `json:"run_id"`
}
