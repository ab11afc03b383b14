package webhook

import (
	"context"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/ext"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Extension)(nil)
	_ ext.RunStarted    = (*Extension)(nil)
	_ ext.RunSuspended  = (*Extension)(nil)
	_ ext.RunResumed    = (*Extension)(nil)
	_ ext.RunCompleted  = (*Extension)(nil)
	_ ext.RunFailed     = (*Extension)(nil)
	_ ext.StepCompleted = (*Extension)(nil)
	_ ext.StepRetried   = (*Extension)(nil)
	_ ext.StepFailed    = (*Extension)(nil)
	_ ext.HookCreated   = (*Extension)(nil)
	_ ext.HookResolved  = (*Extension)(nil)
	_ ext.HookExpired   = (*Extension)(nil)
	_ ext.ScheduleFired = (*Extension)(nil)
)

// Delivery is one outbound webhook event.
type Delivery struct {
	// Type is the event type, e.g. "orchestration.run.completed".
	Type string `json:"type"`
	// TenantID scopes the delivery for multi-tenant consumers.
	TenantID string `json:"tenant_id,omitempty"`
	// Data is the event payload, serialized to JSON on the wire.
	Data any `json:"data"`
}

// Deliverer sends webhook deliveries. Implementations decide transport,
// signing, and retry policy; see [HTTPDeliverer].
type Deliverer interface {
	Deliver(ctx context.Context, d *Delivery) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, d *Delivery) error

func (f DelivererFunc) Deliver(ctx context.Context, d *Delivery) error { return f(ctx, d) }

// Extension bridges orchestrator lifecycle events to a Deliverer. Each
// lifecycle hook emits one typed delivery.
type Extension struct {
	deliverer Deliverer
	enabled   map[string]bool        // nil = all enabled
	payloads  map[string]PayloadFunc // custom payload builders
}

// New creates an Extension that emits lifecycle events through d.
func New(d Deliverer, opts ...Option) *Extension {
	e := &Extension{deliverer: d}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "webhook" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (e *Extension) OnRunStarted(ctx context.Context, r *workflow.Run) error {
	return e.send(ctx, EventRunStarted, r.ScopeOrgID, newRunPayload(r))
}

// OnRunSuspended implements ext.RunSuspended.
func (e *Extension) OnRunSuspended(ctx context.Context, r *workflow.Run) error {
	return e.send(ctx, EventRunSuspended, r.ScopeOrgID, newRunPayload(r))
}

// OnRunResumed implements ext.RunResumed.
func (e *Extension) OnRunResumed(ctx context.Context, r *workflow.Run) error {
	return e.send(ctx, EventRunResumed, r.ScopeOrgID, newRunPayload(r))
}

// OnRunCompleted implements ext.RunCompleted.
func (e *Extension) OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	return e.send(ctx, EventRunCompleted, r.ScopeOrgID, &runCompletedPayload{
		runPayload: *newRunPayload(r),
		ElapsedMs:  elapsed.Milliseconds(),
	})
}

// OnRunFailed implements ext.RunFailed.
func (e *Extension) OnRunFailed(ctx context.Context, r *workflow.Run, runErr error) error {
	return e.send(ctx, EventRunFailed, r.ScopeOrgID, &runFailedPayload{
		runPayload: *newRunPayload(r),
		Error:      runErr.Error(),
	})
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (e *Extension) OnStepCompleted(ctx context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error {
	return e.send(ctx, EventStepCompleted, r.ScopeOrgID, &stepPayload{
		runPayload: *newRunPayload(r),
		StepName:   stepName,
		ElapsedMs:  elapsed.Milliseconds(),
	})
}

// OnStepRetried implements ext.StepRetried.
func (e *Extension) OnStepRetried(ctx context.Context, r *workflow.Run, stepName string, attempt int, delay time.Duration) error {
	return e.send(ctx, EventStepRetried, r.ScopeOrgID, &stepRetriedPayload{
		runPayload: *newRunPayload(r),
		StepName:   stepName,
		Attempt:    attempt,
		DelayMs:    delay.Milliseconds(),
	})
}

// OnStepFailed implements ext.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, r *workflow.Run, stepName string, stepErr error) error {
	return e.send(ctx, EventStepFailed, r.ScopeOrgID, &stepPayload{
		runPayload: *newRunPayload(r),
		StepName:   stepName,
		Error:      stepErr.Error(),
	})
}

// ── Hook lifecycle hooks ────────────────────────────

// OnHookCreated implements ext.HookCreated.
func (e *Extension) OnHookCreated(ctx context.Context, r *workflow.Run, h *hook.Hook) error {
	return e.send(ctx, EventHookCreated, r.ScopeOrgID, &hookPayload{
		runPayload: *newRunPayload(r),
		HookName:   h.Name,
		Token:      h.Token(),
		Kind:       h.Kind,
		ExpiresAt:  h.ExpiresAt.Format(time.RFC3339),
	})
}

// OnHookResolved implements ext.HookResolved.
func (e *Extension) OnHookResolved(ctx context.Context, r *workflow.Run, h *hook.Hook) error {
	return e.send(ctx, EventHookResolved, r.ScopeOrgID, &hookPayload{
		runPayload: *newRunPayload(r),
		HookName:   h.Name,
		Token:      h.Token(),
		Kind:       h.Kind,
		ResolvedBy: h.ResolvedBy,
	})
}

// OnHookExpired implements ext.HookExpired.
func (e *Extension) OnHookExpired(ctx context.Context, r *workflow.Run, h *hook.Hook) error {
	return e.send(ctx, EventHookExpired, r.ScopeOrgID, &hookPayload{
		runPayload: *newRunPayload(r),
		HookName:   h.Name,
		Token:      h.Token(),
		Kind:       h.Kind,
	})
}

// ── Schedule lifecycle hooks ────────────────────────

// OnScheduleFired implements ext.ScheduleFired.
func (e *Extension) OnScheduleFired(ctx context.Context, scheduleName string, runID id.RunID) error {
	return e.send(ctx, EventScheduleFired, "", &schedulePayload{
		ScheduleName: scheduleName,
		RunID:        runID.String(),
	})
}

// ── Internal helpers ────────────────────────────────

// send emits a delivery if the event type is enabled. A PayloadFunc
// registered for the type replaces the default payload.
func (e *Extension) send(ctx context.Context, eventType, tenantID string, defaultData any) error {
	if e.enabled != nil && !e.enabled[eventType] {
		return nil
	}

	data := defaultData
	if fn, ok := e.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			return err
		}
		data = custom
	}

	return e.deliverer.Deliver(ctx, &Delivery{
		Type:     eventType,
		TenantID: tenantID,
		Data:     data,
	})
}

// ── Default payload types ───────────────────────────

type runPayload struct {
	RunID      string `json:"run_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	ScopeAppID string `json:"scope_app_id,omitempty"`
	ScopeOrgID string `json:"scope_org_id,omitempty"`
}

func newRunPayload(r *workflow.Run) *runPayload {
	return &runPayload{
		RunID:      r.ID.String(),
		Name:       r.Name,
		Status:     string(r.Status),
		ScopeAppID: r.ScopeAppID,
		ScopeOrgID: r.ScopeOrgID,
	}
}

type runCompletedPayload struct {
	runPayload
	ElapsedMs int64 `json:"elapsed_ms"`
}

type runFailedPayload struct {
	runPayload
	Error string `json:"error"`
}

type stepPayload struct {
	runPayload
	StepName  string `json:"step_name"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

type stepRetriedPayload struct {
	runPayload
	StepName string `json:"step_name"`
	Attempt  int    `json:"attempt"`
	DelayMs  int64  `json:"delay_ms"`
}

type hookPayload struct {
	runPayload
	HookName   string `json:"hook_name"`
	Token      string `json:"token"`
	Kind       string `json:"kind"`
	ResolvedBy string `json:"resolved_by,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

type schedulePayload struct {
	ScheduleName string `json:"schedule_name"`
	RunID        string `json:"run_id"`
}
