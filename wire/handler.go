package wire

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/scope"
	"github.com/bcorn-cely/Agent-Orchestration/stream"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Handler dispatches wire frames to runner operations.
type Handler struct {
	runner    *workflow.Runner
	broker    *stream.Broker
	schedules cron.Store // optional; schedule methods 405 when nil
	logger    *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithScheduleStore enables the schedule.* methods.
func WithScheduleStore(s cron.Store) HandlerOption {
	return func(h *Handler) { h.schedules = s }
}

// NewHandler creates a new wire method handler.
func NewHandler(runner *workflow.Runner, broker *stream.Broker, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{runner: runner, broker: broker, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes a single request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	// Inject scope from connection identity.
	if conn.Identity != nil {
		ctx = scope.Restore(ctx, conn.Identity.AppID, conn.Identity.OrgID)
	}

	switch frame.Method {
	case MethodRunStart:
		return h.handleRunStart(ctx, frame)
	case MethodRunGet:
		return h.handleRunGet(ctx, frame)
	case MethodRunList:
		return h.handleRunList(ctx, frame)
	case MethodRunTimeline:
		return h.handleRunTimeline(ctx, frame)
	case MethodRunReplay:
		return h.handleRunReplay(ctx, frame)
	case MethodRunRetrigger:
		return h.handleRunRetrigger(ctx, frame)
	case MethodHookResume:
		return h.handleHookResume(ctx, frame)
	case MethodScheduleList:
		return h.handleScheduleList(ctx, frame)
	case MethodScheduleCreate:
		return h.handleScheduleCreate(ctx, frame)
	case MethodSubscribe:
		return h.handleSubscribe(frame)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame)
	case MethodStats:
		return h.handleStats(frame)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

// errorFrame maps a runner error to a wire error frame. Not-found
// sentinels become 404, conflict sentinels 409, everything else 500.
func errorFrame(frameID string, err error) *Frame {
	switch {
	case errors.Is(err, orchestration.ErrRunNotFound),
		errors.Is(err, orchestration.ErrWorkflowNotFound),
		errors.Is(err, orchestration.ErrHookNotFound),
		errors.Is(err, orchestration.ErrHookExpired),
		errors.Is(err, orchestration.ErrScheduleNotFound):
		return NewErrorFrame(frameID, ErrCodeNotFound, err.Error())
	case errors.Is(err, orchestration.ErrRunNotResumable),
		errors.Is(err, orchestration.ErrHookResolved),
		errors.Is(err, orchestration.ErrDuplicateSchedule):
		return NewErrorFrame(frameID, ErrCodeConflict, err.Error())
	default:
		return NewErrorFrame(frameID, ErrCodeInternal, err.Error())
	}
}

func (h *Handler) handleRunStart(ctx context.Context, frame *Frame) *Frame {
	var req RunStartRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	run, err := h.runner.StartRaw(ctx, req.Name, req.Input)
	if err != nil {
		return errorFrame(frame.ID, err)
	}

	return mustResponseFrame(frame.ID, RunStartResponse{
		RunID:  run.ID.String(),
		Name:   run.Name,
		Status: string(run.Status),
	})
}

func (h *Handler) handleRunGet(ctx context.Context, frame *Frame) *Frame {
	var req RunGetRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	runID, err := id.ParseRunID(req.RunID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid run ID: "+err.Error())
	}

	run, err := h.runner.Store().GetRun(ctx, runID)
	if err != nil {
		return errorFrame(frame.ID, err)
	}

	return mustResponseFrame(frame.ID, run)
}

func (h *Handler) handleRunList(ctx context.Context, frame *Frame) *Frame {
	var req RunListRequest
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
		}
	}

	runs, err := h.runner.Store().ListRuns(ctx, workflow.ListOpts{
		Status: workflow.Status(req.Status),
		Name:   req.Name,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return errorFrame(frame.ID, err)
	}

	return mustResponseFrame(frame.ID, runs)
}

func (h *Handler) handleRunTimeline(ctx context.Context, frame *Frame) *Frame {
	var req RunTimelineRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	runID, err := id.ParseRunID(req.RunID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid run ID: "+err.Error())
	}

	timeline, err := h.runner.Timeline(ctx, runID)
	if err != nil {
		return errorFrame(frame.ID, err)
	}

	return mustResponseFrame(frame.ID, timeline)
}

func (h *Handler) handleRunReplay(ctx context.Context, frame *Frame) *Frame {
	var req RunReplayRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	runID, err := id.ParseRunID(req.RunID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid run ID: "+err.Error())
	}
	if req.FromStep == "" {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "from_step required")
	}

	run, err := h.runner.ReplayFrom(ctx, runID, req.FromStep)
	if err != nil {
		return errorFrame(frame.ID, err)
	}

	return mustResponseFrame(frame.ID, RunStartResponse{
		RunID:  run.ID.String(),
		Name:   run.Name,
		Status: string(run.Status),
	})
}

func (h *Handler) handleRunRetrigger(ctx context.Context, frame *Frame) *Frame {
	var req RunRetriggerRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	runID, err := id.ParseRunID(req.RunID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid run ID: "+err.Error())
	}

	fresh, err := h.runner.Retrigger(ctx, runID)
	if err != nil {
		return errorFrame(frame.ID, err)
	}

	return mustResponseFrame(frame.ID, RunStartResponse{
		RunID:  fresh.ID.String(),
		Name:   fresh.Name,
		Status: string(fresh.Status),
	})
}

func (h *Handler) handleHookResume(ctx context.Context, frame *Frame) *Frame {
	var req HookResumeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	if req.Token == "" {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "token required")
	}

	run, err := h.runner.ResumeHook(ctx, req.Token, req.Payload, req.By)
	if err != nil {
		if errors.Is(err, orchestration.ErrHookNotFound) {
			return NewErrorFrame(frame.ID, ErrCodeNotFound, err.Error())
		}
		// Schema violations and malformed payloads are the caller's fault.
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	return mustResponseFrame(frame.ID, HookResumeResponse{
		OK:    true,
		RunID: run.ID.String(),
	})
}

func (h *Handler) handleScheduleList(ctx context.Context, frame *Frame) *Frame {
	if h.schedules == nil {
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "schedules not enabled")
	}

	schedules, err := h.schedules.ListSchedules(ctx)
	if err != nil {
		return errorFrame(frame.ID, err)
	}

	return mustResponseFrame(frame.ID, schedules)
}

func (h *Handler) handleScheduleCreate(ctx context.Context, frame *Frame) *Frame {
	if h.schedules == nil {
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "schedules not enabled")
	}

	var req ScheduleCreateRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	if req.Name == "" || req.Expr == "" || req.Workflow == "" {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "name, expr, and workflow required")
	}

	parsed, err := cron.ParseExpr(req.Expr)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid cron expression: "+err.Error())
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	next := parsed.Next(time.Now().UTC())
	appID, orgID := scope.Capture(ctx)
	s := &cron.Schedule{
		Entity:     orchestration.NewEntity(),
		ID:         id.NewScheduleID(),
		Name:       req.Name,
		Expr:       req.Expr,
		Workflow:   req.Workflow,
		Input:      req.Input,
		ScopeAppID: appID,
		ScopeOrgID: orgID,
		NextRunAt:  &next,
		Enabled:    enabled,
	}

	if err := h.schedules.RegisterSchedule(ctx, s); err != nil {
		return errorFrame(frame.ID, err)
	}

	return mustResponseFrame(frame.ID, s)
}

func (h *Handler) handleSubscribe(frame *Frame) *Frame {
	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	if err := stream.ValidateTopic(req.Channel); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	// Actual subscription is done in the server loop after the response
	// is sent, so the client never misses an event it was promised.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "subscribed",
	})
}

func (h *Handler) handleUnsubscribe(frame *Frame) *Frame {
	var req UnsubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	// Actual unsubscription is done in the server loop after the response.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "unsubscribed",
	})
}

func (h *Handler) handleStats(frame *Frame) *Frame {
	return mustResponseFrame(frame.ID, map[string]any{
		"broker": h.broker.Stats(),
	})
}
