// Package wire implements the orchestrator's framed wire protocol for
// live clients. Frames travel over WebSocket (primary), SSE (read-only
// fallback), and HTTP (one-shot RPC). The first frame on a WebSocket
// must be an auth request; it also negotiates the codec for the rest
// of the session.
package wire

import (
	"encoding/json"
	"time"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the wire message envelope. Every message exchanged over
// the protocol is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames (e.g., "run.start").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Token carries auth credentials (typically only on the auth frame).
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// AppID scopes the request to a tenant application.
	AppID string `json:"app_id,omitempty" msgpack:"app_id,omitempty"`

	// OrgID scopes the request to a tenant organization.
	OrgID string `json:"org_id,omitempty" msgpack:"org_id,omitempty"`

	// Data carries the method-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Channel identifies the subscription topic for event/subscribe frames.
	Channel string `json:"channel,omitempty" msgpack:"channel,omitempty"`

	// Credits replenishes flow-control credits (backpressure).
	Credits int `json:"credits,omitempty" msgpack:"credits,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ── Well-known methods ──────────────────────────────

const (
	// Auth methods.
	MethodAuth = "auth"

	// Run methods.
	MethodRunStart     = "run.start"
	MethodRunGet       = "run.get"
	MethodRunList      = "run.list"
	MethodRunTimeline  = "run.timeline"
	MethodRunReplay    = "run.replay"
	MethodRunRetrigger = "run.retrigger"

	// Hook methods.
	MethodHookResume = "hook.resume"

	// Schedule methods.
	MethodScheduleList   = "schedule.list"
	MethodScheduleCreate = "schedule.create"

	// Subscription methods.
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"

	// Admin methods.
	MethodStats = "stats"
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeForbidden      = 403
	ErrCodeNotFound       = 404
	ErrCodeMethodNotFound = 405
	ErrCodeConflict       = 409
	ErrCodeInternal       = 500
)

// ── Request/Response payloads ───────────────────────

// AuthRequest is sent by clients to authenticate.
type AuthRequest struct {
	Token  string `json:"token"`
	Format string `json:"format,omitempty"` // "json" (default) or "msgpack"
}

// AuthResponse is returned after successful authentication.
type AuthResponse struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// RunStartRequest starts a new workflow run.
type RunStartRequest struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// RunStartResponse confirms run creation.
type RunStartResponse struct {
	RunID  string `json:"run_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// RunGetRequest retrieves a run by ID.
type RunGetRequest struct {
	RunID string `json:"run_id"`
}

// RunListRequest lists runs with optional filters.
type RunListRequest struct {
	Status string `json:"status,omitempty"`
	Name   string `json:"name,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// RunTimelineRequest gets the checkpoint and event timeline for a run.
type RunTimelineRequest struct {
	RunID string `json:"run_id"`
}

// RunReplayRequest rewinds a run to just before the named step.
type RunReplayRequest struct {
	RunID    string `json:"run_id"`
	FromStep string `json:"from_step"`
}

// RunRetriggerRequest starts a fresh run from a failed one.
type RunRetriggerRequest struct {
	RunID string `json:"run_id"`
}

// HookResumeRequest resolves a pending hook by token.
type HookResumeRequest struct {
	Token   string          `json:"token"`
	Payload json.RawMessage `json:"payload,omitempty"`
	By      string          `json:"by,omitempty"`
}

// HookResumeResponse confirms the winning resolution.
type HookResumeResponse struct {
	OK    bool   `json:"ok"`
	RunID string `json:"run_id"`
}

// ScheduleCreateRequest registers a recurring workflow trigger.
type ScheduleCreateRequest struct {
	Name     string          `json:"name"`
	Expr     string          `json:"expr"`
	Workflow string          `json:"workflow"`
	Input    json.RawMessage `json:"input,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`
}

// SubscribeRequest subscribes to a topic channel.
type SubscribeRequest struct {
	Channel string `json:"channel"`
	Credits int    `json:"credits,omitempty"` // Initial credits (0 = use default)
}

// UnsubscribeRequest removes a subscription.
type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// NewRequestFrame creates a new request frame.
func NewRequestFrame(id, method string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id,
		Type:      FrameRequest,
		Method:    method,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponseFrame creates a response to a request.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:       GenerateFrameID(),
		Type:     FrameErr,
		CorrelID: correlID,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewEventFrame creates an event frame for a subscription channel.
func NewEventFrame(channel string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameEvent,
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// GenerateFrameID returns a new unique frame ID.
// Uses a timestamp at nanosecond precision; frame IDs only need to be
// unique per connection.
func GenerateFrameID() string {
	return time.Now().UTC().Format("20060102150405.000000000")
}
