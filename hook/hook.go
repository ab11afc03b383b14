// Package hook implements the durable suspension point a workflow parks on
// while it waits for an external decision.
//
// A hook is addressable by its token: a TypeID whose prefix is the hook
// kind (for example "apvl" for legal approvals). The token is generated and
// persisted before any external party is notified, and hook creation is
// checkpointed, so the token stays stable across notification retries and
// crash replays. Exactly one resume call resolves a pending hook; every
// later or concurrent attempt sees not-found semantics.
package hook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// State is the lifecycle state of a hook.
type State string

const (
	// StatePending means the hook is waiting for a resume or its expiry.
	StatePending State = "pending"
	// StateResolved means exactly one resume call delivered a payload.
	StateResolved State = "resolved"
	// StateExpired means the timeout branch won the race.
	StateExpired State = "expired"
)

// DefaultKind is the token prefix used when a workflow does not declare one.
const DefaultKind = string(id.PrefixHook)

// Hook is a durable suspension point awaiting an external callback.
type Hook struct {
	orchestration.Entity

	// ID doubles as the token. Its prefix is the hook kind, which routes
	// a bare token arriving at the resume endpoint back to this gate.
	ID    id.HookID `json:"id"`
	RunID id.RunID  `json:"run_id"`

	// Name is the suspension point's name inside the workflow, unique per
	// run the way step names are.
	Name string `json:"name"`
	Kind string `json:"kind"`

	State State `json:"state"`

	// Schema is the serialized OpenAPI schema the resume payload must
	// satisfy. Empty means any JSON object is accepted.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Payload is the resolution delivered by the winning resume call.
	Payload []byte `json:"payload,omitempty"`

	// ResolvedBy identifies the decision maker, when the caller said.
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Token returns the external string form of the hook's identity.
func (h *Hook) Token() string { return h.ID.String() }

// ExpiredAt reports whether the hook's timeout has elapsed at the given
// instant. Resolved hooks never expire.
func (h *Hook) ExpiredAt(now time.Time) bool {
	if h.State == StateResolved {
		return false
	}

	return h.State == StateExpired || !now.Before(h.ExpiresAt)
}

// Validate checks the resume payload against the hook's schema. A hook
// without a schema accepts any payload.
func (h *Hook) Validate(payload []byte) error {
	if len(h.Schema) == 0 {
		return nil
	}

	var schema openapi3.Schema
	if err := json.Unmarshal(h.Schema, &schema); err != nil {
		return fmt.Errorf("hook %s: decode schema: %w", h.ID, err)
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return fmt.Errorf("hook %s: payload is not valid JSON: %w", h.ID, err)
	}

	if err := schema.VisitJSON(value); err != nil {
		return fmt.Errorf("hook %s: payload rejected by schema: %w", h.ID, err)
	}

	return nil
}

// Decision is the payload shape of the built-in approval schema. Workflows
// awaiting an approval hook decode into it.
type Decision struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
	By       string `json:"by,omitempty"`
}

// ApprovalSchema returns the schema for yes/no human approvals: a JSON
// object with a required boolean "approved" and optional "comment" and
// "by" strings. Extra decision fields pass through untouched.
func ApprovalSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("approved", openapi3.NewBoolSchema()).
		WithProperty("comment", openapi3.NewStringSchema()).
		WithProperty("by", openapi3.NewStringSchema())
	s.Required = []string{"approved"}

	return s
}

// MarshalSchema serializes a schema for storage on the hook record.
func MarshalSchema(s *openapi3.Schema) (json.RawMessage, error) {
	if s == nil {
		return nil, nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("hook: marshal schema: %w", err)
	}

	return data, nil
}
