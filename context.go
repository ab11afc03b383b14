package orchestration

import (
	"context"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	stepNameKey
)

// WithRunID returns a context carrying the run being executed. The step
// executor sets it before invoking step functions so collaborators (loggers,
// notifiers, middleware) can correlate their work with the run.
func WithRunID(ctx context.Context, runID id.RunID) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run ID attached to ctx, or the Nil ID.
func RunIDFromContext(ctx context.Context) id.RunID {
	if v, ok := ctx.Value(runIDKey).(id.RunID); ok {
		return v
	}

	return id.Nil
}

// WithStepName returns a context carrying the step currently executing.
func WithStepName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, stepNameKey, name)
}

// StepNameFromContext returns the step name attached to ctx, or "".
func StepNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(stepNameKey).(string); ok {
		return v
	}

	return ""
}
