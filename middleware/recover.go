package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are logged with a stack trace and converted to fatal
// errors: a panicking step is broken code, not a transient condition,
// so it must not burn retry attempts.
func Recover(logger *slog.Logger) workflow.Middleware {
	return func(ctx context.Context, inv *workflow.StepInvocation, next workflow.Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("step panicked",
					slog.String("workflow", inv.Run.Name),
					slog.String("run_id", inv.Run.ID.String()),
					slog.String("step", inv.StepName),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = orchestration.Fatalf("panic in step %s: %v", inv.StepName, r)
			}
		}()
		return next(ctx)
	}
}
