package middleware

import (
	"context"
	"log/slog"

	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Timeout returns middleware that enforces a per-attempt execution
// deadline. If the step has a non-zero Timeout, a context.WithTimeout
// wraps the attempt. When the deadline is exceeded the context is
// cancelled and the step executor classifies the cancellation as fatal.
func Timeout(logger *slog.Logger) workflow.Middleware {
	return func(ctx context.Context, inv *workflow.StepInvocation, next workflow.Handler) error {
		if inv.Timeout > 0 {
			logger.Debug("step timeout set",
				slog.String("run_id", inv.Run.ID.String()),
				slog.String("step", inv.StepName),
				slog.Duration("timeout", inv.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
