package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Logging returns middleware that logs step start and completion.
func Logging(logger *slog.Logger) workflow.Middleware {
	return func(ctx context.Context, inv *workflow.StepInvocation, next workflow.Handler) error {
		logger.Debug("step started",
			slog.String("workflow", inv.Run.Name),
			slog.String("run_id", inv.Run.ID.String()),
			slog.String("step", inv.StepName),
			slog.Int("attempt", inv.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("step failed",
				slog.String("workflow", inv.Run.Name),
				slog.String("run_id", inv.Run.ID.String()),
				slog.String("step", inv.StepName),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("step completed",
				slog.String("workflow", inv.Run.Name),
				slog.String("run_id", inv.Run.ID.String()),
				slog.String("step", inv.StepName),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
