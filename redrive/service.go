package redrive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Service provides operator-level operations over failed runs plus
// retention sweeps for the whole store.
type Service struct {
	runner *workflow.Runner
	logger *slog.Logger
}

// NewService creates a redrive service over the runner's stores.
func NewService(runner *workflow.Runner, logger *slog.Logger) *Service {
	return &Service{runner: runner, logger: logger}
}

// ListFailed returns terminally failed runs, newest first.
func (s *Service) ListFailed(ctx context.Context, limit, offset int) ([]*workflow.Run, error) {
	return s.runner.Store().ListRuns(ctx, workflow.ListOpts{
		Status: workflow.StatusFailed,
		Limit:  limit,
		Offset: offset,
	})
}

// Report bundles everything an operator needs to diagnose one run: the
// run record with its error, the committed checkpoints in order, and
// any hooks the run created.
type Report struct {
	Run         *workflow.Run          `json:"run"`
	Checkpoints []*workflow.Checkpoint `json:"checkpoints"`
	Hooks       []*hook.Hook           `json:"hooks"`
}

// Inspect assembles a failure report for a run. The run does not have
// to be failed; inspecting a live run is a valid debugging move.
func (s *Service) Inspect(ctx context.Context, runID id.RunID) (*Report, error) {
	run, err := s.runner.Store().GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	checkpoints, err := s.runner.Store().ListCheckpoints(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("redrive: list checkpoints: %w", err)
	}
	hooks, err := s.runner.Hooks().ListHooksByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("redrive: list hooks: %w", err)
	}
	return &Report{Run: run, Checkpoints: checkpoints, Hooks: hooks}, nil
}

// Redrive starts a fresh run with the failed run's workflow and input.
// The failed run keeps its state and checkpoints for audit; only failed
// runs can be redriven (ErrRunNotResumable otherwise). The new run
// replays nothing, it starts from a clean checkpoint log.
func (s *Service) Redrive(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	fresh, err := s.runner.Retrigger(ctx, runID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("run redriven",
		slog.String("failed_run_id", runID.String()),
		slog.String("new_run_id", fresh.ID.String()),
		slog.String("workflow", fresh.Name),
	)
	return fresh, nil
}

// SweepStats reports what one retention sweep did.
type SweepStats struct {
	HooksExpired  int `json:"hooks_expired"`
	RunsDeleted   int `json:"runs_deleted"`
	HooksDeleted  int `json:"hooks_deleted"`
	EventsDeleted int `json:"events_deleted"`
}

// Sweep expires pending hooks past their deadline, then purges terminal
// runs, terminal hooks, and events older than the retention window.
// Checkpoints go with their runs. Each phase is independent; a failure
// in one still returns the stats accumulated so far.
func (s *Service) Sweep(ctx context.Context, retention time.Duration) (SweepStats, error) {
	var stats SweepStats
	now := time.Now().UTC()
	cutoff := now.Add(-retention)

	expired, err := s.runner.Hooks().ExpireDueHooks(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("redrive: expire due hooks: %w", err)
	}
	stats.HooksExpired = expired

	runs, err := s.runner.Store().DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("redrive: delete runs: %w", err)
	}
	stats.RunsDeleted = runs

	hooks, err := s.runner.Hooks().DeleteHooksBefore(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("redrive: delete hooks: %w", err)
	}
	stats.HooksDeleted = hooks

	events, err := s.runner.Events().Store().DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("redrive: delete events: %w", err)
	}
	stats.EventsDeleted = events

	if stats.HooksExpired+stats.RunsDeleted+stats.HooksDeleted+stats.EventsDeleted > 0 {
		s.logger.Info("retention sweep",
			slog.Int("hooks_expired", stats.HooksExpired),
			slog.Int("runs_deleted", stats.RunsDeleted),
			slog.Int("hooks_deleted", stats.HooksDeleted),
			slog.Int("events_deleted", stats.EventsDeleted),
		)
	}
	return stats, nil
}
