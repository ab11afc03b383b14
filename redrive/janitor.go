package redrive

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithSweepInterval sets how often the janitor sweeps.
func WithSweepInterval(d time.Duration) JanitorOption {
	return func(j *Janitor) { j.interval = d }
}

// WithRetention sets how long terminal runs, hooks, and events are kept.
func WithRetention(d time.Duration) JanitorOption {
	return func(j *Janitor) { j.retention = d }
}

// Janitor runs retention sweeps on an interval. One sweep also expires
// pending hooks past their deadline, so abandoned approvals eventually
// settle even when no run is awaiting them.
type Janitor struct {
	svc    *Service
	logger *slog.Logger

	interval  time.Duration
	retention time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewJanitor creates a Janitor. Defaults: sweep hourly, keep 30 days.
func NewJanitor(svc *Service, logger *slog.Logger, opts ...JanitorOption) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		svc:       svc,
		logger:    logger,
		interval:  time.Hour,
		retention: 30 * 24 * time.Hour,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start launches the sweep goroutine.
func (j *Janitor) Start(_ context.Context) error {
	j.wg.Add(1)
	go j.sweepLoop()
	j.logger.Info("janitor started",
		slog.Duration("interval", j.interval),
		slog.Duration("retention", j.retention),
	)
	return nil
}

// Stop signals the janitor to stop and waits for the loop to finish.
func (j *Janitor) Stop(_ context.Context) error {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Info("janitor stopped")
	return nil
}

func (j *Janitor) sweepLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), j.interval)
			if _, err := j.svc.Sweep(ctx, j.retention); err != nil {
				j.logger.Error("retention sweep failed", slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}
