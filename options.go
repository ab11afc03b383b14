package orchestration

import (
	"context"
	"log/slog"
	"time"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// Storer is the minimal store interface held by the Orchestrator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for run pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Orchestrator is the central coordinator for durable workflow runs:
// checkpointed steps, hook suspensions, fan-out, cron schedules, and
// distributed workers.
//
// Create one with New() and functional options. The Orchestrator holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build to wire everything together.
type Orchestrator struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Orchestrator with the given options.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Logger returns the orchestrator's logger.
func (o *Orchestrator) Logger() *slog.Logger { return o.logger }

// Store returns the orchestrator's store.
func (o *Orchestrator) Store() Storer { return o.store }

// Config returns a copy of the orchestrator's configuration.
func (o *Orchestrator) Config() Config { return o.config }

// SetPool sets the run pool (called by the engine package).
func (o *Orchestrator) SetPool(p poolRunner) { o.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (o *Orchestrator) SetExtensions(e extensionEmitter) { o.extensions = e }

// Start begins run processing.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.pool == nil {
		return ErrNoStore
	}
	if err := o.pool.Start(ctx); err != nil {
		return err
	}
	o.started = true
	return nil
}

// Stop gracefully shuts down the orchestrator.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.pool != nil && o.started {
		if err := o.pool.Stop(ctx); err != nil {
			o.logger.Error("pool stop error", "error", err)
		}
	}
	if o.extensions != nil {
		o.extensions.EmitShutdown(ctx)
	}
	if o.store != nil {
		return o.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrently executing runs.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) error {
		o.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the run pool polls for due work.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.PollInterval = d
		return nil
	}
}

// WithHeartbeatInterval sets how often claimed runs extend their lease.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.HeartbeatInterval = d
		return nil
	}
}

// WithStaleRunThreshold sets how long a run may go without a heartbeat
// before being reaped back to pending.
func WithStaleRunThreshold(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.StaleRunThreshold = d
		return nil
	}
}

// WithShutdownTimeout sets the graceful shutdown bound.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.ShutdownTimeout = d
		return nil
	}
}

// WithDefaultMaxRetries sets the default maximum attempts per step.
func WithDefaultMaxRetries(n int) Option {
	return func(o *Orchestrator) error {
		o.config.DefaultMaxRetries = n
		return nil
	}
}

// WithDefaultStepTimeout sets the default bound on a single step attempt.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.DefaultStepTimeout = d
		return nil
	}
}

// WithDefaultHookTTL sets the default hook expiry. Individual hooks
// override it with hook.WithTimeout.
func WithDefaultHookTTL(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.DefaultHookTTL = d
		return nil
	}
}

// WithLogger sets the structured logger for the orchestrator.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) error {
		o.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the orchestrator.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(o *Orchestrator) error {
		o.store = s
		return nil
	}
}

// WithConfig replaces the whole configuration in one call. Later options
// still apply on top of it.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) error {
		o.config = cfg
		return nil
	}
}
