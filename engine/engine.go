package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/api"
	"github.com/bcorn-cely/Agent-Orchestration/backoff"
	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/codec"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/ext"
	"github.com/bcorn-cely/Agent-Orchestration/gate"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	mw "github.com/bcorn-cely/Agent-Orchestration/middleware"
	"github.com/bcorn-cely/Agent-Orchestration/observability"
	"github.com/bcorn-cely/Agent-Orchestration/redrive"
	"github.com/bcorn-cely/Agent-Orchestration/stream"
	"github.com/bcorn-cely/Agent-Orchestration/wire"
	"github.com/bcorn-cely/Agent-Orchestration/worker"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Engine is the assembled orchestrator: every subsystem constructed,
// cross-wired, and ready to start. Use Build to create one.
type Engine struct {
	o          *orchestration.Orchestrator
	extensions *ext.Registry
	registry   *workflow.Registry
	runner     *workflow.Runner
	events     *event.Log
	executor   *worker.Executor
	pool       *worker.Pool
	gates      *gate.Manager
	broker     *stream.Broker
	wireServer *wire.Server
	httpAPI    *api.API
	scheduler  *cron.Scheduler
	redriver   *redrive.Service
	janitor    *redrive.Janitor
	logger     *slog.Logger

	// Subsystem store views, duck-typed out of the orchestrator's store.
	runStore     workflow.Store
	hookStore    hook.Store
	eventStore   event.Store
	cronStore    cron.Store
	clusterStore cluster.Store

	// Build-time configuration.
	cdc            codec.Codec
	bo             backoff.Strategy
	mws            []workflow.Middleware
	gateConfigs    []gate.Config
	sweepInterval  time.Duration
	retention      time.Duration
	promRegistry   prometheus.Registerer
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine during Build.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware appends step middleware after the default chain
// (recover, tracing, metrics, logging, scope, timeout).
func WithMiddleware(m workflow.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the default retry backoff strategy for steps.
// Defaults to backoff.DefaultStrategy() (exponential with jitter).
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithCodec sets the payload codec for run inputs, outputs, and
// checkpoints. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(eng *Engine) { eng.cdc = c }
}

// WithGateConfig registers per-workflow admission limits (max
// concurrent runs, token-bucket rate). Workflows not listed have no
// limits.
func WithGateConfig(configs ...gate.Config) Option {
	return func(eng *Engine) { eng.gateConfigs = append(eng.gateConfigs, configs...) }
}

// WithRetention sets how long terminal runs, hooks, and events are kept
// before the janitor purges them.
func WithRetention(d time.Duration) Option {
	return func(eng *Engine) { eng.retention = d }
}

// WithSweepInterval sets how often the janitor sweeps.
func WithSweepInterval(d time.Duration) Option {
	return func(eng *Engine) { eng.sweepInterval = d }
}

// WithPrometheusRegistry sets the registry the observability extension
// registers its collectors with. Defaults to the global registerer.
func WithPrometheusRegistry(r prometheus.Registerer) Option {
	return func(eng *Engine) { eng.promRegistry = r }
}

// WithTracerProvider sets a custom OTel TracerProvider for the step
// tracing middleware. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the step
// metrics middleware. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build assembles an Engine around an Orchestrator. The orchestrator's
// store must implement every subsystem store interface (workflow, hook,
// event, cron, cluster); store.Store embeds them all.
func Build(o *orchestration.Orchestrator, opts ...Option) (*Engine, error) {
	logger := o.Logger()
	st := o.Store()
	if st == nil {
		return nil, orchestration.ErrNoStore
	}

	rs, ok := st.(workflow.Store)
	if !ok {
		return nil, fmt.Errorf("engine: store does not implement workflow.Store")
	}
	hs, ok := st.(hook.Store)
	if !ok {
		return nil, fmt.Errorf("engine: store does not implement hook.Store")
	}
	es, ok := st.(event.Store)
	if !ok {
		return nil, fmt.Errorf("engine: store does not implement event.Store")
	}
	cs, ok := st.(cron.Store)
	if !ok {
		return nil, fmt.Errorf("engine: store does not implement cron.Store")
	}
	cls, ok := st.(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("engine: store does not implement cluster.Store")
	}

	eng := &Engine{
		o:             o,
		extensions:    ext.NewRegistry(logger),
		registry:      workflow.NewRegistry(),
		logger:        logger,
		runStore:      rs,
		hookStore:     hs,
		eventStore:    es,
		cronStore:     cs,
		clusterStore:  cls,
		cdc:           codec.Default(),
		sweepInterval: time.Hour,
		retention:     30 * 24 * time.Hour,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// Observability extension: run/step/hook counters on Prometheus.
	if eng.promRegistry != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithRegistry(eng.promRegistry))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}

	// Stream broker fans lifecycle events out to live watchers.
	eng.broker = stream.NewBroker(logger)
	eng.extensions.Register(eng.broker)

	// Step middleware chain (custom middleware runs innermost).
	var tracingMw workflow.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/bcorn-cely/Agent-Orchestration"))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw workflow.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/bcorn-cely/Agent-Orchestration"))
	} else {
		metricsMw = mw.Metrics()
	}
	chain := []workflow.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		mw.Timeout(logger),
	}
	chain = append(chain, eng.mws...)

	eng.events = event.NewLog(es)
	eng.runner = workflow.NewRunner(eng.registry, rs, hs, eng.events,
		workflow.WithEmitter(eng.extensions),
		workflow.WithLogger(logger),
		workflow.WithCodec(eng.cdc),
		workflow.WithMiddleware(mw.Chain(chain...)),
		workflow.WithDefaults(o.Config()),
		workflow.WithDefaultBackoff(eng.bo),
	)

	// Run pool: claims pending and woken runs and drives them through
	// the executor. The pool doubles as the runner's waker.
	config := o.Config()
	eng.executor = worker.NewExecutor(eng.runner, rs, logger)
	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
		worker.WithLeaseDuration(config.StaleRunThreshold),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithReapInterval(config.StaleRunThreshold),
	}
	if len(eng.gateConfigs) > 0 {
		eng.gates = gate.NewManager(eng.gateConfigs...)
		poolOpts = append(poolOpts, worker.WithGateManager(eng.gates))
	}
	eng.pool = worker.NewPool(rs, eng.executor, logger, poolOpts...)
	eng.runner.SetWaker(eng.pool)

	o.SetPool(eng.pool)
	o.SetExtensions(eng.extensions)

	// Cron scheduler starts runs on the leader node.
	startFn := func(ctx context.Context, name string, input []byte) (id.RunID, error) {
		run, err := eng.runner.StartRaw(ctx, name, input)
		if err != nil {
			return id.Nil, err
		}
		return run.ID, nil
	}
	eng.scheduler = cron.NewScheduler(cs, cls, startFn, eng.extensions, eng.pool.WorkerID(), logger)

	// Redrive service + retention janitor.
	eng.redriver = redrive.NewService(eng.runner, logger)
	eng.janitor = redrive.NewJanitor(eng.redriver, logger,
		redrive.WithSweepInterval(eng.sweepInterval),
		redrive.WithRetention(eng.retention),
	)

	// Wire server (WebSocket watch + RPC) and HTTP API.
	wireHandler := wire.NewHandler(eng.runner, eng.broker, logger, wire.WithScheduleStore(cs))
	eng.wireServer = wire.NewServer(eng.broker, wireHandler, wire.WithLogger(logger), wire.WithCodec(eng.cdc))
	eng.httpAPI = api.New(eng.runner,
		api.WithSchedules(cs),
		api.WithWorkers(cls),
		api.WithWire(eng.wireServer),
		api.WithLogger(logger),
	)

	return eng, nil
}

// Start registers this worker in the cluster, then starts the
// scheduler, the janitor, and the run pool. Suspended and pending runs
// left over from a previous process are picked up by the pool as soon
// as it polls.
func (eng *Engine) Start(ctx context.Context) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	now := time.Now().UTC()
	w := &cluster.Worker{
		ID:          eng.pool.WorkerID(),
		Hostname:    hostname,
		Workflows:   eng.registry.Names(),
		Concurrency: eng.o.Config().Concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    now,
		CreatedAt:   now,
	}
	if regErr := eng.clusterStore.RegisterWorker(ctx, w); regErr != nil {
		eng.logger.Warn("failed to register worker in cluster store",
			slog.String("error", regErr.Error()),
		)
	}

	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("engine: start scheduler: %w", err)
	}
	if err := eng.janitor.Start(ctx); err != nil {
		return fmt.Errorf("engine: start janitor: %w", err)
	}

	return eng.o.Start(ctx)
}

// Stop deregisters the worker and shuts everything down: scheduler,
// janitor, then the pool (which drains in-flight runs within the
// orchestrator's shutdown timeout).
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.clusterStore.DeregisterWorker(ctx, eng.pool.WorkerID()); err != nil &&
		!errors.Is(err, orchestration.ErrWorkerNotFound) {
		eng.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("scheduler stop error", slog.String("error", err.Error()))
	}
	if err := eng.janitor.Stop(ctx); err != nil {
		eng.logger.Error("janitor stop error", slog.String("error", err.Error()))
	}

	return eng.o.Stop(ctx)
}

// ── Accessors ───────────────────────────────────────

// Orchestrator returns the underlying orchestrator.
func (eng *Engine) Orchestrator() *orchestration.Orchestrator { return eng.o }

// Runner returns the workflow runner.
func (eng *Engine) Runner() *workflow.Runner { return eng.runner }

// Registry returns the workflow registry.
func (eng *Engine) Registry() *workflow.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Events returns the run event log.
func (eng *Engine) Events() *event.Log { return eng.events }

// Pool returns the run pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Gates returns the admission gate manager, or nil if no gate configs
// were provided.
func (eng *Engine) Gates() *gate.Manager { return eng.gates }

// Broker returns the in-process stream broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Wire returns the wire server for WebSocket watch and RPC.
func (eng *Engine) Wire() *wire.Server { return eng.wireServer }

// API returns the HTTP API.
func (eng *Engine) API() *api.API { return eng.httpAPI }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Redrive returns the redrive service for failed-run inspection and
// retrigger.
func (eng *Engine) Redrive() *redrive.Service { return eng.redriver }

// ── Application-level operations ────────────────────

// RegisterWorkflow registers a typed workflow definition.
func RegisterWorkflow[T any](eng *Engine, def *workflow.Definition[T]) {
	workflow.RegisterDefinition(eng.registry, def)
}

// StartWorkflow starts a run with a typed input. It returns as soon as
// the run is persisted; execution happens on the pool.
func StartWorkflow[T any](ctx context.Context, eng *Engine, name string, input T) (*workflow.Run, error) {
	return workflow.Start(ctx, eng.runner, name, input)
}

// ResumeHook delivers an external decision to a suspended run by hook
// token. See workflow.Runner.ResumeHook for the normalization and
// idempotency contract.
func (eng *Engine) ResumeHook(ctx context.Context, token string, payload []byte, by string) (*workflow.Run, error) {
	return eng.runner.ResumeHook(ctx, token, payload, by)
}

// RegisterSchedule validates a cron expression and persists a schedule
// that starts the named workflow with the given input. Re-registering
// the same schedule name is idempotent.
func RegisterSchedule[T any](ctx context.Context, eng *Engine, name, expr, workflowName string, input T) error {
	sched, err := cron.ParseExpr(expr)
	if err != nil {
		return fmt.Errorf("engine: invalid schedule expr %q: %w", expr, err)
	}

	data, err := eng.cdc.Marshal(input)
	if err != nil {
		return fmt.Errorf("engine: encode schedule input: %w", err)
	}

	now := time.Now().UTC()
	next := sched.Next(now)
	entry := &cron.Schedule{
		Entity:    orchestration.NewEntity(),
		ID:        id.NewScheduleID(),
		Name:      name,
		Expr:      expr,
		Workflow:  workflowName,
		Input:     data,
		NextRunAt: &next,
		Enabled:   true,
	}

	if err := eng.cronStore.RegisterSchedule(ctx, entry); err != nil {
		if errors.Is(err, orchestration.ErrDuplicateSchedule) {
			return nil
		}
		return fmt.Errorf("engine: register schedule %q: %w", name, err)
	}

	eng.logger.Info("schedule registered",
		slog.String("name", name),
		slog.String("expr", expr),
		slog.String("workflow", workflowName),
		slog.Time("next_run_at", next),
	)
	return nil
}
