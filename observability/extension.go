package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bcorn-cely/Agent-Orchestration/ext"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.RunStarted    = (*MetricsExtension)(nil)
	_ ext.RunSuspended  = (*MetricsExtension)(nil)
	_ ext.RunResumed    = (*MetricsExtension)(nil)
	_ ext.RunCompleted  = (*MetricsExtension)(nil)
	_ ext.RunFailed     = (*MetricsExtension)(nil)
	_ ext.StepCompleted = (*MetricsExtension)(nil)
	_ ext.StepRetried   = (*MetricsExtension)(nil)
	_ ext.StepFailed    = (*MetricsExtension)(nil)
	_ ext.HookCreated   = (*MetricsExtension)(nil)
	_ ext.HookResolved  = (*MetricsExtension)(nil)
	_ ext.HookExpired   = (*MetricsExtension)(nil)
	_ ext.ScheduleFired = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle metrics in a Prometheus registry.
// Register it as an extension to track run throughput, suspension and
// failure rates, hook resolution outcomes, and schedule fires.
//
// Counters are labeled by workflow name; hook counters by hook kind.
// Step names are deliberately not a label to keep cardinality bounded.
type MetricsExtension struct {
	RunsStarted    *prometheus.CounterVec
	RunsSuspended  *prometheus.CounterVec
	RunsResumed    *prometheus.CounterVec
	RunsCompleted  *prometheus.CounterVec
	RunsFailed     *prometheus.CounterVec
	StepsCompleted *prometheus.CounterVec
	StepsRetried   *prometheus.CounterVec
	StepsFailed    *prometheus.CounterVec
	HooksCreated   *prometheus.CounterVec
	HooksResolved  *prometheus.CounterVec
	HooksExpired   *prometheus.CounterVec
	SchedulesFired *prometheus.CounterVec

	RunDuration  *prometheus.HistogramVec
	StepDuration *prometheus.HistogramVec
}

// NewMetricsExtension creates a MetricsExtension registered on the
// default Prometheus registry.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsExtensionWithRegistry creates a MetricsExtension registered
// on the given registry. Tests pass prometheus.NewRegistry() to keep
// metrics isolated.
func NewMetricsExtensionWithRegistry(registry prometheus.Registerer) *MetricsExtension {
	factory := promauto.With(registry)

	return &MetricsExtension{
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_runs_started_total",
			Help: "Total workflow runs started.",
		}, []string{"workflow"}),
		RunsSuspended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_runs_suspended_total",
			Help: "Total run suspensions on hooks or timers.",
		}, []string{"workflow"}),
		RunsResumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_runs_resumed_total",
			Help: "Total suspended runs woken for replay.",
		}, []string{"workflow"}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_runs_completed_total",
			Help: "Total workflow runs completed successfully.",
		}, []string{"workflow"}),
		RunsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_runs_failed_total",
			Help: "Total workflow runs failed terminally.",
		}, []string{"workflow"}),
		StepsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_steps_completed_total",
			Help: "Total steps completed and checkpointed.",
		}, []string{"workflow"}),
		StepsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_steps_retried_total",
			Help: "Total step retry attempts.",
		}, []string{"workflow"}),
		StepsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_steps_failed_total",
			Help: "Total steps that exhausted their retry budget.",
		}, []string{"workflow"}),
		HooksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_hooks_created_total",
			Help: "Total callback hooks created.",
		}, []string{"kind"}),
		HooksResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_hooks_resolved_total",
			Help: "Total hooks resolved before their deadline.",
		}, []string{"kind"}),
		HooksExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_hooks_expired_total",
			Help: "Total hooks that passed their deadline unresolved.",
		}, []string{"kind"}),
		SchedulesFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_schedules_fired_total",
			Help: "Total runs started by cron schedules.",
		}, []string{"schedule"}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestration_run_duration_seconds",
			Help:    "Wall-clock run duration from start to terminal state.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
		}, []string{"workflow", "status"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestration_step_duration_seconds",
			Help:    "Step execution duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60},
		}, []string{"workflow"}),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(_ context.Context, r *workflow.Run) error {
	m.RunsStarted.WithLabelValues(r.Name).Inc()
	return nil
}

// OnRunSuspended implements ext.RunSuspended.
func (m *MetricsExtension) OnRunSuspended(_ context.Context, r *workflow.Run) error {
	m.RunsSuspended.WithLabelValues(r.Name).Inc()
	return nil
}

// OnRunResumed implements ext.RunResumed.
func (m *MetricsExtension) OnRunResumed(_ context.Context, r *workflow.Run) error {
	m.RunsResumed.WithLabelValues(r.Name).Inc()
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(_ context.Context, r *workflow.Run, elapsed time.Duration) error {
	m.RunsCompleted.WithLabelValues(r.Name).Inc()
	m.RunDuration.WithLabelValues(r.Name, string(workflow.StatusCompleted)).Observe(elapsed.Seconds())
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(_ context.Context, r *workflow.Run, _ error) error {
	m.RunsFailed.WithLabelValues(r.Name).Inc()
	if r.StartedAt != nil {
		m.RunDuration.WithLabelValues(r.Name, string(workflow.StatusFailed)).Observe(time.Since(*r.StartedAt).Seconds())
	}
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(_ context.Context, r *workflow.Run, _ string, elapsed time.Duration) error {
	m.StepsCompleted.WithLabelValues(r.Name).Inc()
	m.StepDuration.WithLabelValues(r.Name).Observe(elapsed.Seconds())
	return nil
}

// OnStepRetried implements ext.StepRetried.
func (m *MetricsExtension) OnStepRetried(_ context.Context, r *workflow.Run, _ string, _ int, _ time.Duration) error {
	m.StepsRetried.WithLabelValues(r.Name).Inc()
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(_ context.Context, r *workflow.Run, _ string, _ error) error {
	m.StepsFailed.WithLabelValues(r.Name).Inc()
	return nil
}

// ── Hook lifecycle hooks ────────────────────────────

// OnHookCreated implements ext.HookCreated.
func (m *MetricsExtension) OnHookCreated(_ context.Context, _ *workflow.Run, h *hook.Hook) error {
	m.HooksCreated.WithLabelValues(h.Kind).Inc()
	return nil
}

// OnHookResolved implements ext.HookResolved.
func (m *MetricsExtension) OnHookResolved(_ context.Context, _ *workflow.Run, h *hook.Hook) error {
	m.HooksResolved.WithLabelValues(h.Kind).Inc()
	return nil
}

// OnHookExpired implements ext.HookExpired.
func (m *MetricsExtension) OnHookExpired(_ context.Context, _ *workflow.Run, h *hook.Hook) error {
	m.HooksExpired.WithLabelValues(h.Kind).Inc()
	return nil
}

// ── Schedule lifecycle hooks ────────────────────────

// OnScheduleFired implements ext.ScheduleFired.
func (m *MetricsExtension) OnScheduleFired(_ context.Context, scheduleName string, _ id.RunID) error {
	m.SchedulesFired.WithLabelValues(scheduleName).Inc()
	return nil
}
