package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// tracerName is the instrumentation scope name for orchestration tracing.
const tracerName = "github.com/bcorn-cely/Agent-Orchestration"

// Tracing returns middleware that wraps step execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop tracer
// is used and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: orchestration.run.id, orchestration.workflow,
// orchestration.step, orchestration.attempt, orchestration.scope.app_id,
// orchestration.scope.org_id. On error, the span status is set to
// codes.Error with the error message.
func Tracing() workflow.Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) workflow.Middleware {
	return func(ctx context.Context, inv *workflow.StepInvocation, next workflow.Handler) error {
		ctx, span := tracer.Start(ctx, "orchestration.step.execute",
			trace.WithAttributes(
				attribute.String("orchestration.run.id", inv.Run.ID.String()),
				attribute.String("orchestration.workflow", inv.Run.Name),
				attribute.String("orchestration.step", inv.StepName),
				attribute.Int("orchestration.attempt", inv.Attempt),
				attribute.String("orchestration.scope.app_id", inv.Run.ScopeAppID),
				attribute.String("orchestration.scope.org_id", inv.Run.ScopeOrgID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
