// Package middleware provides composable middleware for step execution.
//
// A middleware is a function that wraps a step attempt. Middleware are
// composed into a chain using [Chain] and applied around every attempt of
// every step. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → step
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs step name, attempt, duration, and outcome
//   - [Recover] — catches panics and converts them to fatal errors
//   - [Timeout] — cancels the attempt context after the step's deadline
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-step duration and outcome counters
//   - [Scope] — restores the run's tenant scope into the attempt context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() workflow.Middleware {
//	    return func(ctx context.Context, inv *workflow.StepInvocation, next workflow.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
