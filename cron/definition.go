package cron

// Definition is a typed schedule definition. T is the workflow input type
// (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this schedule.
	Name string

	// Expr is a cron expression (e.g., "*/5 * * * *" or "@every 30s").
	Expr string

	// Workflow is the name of the workflow to start on each tick.
	Workflow string

	// Input is the input to start every triggered run with.
	Input T
}
