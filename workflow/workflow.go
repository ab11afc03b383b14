package workflow

// Definition is a typed workflow definition with a handler function.
// T is the input type (encoded with the engine codec for Run.Input).
type Definition[T any] struct {
	// Name is the unique identifier for this workflow type.
	Name string

	// Version distinguishes incompatible revisions of the same workflow.
	// Zero is treated as version 1. New runs pin the highest registered
	// version; existing runs keep replaying on the version they started
	// with until migrated.
	Version int

	// Handler executes the workflow logic. It receives a *Workflow
	// which provides Step, StepResult, FanOut, CreateHook, AwaitHook,
	// Sleep, and SetOutput. Everything outside a step must be
	// deterministic orchestration code; side effects belong in steps.
	Handler func(wf *Workflow, input T) error
}

// NewWorkflow creates a typed workflow definition at version 1.
func NewWorkflow[T any](name string, handler func(wf *Workflow, input T) error) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Handler: handler,
	}
}

// NewWorkflowV creates a typed workflow definition with an explicit version.
func NewWorkflowV[T any](name string, version int, handler func(wf *Workflow, input T) error) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Version: version,
		Handler: handler,
	}
}
