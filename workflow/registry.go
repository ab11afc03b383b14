package workflow

import (
	"fmt"
	"sync"
)

// RunnerFunc is a type-erased workflow runner accepting codec-encoded
// input. A typed Definition[T] becomes a RunnerFunc at registration
// time by closing over input decoding and the typed handler.
type RunnerFunc func(wf *Workflow, input []byte) error

// versioned pairs a runner with its definition version.
type versioned struct {
	version int
	runner  RunnerFunc
}

// Registry maps workflow names to versioned runner functions. Several
// versions of one workflow can be registered at once: new runs pin the
// highest version, existing runs keep replaying on their pinned one.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]versioned
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string][]versioned),
	}
}

// RegisterDefinition registers a typed workflow definition. The generic
// handler is wrapped in a closure that decodes the input into T with
// the run's codec before calling the typed handler. Registering the
// same name+version twice replaces the earlier runner.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	version := def.Version
	if version <= 0 {
		version = 1
	}

	runner := func(wf *Workflow, input []byte) error {
		var t T
		if len(input) > 0 {
			if err := wf.decodeInput(input, &t); err != nil {
				return fmt.Errorf("decode input for workflow %q: %w", def.Name, err)
			}
		}
		return def.Handler(wf, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vr := versioned{version: version, runner: runner}
	existing := r.versions[def.Name]
	for i, v := range existing {
		if v.version == version {
			existing[i] = vr
			r.versions[def.Name] = existing
			return
		}
	}
	r.versions[def.Name] = append(existing, vr)
}

// Get returns the highest-version runner for the given workflow name.
// Returns false if no runner is registered.
func (r *Registry) Get(name string) (RunnerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.versions[name]
	if len(versions) == 0 {
		return nil, false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if v.version > best.version {
			best = v
		}
	}
	return best.runner, true
}

// GetVersion returns the runner for a specific version of a workflow.
// If version <= 0, behaves like Get (returns the highest version).
func (r *Registry) GetVersion(name string, version int) (RunnerFunc, bool) {
	if version <= 0 {
		return r.Get(name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.versions[name] {
		if v.version == version {
			return v.runner, true
		}
	}
	return nil, false
}

// LatestVersion returns the highest registered version for a workflow.
// Returns 0 if the workflow is not registered.
func (r *Registry) LatestVersion(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := 0
	for _, v := range r.versions[name] {
		if v.version > best {
			best = v.version
		}
	}
	return best
}

// Names returns all registered workflow names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	return names
}
