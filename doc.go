// Package orchestration provides a durable workflow orchestrator for Go.
// Long-running business processes are written as ordinary sequential
// functions; the engine checkpoints every step, survives process restarts,
// fans out to parallel workers, and suspends runs indefinitely on
// human-approval hooks resumed by token.
//
// It is designed as a library, not a service. Import it, configure a store,
// and register workflows as ordinary Go functions.
//
// # Quick Start
//
//	o, err := orchestration.New(
//	    orchestration.WithStore(pgStore),
//	    orchestration.WithConcurrency(20),
//	)
//
// # Architecture
//
// The module follows a composable store pattern where each subsystem
// (workflow, hook, event, cron, cluster) defines its own store interface.
// A single backend implements all of them.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers. Hook tokens reuse the prefix as the hook
// kind, which is how a bare token routes back to the right approval gate.
package orchestration
