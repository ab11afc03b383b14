// Package engine wires all orchestrator subsystems together: the
// workflow registry and runner, the run-executing worker pool, admission
// gates, the cron scheduler, the retention janitor, the stream broker,
// the wire server, the HTTP API, and the extension registry.
//
// This package exists to break the import cycle: the root orchestration
// package defines Entity and Config (imported by workflow, hook, etc.)
// and so cannot import those packages back. The engine package sits
// above all subsystem packages and below the application layer.
//
// Typical use:
//
//	o, _ := orchestration.New(orchestration.WithStore(memory.New()))
//	eng, _ := engine.Build(o)
//	engine.RegisterWorkflow(eng, workflow.NewWorkflow("org-validation", handler))
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
//
//	run, _ := engine.StartWorkflow(ctx, eng, "org-validation", OrgInput{Domain: "nike.com"})
package engine
