// Package workflow implements the durable workflow runtime: typed
// definitions, runs, the step executor, fan-out, hooks, and the store
// contracts they persist through.
//
// Workflows are long-running business processes written as ordinary
// sequential Go functions. The runtime checkpoints every completed step;
// after a crash, redeploy, or suspension the handler re-executes from the
// top and committed steps replay from their checkpoints without re-invoking
// side effects. Only code inside steps may touch the outside world — the
// workflow body itself is deterministic orchestration.
//
// # Defining a Workflow
//
//	var ValidateOrg = workflow.NewWorkflow("org-validation",
//	    func(wf *workflow.Workflow, input OrgInput) error {
//	        legal, err := workflow.StepResult(wf, "legal-lookup", func(ctx context.Context) (LegalRecord, error) {
//	            return lookupLegalName(ctx, input.Domain)
//	        }, workflow.WithMaxRetries(5))
//	        if err != nil {
//	            return err
//	        }
//	        return wf.SetOutput(legal)
//	    },
//	)
//
// # Starting Runs
//
// Start persists the run as pending and returns immediately; the worker
// pool claims and executes it:
//
//	run, err := workflow.Start(ctx, runner, "org-validation", OrgInput{Domain: "nike.com"})
//
// # Fan-out
//
// FanOut dispatches independent tasks concurrently and joins on all of
// them. The result vector is dispatch-ordered and sibling failures are
// reported as data, so a downstream consolidation step decides what is
// fatal:
//
//	results, err := workflow.FanOut(wf, "org-workers",
//	    workflow.Task{Name: "legal", Fn: legalWorker},
//	    workflow.Task{Name: "sector", Fn: sectorWorker},
//	    workflow.Task{Name: "trust", Fn: trustWorker},
//	)
//
// # Human Approval Hooks
//
// A hook is a durable suspension point resumed by token. Create it, fire
// a notification step embedding the token, then await the decision; the
// run parks without holding a goroutine until the callback or the
// timeout arrives:
//
//	h, err := wf.ApprovalHook("msr-approval", "apvl", hook.WithTimeout(2*time.Hour))
//	// notify step sends the approval URL containing h.Token()
//	decision, err := wf.AwaitDecision(h)
//
// # Error Classification
//
// Step errors are retryable unless marked fatal with orchestration.Fatal.
// Retries honor orchestration.RetryableAfter hints; exhausted retries
// convert to fatal and fail the run.
//
// # Run Lifecycle
//
//	pending → running → completed
//	pending → running → failed
//	pending → running → suspended → pending (resume or expiry) → …
package workflow
