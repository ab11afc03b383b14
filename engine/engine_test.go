package engine_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/engine"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/store/memory"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildEngine assembles an engine over the in-memory store with a fast
// poll interval and starts it. The engine is stopped on test cleanup.
func buildEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()

	s := memory.New()
	o, err := orchestration.New(
		orchestration.WithStore(s),
		orchestration.WithLogger(testLogger()),
		orchestration.WithConcurrency(4),
		orchestration.WithPollInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Per-test registry keeps collectors from colliding across tests.
	all := append([]engine.Option{
		engine.WithPrometheusRegistry(prometheus.NewRegistry()),
	}, opts...)

	eng, err := engine.Build(o, all...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})

	return eng, s
}

// waitForStatus polls the store until the run reaches the wanted status.
func waitForStatus(t *testing.T, s *memory.Store, runID id.RunID, want workflow.Status) *workflow.Run {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		run, err := s.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status == want {
			return run
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for status %q, run is %q (error: %s)", want, run.Status, run.Error)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// storerOnly satisfies orchestration.Storer but none of the subsystem
// store interfaces.
type storerOnly struct{}

func (storerOnly) Migrate(context.Context) error { return nil }
func (storerOnly) Ping(context.Context) error    { return nil }
func (storerOnly) Close() error                  { return nil }

func TestBuild_RejectsIncompleteStore(t *testing.T) {
	o, err := orchestration.New(
		orchestration.WithStore(storerOnly{}),
		orchestration.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := engine.Build(o); err == nil {
		t.Fatal("expected Build to reject a store without subsystem interfaces")
	} else if !strings.Contains(err.Error(), "workflow.Store") {
		t.Errorf("error = %q, want mention of the missing interface", err)
	}
}

func TestBuild_RequiresStore(t *testing.T) {
	o, err := orchestration.New(orchestration.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := engine.Build(o); err == nil {
		t.Fatal("expected Build to fail without a store")
	}
}

func TestBuild_WiresSubsystems(t *testing.T) {
	eng, _ := buildEngine(t)

	if eng.Runner() == nil || eng.Pool() == nil || eng.Scheduler() == nil {
		t.Fatal("core subsystems missing after Build")
	}
	if eng.API() == nil || eng.Wire() == nil || eng.Broker() == nil {
		t.Fatal("transport subsystems missing after Build")
	}
	if eng.Redrive() == nil || eng.Extensions() == nil || eng.Events() == nil {
		t.Fatal("support subsystems missing after Build")
	}
	// No gate configs were given, so admission is unlimited.
	if eng.Gates() != nil {
		t.Error("expected nil gate manager without configs")
	}
}

// ── Org validation: fetch, three-way fan-out, consolidate ──

type orgInput struct {
	Domain string `json:"domain"`
}

type orgReport struct {
	Domain     string  `json:"domain"`
	LegalName  string  `json:"legalName"`
	Sector     string  `json:"sector"`
	Confidence float64 `json:"confidence"`
	Validated  bool    `json:"validated"`
}

// registerOrgValidation registers a three-worker research pipeline:
// fetch the site, fan out independent analysts, consolidate their
// partial results into one report.
func registerOrgValidation(eng *engine.Engine) {
	engine.RegisterWorkflow(eng, workflow.NewWorkflow("org-validation",
		func(wf *workflow.Workflow, input orgInput) error {
			site, err := workflow.StepResult(wf, "fetch-site", func(_ context.Context) (string, error) {
				return "<html>" + input.Domain + "</html>", nil
			})
			if err != nil {
				return err
			}

			results, err := workflow.FanOut(wf, "analysts",
				workflow.Task{Name: "legal-entity", Fn: func(_ context.Context) (any, error) {
					if !strings.Contains(site, input.Domain) {
						return nil, orchestration.Fatalf("site content missing")
					}
					return map[string]string{"legalName": "Nike, Inc."}, nil
				}},
				workflow.Task{Name: "industry", Fn: func(_ context.Context) (any, error) {
					return map[string]string{"sector": "Consumer Goods"}, nil
				}},
				workflow.Task{Name: "confidence", Fn: func(_ context.Context) (any, error) {
					return map[string]float64{"confidence": 0.95}, nil
				}},
			)
			if err != nil {
				return err
			}

			return wf.Step("consolidate", func(_ context.Context) error {
				report := orgReport{Domain: input.Domain}
				for _, r := range results {
					if !r.OK() {
						continue
					}
					switch r.Worker {
					case "legal-entity":
						var v struct {
							LegalName string `json:"legalName"`
						}
						if err := wf.Decode(r.Output, &v); err != nil {
							return err
						}
						report.LegalName = v.LegalName
					case "industry":
						var v struct {
							Sector string `json:"sector"`
						}
						if err := wf.Decode(r.Output, &v); err != nil {
							return err
						}
						report.Sector = v.Sector
					case "confidence":
						var v struct {
							Confidence float64 `json:"confidence"`
						}
						if err := wf.Decode(r.Output, &v); err != nil {
							return err
						}
						report.Confidence = v.Confidence
					}
				}
				report.Validated = report.LegalName != "" && report.Sector != ""
				return wf.SetOutput(report)
			})
		}))
}

func TestEngine_OrgValidationFanOut(t *testing.T) {
	eng, s := buildEngine(t)
	registerOrgValidation(eng)

	run, err := engine.StartWorkflow(context.Background(), eng, "org-validation", orgInput{Domain: "nike.com"})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	if run.Status != workflow.StatusPending {
		t.Errorf("initial status = %q, want pending", run.Status)
	}

	done := waitForStatus(t, s, run.ID, workflow.StatusCompleted)

	var report orgReport
	if err := json.Unmarshal(done.Output, &report); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if report.LegalName != "Nike, Inc." {
		t.Errorf("LegalName = %q, want %q", report.LegalName, "Nike, Inc.")
	}
	if report.Sector != "Consumer Goods" {
		t.Errorf("Sector = %q, want %q", report.Sector, "Consumer Goods")
	}
	if report.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95", report.Confidence)
	}
	if !report.Validated {
		t.Error("expected Validated to be true")
	}

	// Every analyst committed its own checkpoint plus the group vector.
	ckpts, err := s.ListCheckpoints(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	names := make(map[string]bool, len(ckpts))
	for _, c := range ckpts {
		names[c.StepName] = true
	}
	for _, want := range []string{
		"fetch-site",
		"analysts:task:0:legal-entity",
		"analysts:task:1:industry",
		"analysts:task:2:confidence",
		"fanout:analysts",
		"consolidate",
	} {
		if !names[want] {
			t.Errorf("missing checkpoint %q", want)
		}
	}
}

// ── Teacher verification: approval hook, suspend, resume ──

type verificationInput struct {
	State    string `json:"state"`
	MSRID    string `json:"msrId"`
	MemberID string `json:"memberId"`
}

type verificationResult struct {
	Verified bool   `json:"verified"`
	Approved bool   `json:"approved"`
	Error    string `json:"error,omitempty"`
}

func registerTeacherVerification(eng *engine.Engine) {
	engine.RegisterWorkflow(eng, workflow.NewWorkflow("teacher-verification",
		func(wf *workflow.Workflow, input verificationInput) error {
			verified, err := workflow.StepResult(wf, "verify-credentials", func(_ context.Context) (bool, error) {
				return input.State != "" && input.MemberID != "", nil
			})
			if err != nil {
				return err
			}

			h, err := wf.ApprovalHook("msr-approval", "apvl")
			if err != nil {
				return err
			}

			decision, err := wf.AwaitDecision(h)
			if err != nil {
				return err
			}

			result := verificationResult{Verified: verified, Approved: decision.Approved}
			if !decision.Approved {
				result.Error = "Verification not approved by MSR"
			}
			return wf.SetOutput(result)
		}))
}

func TestEngine_TeacherVerificationRejected(t *testing.T) {
	eng, s := buildEngine(t)
	registerTeacherVerification(eng)

	run, err := engine.StartWorkflow(context.Background(), eng, "teacher-verification",
		verificationInput{State: "CA", MSRID: "msr-1", MemberID: "12345"})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	// The run parks at the approval gate with its token persisted.
	suspended := waitForStatus(t, s, run.ID, workflow.StatusSuspended)
	if suspended.AwaitToken == "" {
		t.Fatal("suspended run has no await token")
	}
	if !strings.HasPrefix(suspended.AwaitToken, "apvl_") {
		t.Errorf("token = %q, want apvl_ prefix", suspended.AwaitToken)
	}

	resumed, err := eng.ResumeHook(context.Background(), suspended.AwaitToken,
		[]byte(`{"approved": false, "comment": "license lapsed"}`), "msr-1")
	if err != nil {
		t.Fatalf("ResumeHook: %v", err)
	}
	if resumed.ID != run.ID {
		t.Errorf("resumed run = %s, want %s", resumed.ID, run.ID)
	}

	done := waitForStatus(t, s, run.ID, workflow.StatusCompleted)

	var result verificationResult
	if err := json.Unmarshal(done.Output, &result); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !result.Verified {
		t.Error("expected Verified true: credentials checked out before the gate")
	}
	if result.Approved {
		t.Error("expected Approved false")
	}
	if result.Error != "Verification not approved by MSR" {
		t.Errorf("Error = %q, want %q", result.Error, "Verification not approved by MSR")
	}

	// A second resume on the same token loses the race deterministically.
	if _, err := eng.ResumeHook(context.Background(), suspended.AwaitToken,
		[]byte(`{"approved": true}`), "msr-2"); err == nil {
		t.Error("expected the second resume to fail")
	}
}

func TestEngine_TeacherVerificationApproved(t *testing.T) {
	eng, s := buildEngine(t)
	registerTeacherVerification(eng)

	run, err := engine.StartWorkflow(context.Background(), eng, "teacher-verification",
		verificationInput{State: "CA", MSRID: "msr-1", MemberID: "12345"})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	suspended := waitForStatus(t, s, run.ID, workflow.StatusSuspended)

	if _, err := eng.ResumeHook(context.Background(), suspended.AwaitToken,
		[]byte(`{"approved": true, "by": "msr-1"}`), "msr-1"); err != nil {
		t.Fatalf("ResumeHook: %v", err)
	}

	done := waitForStatus(t, s, run.ID, workflow.StatusCompleted)

	var result verificationResult
	if err := json.Unmarshal(done.Output, &result); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !result.Verified || !result.Approved {
		t.Errorf("result = %+v, want verified and approved", result)
	}
	if result.Error != "" {
		t.Errorf("Error = %q, want empty", result.Error)
	}
}

func TestEngine_ResumeHookValidatesPayload(t *testing.T) {
	eng, s := buildEngine(t)
	registerTeacherVerification(eng)

	run, err := engine.StartWorkflow(context.Background(), eng, "teacher-verification",
		verificationInput{State: "CA", MSRID: "msr-1", MemberID: "12345"})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	suspended := waitForStatus(t, s, run.ID, workflow.StatusSuspended)

	// The approval schema requires a boolean "approved" field.
	if _, err := eng.ResumeHook(context.Background(), suspended.AwaitToken,
		[]byte(`{"approved": "yes"}`), "msr-1"); err == nil {
		t.Fatal("expected schema validation to reject a string approved field")
	}

	// The hook survives the bad payload; a valid resume still works.
	if _, err := eng.ResumeHook(context.Background(), suspended.AwaitToken,
		[]byte(`{"approved": true}`), "msr-1"); err != nil {
		t.Fatalf("ResumeHook after invalid payload: %v", err)
	}
	waitForStatus(t, s, run.ID, workflow.StatusCompleted)
}

func TestEngine_RegisterSchedule(t *testing.T) {
	eng, _ := buildEngine(t)
	registerOrgValidation(eng)

	ctx := context.Background()
	if err := engine.RegisterSchedule(ctx, eng, "nightly-validation", "@every 1h",
		"org-validation", orgInput{Domain: "nike.com"}); err != nil {
		t.Fatalf("RegisterSchedule: %v", err)
	}

	// Re-registering the same name is a no-op.
	if err := engine.RegisterSchedule(ctx, eng, "nightly-validation", "@every 1h",
		"org-validation", orgInput{Domain: "nike.com"}); err != nil {
		t.Fatalf("idempotent RegisterSchedule: %v", err)
	}

	if err := engine.RegisterSchedule(ctx, eng, "bad", "not a cron expr",
		"org-validation", orgInput{}); err == nil {
		t.Error("expected an invalid expression to be rejected")
	}
}
