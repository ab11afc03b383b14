// Package api exposes the orchestrator over HTTP: starting runs,
// resuming hooks, inspecting run timelines, and managing schedules
// and workers. Routes are mounted on a chi router and all responses
// are JSON. Errors carry a structured body:
//
//	{"error": "...", "run_id": "..."}
//
// Stack traces never leave the process; the recoverer middleware
// converts panics to 500s.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/wire"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// API wires the orchestrator's HTTP handlers together.
type API struct {
	runner       *workflow.Runner
	cronStore    cron.Store
	clusterStore cluster.Store
	wire         *wire.Server
	logger       *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithSchedules enables the /api/schedules routes against the given store.
func WithSchedules(s cron.Store) Option {
	return func(a *API) { a.cronStore = s }
}

// WithWorkers enables the /api/workers route against the given store.
func WithWorkers(s cluster.Store) Option {
	return func(a *API) { a.clusterStore = s }
}

// WithWire enables the /api/runs/{id}/watch WebSocket route.
func WithWire(srv *wire.Server) Option {
	return func(a *API) { a.wire = srv }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API serving the given runner.
func New(runner *workflow.Runner, opts ...Option) *API {
	a := &API{
		runner: runner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts all orchestrator routes on the given router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/workflows", a.listWorkflows)
		r.Post("/workflows/{name}/runs", a.startRun)

		r.Post("/hooks/resume", a.resumeHook)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", a.listRuns)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", a.getRun)
				r.Get("/timeline", a.runTimeline)
				r.Post("/replay", a.replayRun)
				r.Post("/retrigger", a.retriggerRun)
				r.Get("/watch", a.watchRun)
			})
		})

		r.Get("/workers", a.listWorkers)

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", a.listSchedules)
			r.Post("/", a.createSchedule)
			r.Route("/{scheduleID}", func(r chi.Router) {
				r.Get("/", a.getSchedule)
				r.Post("/enable", a.enableSchedule)
				r.Post("/disable", a.disableSchedule)
				r.Delete("/", a.deleteSchedule)
			})
		})
	})
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Response helpers ──────────────────────────────────

// errorBody is the structured error payload returned on all failures.
type errorBody struct {
	Error string `json:"error"`
	RunID string `json:"run_id,omitempty"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg, runID string) {
	a.writeJSON(w, status, errorBody{Error: msg, RunID: runID})
}

// storeError maps sentinel errors to HTTP statuses and writes the
// structured error body.
func (a *API) storeError(w http.ResponseWriter, err error, runID string) {
	a.writeError(w, statusFor(err), err.Error(), runID)
}

func statusFor(err error) int {
	switch {
	case isNotFound(err):
		return http.StatusNotFound
	case isConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, orchestration.ErrRunNotFound) ||
		errors.Is(err, orchestration.ErrWorkflowNotFound) ||
		errors.Is(err, orchestration.ErrHookNotFound) ||
		errors.Is(err, orchestration.ErrHookExpired) ||
		errors.Is(err, orchestration.ErrScheduleNotFound) ||
		errors.Is(err, orchestration.ErrEventNotFound) ||
		errors.Is(err, orchestration.ErrWorkerNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, orchestration.ErrRunNotResumable) ||
		errors.Is(err, orchestration.ErrHookResolved) ||
		errors.Is(err, orchestration.ErrRunAlreadyExists) ||
		errors.Is(err, orchestration.ErrDuplicateSchedule)
}

// queryInt parses an integer query parameter, returning def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
