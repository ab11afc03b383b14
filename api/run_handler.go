package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// defaultListLimit bounds unpaginated list responses.
const defaultListLimit = 50

type startRunResponse struct {
	RunID  string `json:"run_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// startRun accepts a raw JSON input body and starts a new run. The
// run executes asynchronously; the response carries only its identity.
func (a *API) startRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	input, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "read input: "+err.Error(), "")
		return
	}
	if len(input) == 0 {
		input = []byte("null")
	}

	run, err := a.runner.StartRaw(r.Context(), name, input)
	if err != nil {
		a.storeError(w, err, "")
		return
	}

	a.writeJSON(w, http.StatusAccepted, startRunResponse{
		RunID:  run.ID.String(),
		Name:   run.Name,
		Status: string(run.Status),
	})
}

func (a *API) listWorkflows(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string][]string{
		"workflows": a.runner.Registry().Names(),
	})
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid run ID: "+err.Error(), "")
		return
	}

	run, err := a.runner.Store().GetRun(r.Context(), runID)
	if err != nil {
		a.storeError(w, err, runID.String())
		return
	}

	a.writeJSON(w, http.StatusOK, run)
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	opts := workflow.ListOpts{
		Status: workflow.Status(r.URL.Query().Get("state")),
		Name:   r.URL.Query().Get("name"),
		Limit:  queryInt(r, "limit", defaultListLimit),
		Offset: queryInt(r, "offset", 0),
	}

	runs, err := a.runner.Store().ListRuns(r.Context(), opts)
	if err != nil {
		a.storeError(w, err, "")
		return
	}

	a.writeJSON(w, http.StatusOK, runs)
}

func (a *API) runTimeline(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid run ID: "+err.Error(), "")
		return
	}

	entries, err := a.runner.Timeline(r.Context(), runID)
	if err != nil {
		a.storeError(w, err, runID.String())
		return
	}

	a.writeJSON(w, http.StatusOK, entries)
}

type replayRunRequest struct {
	FromStep string `json:"from_step"`
}

// replayRun discards checkpoints from the named step onward and
// re-queues the run. Committed steps before the cut keep their results.
func (a *API) replayRun(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid run ID: "+err.Error(), "")
		return
	}

	var req replayRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "decode body: "+err.Error(), runID.String())
		return
	}
	if req.FromStep == "" {
		a.writeError(w, http.StatusBadRequest, "from_step is required", runID.String())
		return
	}

	run, err := a.runner.ReplayFrom(r.Context(), runID, req.FromStep)
	if err != nil {
		a.storeError(w, err, runID.String())
		return
	}

	a.writeJSON(w, http.StatusOK, run)
}

// retriggerRun starts a fresh run from a failed one, reusing its input.
func (a *API) retriggerRun(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid run ID: "+err.Error(), "")
		return
	}

	fresh, err := a.runner.Retrigger(r.Context(), runID)
	if err != nil {
		a.storeError(w, err, runID.String())
		return
	}

	a.writeJSON(w, http.StatusAccepted, startRunResponse{
		RunID:  fresh.ID.String(),
		Name:   fresh.Name,
		Status: string(fresh.Status),
	})
}

// watchRun upgrades to a WebSocket and streams the run's live events.
func (a *API) watchRun(w http.ResponseWriter, r *http.Request) {
	if a.wire == nil {
		a.writeError(w, http.StatusNotImplemented, "live streaming not enabled", "")
		return
	}

	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid run ID: "+err.Error(), "")
		return
	}

	a.wire.WatchRun(w, r, runID.String())
}
