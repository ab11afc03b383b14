package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/scope"
)

func (a *API) listSchedules(w http.ResponseWriter, r *http.Request) {
	if a.cronStore == nil {
		a.writeError(w, http.StatusNotImplemented, "schedules not enabled", "")
		return
	}

	schedules, err := a.cronStore.ListSchedules(r.Context())
	if err != nil {
		a.storeError(w, err, "")
		return
	}

	a.writeJSON(w, http.StatusOK, schedules)
}

type createScheduleRequest struct {
	Name     string          `json:"name"`
	Expr     string          `json:"expr"`
	Workflow string          `json:"workflow"`
	Input    json.RawMessage `json:"input,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`
}

// createSchedule registers a recurring workflow trigger. The cron
// expression is validated up front and the first firing time computed
// so the schedule is ready for the next scheduler tick.
func (a *API) createSchedule(w http.ResponseWriter, r *http.Request) {
	if a.cronStore == nil {
		a.writeError(w, http.StatusNotImplemented, "schedules not enabled", "")
		return
	}

	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "decode body: "+err.Error(), "")
		return
	}
	if req.Name == "" || req.Expr == "" || req.Workflow == "" {
		a.writeError(w, http.StatusBadRequest, "name, expr, and workflow are required", "")
		return
	}

	parsed, err := cron.ParseExpr(req.Expr)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid cron expression: "+err.Error(), "")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	next := parsed.Next(time.Now().UTC())
	appID, orgID := scope.Capture(r.Context())
	s := &cron.Schedule{
		Entity:     orchestration.NewEntity(),
		ID:         id.NewScheduleID(),
		Name:       req.Name,
		Expr:       req.Expr,
		Workflow:   req.Workflow,
		Input:      req.Input,
		ScopeAppID: appID,
		ScopeOrgID: orgID,
		NextRunAt:  &next,
		Enabled:    enabled,
	}

	if err := a.cronStore.RegisterSchedule(r.Context(), s); err != nil {
		a.storeError(w, err, "")
		return
	}

	a.writeJSON(w, http.StatusCreated, s)
}

func (a *API) getSchedule(w http.ResponseWriter, r *http.Request) {
	if a.cronStore == nil {
		a.writeError(w, http.StatusNotImplemented, "schedules not enabled", "")
		return
	}

	scheduleID, err := id.ParseScheduleID(chi.URLParam(r, "scheduleID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid schedule ID: "+err.Error(), "")
		return
	}

	s, err := a.cronStore.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		a.storeError(w, err, "")
		return
	}

	a.writeJSON(w, http.StatusOK, s)
}

func (a *API) enableSchedule(w http.ResponseWriter, r *http.Request) {
	a.setScheduleEnabled(w, r, true)
}

func (a *API) disableSchedule(w http.ResponseWriter, r *http.Request) {
	a.setScheduleEnabled(w, r, false)
}

func (a *API) setScheduleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if a.cronStore == nil {
		a.writeError(w, http.StatusNotImplemented, "schedules not enabled", "")
		return
	}

	scheduleID, err := id.ParseScheduleID(chi.URLParam(r, "scheduleID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid schedule ID: "+err.Error(), "")
		return
	}

	s, err := a.cronStore.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		a.storeError(w, err, "")
		return
	}

	s.Enabled = enabled
	if enabled {
		// Recompute the next firing so a long-disabled schedule does
		// not fire immediately for every missed tick.
		if parsed, parseErr := cron.ParseExpr(s.Expr); parseErr == nil {
			next := parsed.Next(time.Now().UTC())
			s.NextRunAt = &next
		}
	}
	s.Touch()

	if err := a.cronStore.UpdateSchedule(r.Context(), s); err != nil {
		a.storeError(w, err, "")
		return
	}

	a.writeJSON(w, http.StatusOK, s)
}

func (a *API) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if a.cronStore == nil {
		a.writeError(w, http.StatusNotImplemented, "schedules not enabled", "")
		return
	}

	scheduleID, err := id.ParseScheduleID(chi.URLParam(r, "scheduleID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid schedule ID: "+err.Error(), "")
		return
	}

	if err := a.cronStore.DeleteSchedule(r.Context(), scheduleID); err != nil {
		a.storeError(w, err, "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
