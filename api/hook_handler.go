package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
)

type resumeHookResponse struct {
	OK    bool   `json:"ok"`
	RunID string `json:"run_id"`
}

// resumeHook resolves a pending hook and wakes its suspended run. The
// token travels in the body ({"token": "...", ...}) or as a ?token=
// query parameter; every other body field is the resolution payload
// handed to the waiting workflow.
//
// A missing or mistyped token and schema-violating payloads are the
// caller's fault (400). Unknown, expired, and already-resolved hooks
// are indistinguishable to the caller (404).
func (a *API) resumeHook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "read body: "+err.Error(), "")
		return
	}

	fields := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			a.writeError(w, http.StatusBadRequest, "decode body: "+err.Error(), "")
			return
		}
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		raw, ok := fields["token"]
		if !ok {
			a.writeError(w, http.StatusBadRequest, "token is required", "")
			return
		}
		if err := json.Unmarshal(raw, &token); err != nil {
			a.writeError(w, http.StatusBadRequest, "token must be a string", "")
			return
		}
	}

	var by string
	if raw, ok := fields["by"]; ok {
		_ = json.Unmarshal(raw, &by)
	}

	// The remaining fields are the resolution payload.
	delete(fields, "token")
	delete(fields, "by")
	payload, err := json.Marshal(fields)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "encode payload: "+err.Error(), "")
		return
	}

	run, err := a.runner.ResumeHook(r.Context(), token, payload, by)
	switch {
	case errors.Is(err, orchestration.ErrHookNotFound):
		a.writeError(w, http.StatusNotFound, err.Error(), "")
		return
	case err != nil:
		// Schema violations and malformed payloads.
		a.writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	a.writeJSON(w, http.StatusOK, resumeHookResponse{
		OK:    true,
		RunID: run.ID.String(),
	})
}
