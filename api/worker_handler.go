package api

import "net/http"

// listWorkers returns every registered orchestrator instance with its
// heartbeat and leadership status.
func (a *API) listWorkers(w http.ResponseWriter, r *http.Request) {
	if a.clusterStore == nil {
		a.writeError(w, http.StatusNotImplemented, "cluster registry not enabled", "")
		return
	}

	workers, err := a.clusterStore.ListWorkers(r.Context())
	if err != nil {
		a.storeError(w, err, "")
		return
	}

	a.writeJSON(w, http.StatusOK, workers)
}
