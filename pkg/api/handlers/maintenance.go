package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
)

// MaintenanceHandler serves job-status lookup and the retention cleanup
// trigger (spec §6.1, C6).
type MaintenanceHandler struct {
	deps *Deps
}

func NewMaintenanceHandler(deps *Deps) *MaintenanceHandler { return &MaintenanceHandler{deps: deps} }

// JobStatus returns one background job's record by ID, regardless of
// kind (spec §6.1 GET /maintenance/jobs/{job_id}).
func (h *MaintenanceHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := h.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, job)
}

// Cleanup submits a retention-cleanup job applying the current
// log_retention setting (spec §6.1 POST /maintenance/cleanup, §4.10).
func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	job, err := h.deps.Jobs.Submit(r.Context(), model.JobCleanup, nil, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}
