package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matnordlund/netwall-flow-analyzer/internal/importer"
	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

// IngestHandler serves the upload and job-control endpoints (spec §6.1,
// C6, C8).
type IngestHandler struct {
	deps *Deps
}

func NewIngestHandler(deps *Deps) *IngestHandler { return &IngestHandler{deps: deps} }

// Upload accepts a multipart file upload, streams it to UploadDir, and
// submits an import job referencing the saved path (spec §6.1 POST
// /ingest/upload, C8). The job's Runner (registered at startup) performs
// the actual parse-and-store work; this handler only persists the bytes
// and hands off.
func (h *IngestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.deps.Importer.MaxUploadSize); err != nil {
		writeError(w, netwallerr.Validation("file", "failed to parse multipart body: "+err.Error()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, netwallerr.Validation("file", "missing file field"))
		return
	}
	defer file.Close()

	if err := importer.ValidateUploadSize(header, h.deps.Importer.MaxUploadSize); err != nil {
		writeError(w, err)
		return
	}

	if err := os.MkdirAll(h.deps.UploadDir, 0o755); err != nil {
		writeError(w, netwallerr.StorageUnavailable(err))
		return
	}
	destPath := filepath.Join(h.deps.UploadDir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(header.Filename)))
	dest, err := os.Create(destPath)
	if err != nil {
		writeError(w, netwallerr.StorageUnavailable(err))
		return
	}
	if _, err := io.Copy(dest, file); err != nil {
		dest.Close()
		writeError(w, netwallerr.StorageUnavailable(err))
		return
	}
	dest.Close()

	var deviceKey *string
	if dk := r.FormValue("device_key"); dk != "" {
		deviceKey = &dk
	}

	job, err := h.deps.Jobs.Submit(r.Context(), model.JobImport, deviceKey, &destPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// Jobs lists ingest jobs, optionally filtered by state (spec §6.1 GET
// /ingest/jobs).
func (h *IngestHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, netwallerr.Validation("limit", "must be a positive integer"))
			return
		}
		limit = n
	}
	jobs, err := h.deps.Jobs.List(r.Context(), state, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, jobs)
}

// UploadStatus returns one job's current state (spec §6.1 GET
// /ingest/upload/status).
func (h *IngestHandler) UploadStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, netwallerr.Validation("job_id", "job_id is required"))
		return
	}
	job, err := h.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, job)
}

// Cancel requests cancellation of a running job (spec §6.1 POST
// /ingest/jobs/{job_id}/cancel).
func (h *IngestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := h.deps.Jobs.Cancel(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a finished job's record (spec §6.1 DELETE
// /ingest/jobs/{job_id}).
func (h *IngestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := h.deps.Jobs.Delete(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
