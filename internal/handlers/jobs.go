package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/store"
)

// JobListResponse wraps a page of job states.
type JobListResponse struct {
	Jobs  []models.FileProcessingJobState `json:"jobs"`
	Count int                             `json:"count"`
}

// ListJobs returns the currently running jobs, or with ?collectionId= the
// full job history of one collection, newest first.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	var (
		jobs []models.FileProcessingJobState
		err  error
	)

	if collectionID := r.URL.Query().Get("collectionId"); collectionID != "" {
		jobs, err = h.store.GetJobStatesForCollection(r.Context(), collectionID)
	} else {
		jobs, err = h.store.GetRunningJobs(r.Context())
	}
	if err != nil {
		logging.Error("ListJobs: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []models.FileProcessingJobState{}
	}

	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// GetJob returns the monitor's snapshot of one job: progress, timing,
// throughput, and the health verdict.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	status, err := h.status.GetJobStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		logging.Error("GetJob %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "Failed to load job status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// CancelJob pauses a job and marks it non-resumable. In-flight messages for
// the job drain as skips; a finished job cannot be cancelled.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	err := h.store.CancelJob(r.Context(), jobID)
	switch {
	case err == nil:
		logging.Info("Job %s cancelled via API", jobID)
		writeStatus(w, http.StatusOK, "cancelled")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "Job already finished")
	default:
		logging.Error("CancelJob %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "Failed to cancel job")
	}
}
