package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clearcut/internal/domain"
)

// JobStatus serves the derived status view of a job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	view, err := a.Orchestrator.QueryStatus(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		a.Log.Error().Err(err).Str("job_id", jobID).Msg("status query failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, view)
}

// DeleteJob removes a job along with its tasks and stored files.
func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	existed, err := a.Orchestrator.Delete(r.Context(), jobID)
	if err != nil {
		a.Log.Error().Err(err).Str("job_id", jobID).Msg("job delete failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete job")
		return
	}
	if !existed {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "deleted"})
}
