package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clearcut/internal/domain"
	"clearcut/internal/storage"
	"clearcut/pkg/zip"
)

// DownloadImage streams one processed result. The file is served from the
// local path when the backend has one, otherwise from memory.
func (a *App) DownloadImage(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	imageID := chi.URLParam(r, "image_id")
	if jobID == "" || imageID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id and image_id required")
		return
	}

	job, err := a.Orchestrator.GetJob(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	task, ok := job.Images[imageID]
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "image not found in job")
		return
	}
	if task.Status != domain.StatusCompleted {
		a.error(w, http.StatusConflict, "not_ready", fmt.Sprintf("image is %s", task.Status))
		return
	}

	key := storage.ProcessedKey(jobID, task.OriginalFilename)
	filename := storage.ProcessedFilename(task.OriginalFilename)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	if path, err := a.Backend.FilePath(key); err == nil {
		http.ServeFile(w, r, path)
		return
	}

	data, err := a.Backend.GetFile(r.Context(), key)
	if errors.Is(err, storage.ErrFileNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "processed file missing")
		return
	}
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load file")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

// DownloadJobArchive bundles every completed result of a job into one zip.
func (a *App) DownloadJobArchive(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	job, err := a.Orchestrator.GetJob(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	var assets []zip.Asset
	for _, task := range job.Images {
		if task.Status != domain.StatusCompleted {
			continue
		}
		data, err := a.Backend.GetFile(r.Context(), storage.ProcessedKey(jobID, task.OriginalFilename))
		if err != nil {
			a.Log.Warn().Err(err).Str("image_id", task.ImageID).Msg("archive: skipping missing file")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: storage.ProcessedFilename(task.OriginalFilename),
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusConflict, "not_ready", "no completed images to download")
		return
	}

	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", jobID))
	_, _ = w.Write(archive)
}
