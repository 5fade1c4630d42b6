package handlers

import (
	"net/http"

	"clearcut/internal/domain"
)

// AdminStats summarizes the job population and stored bytes.
func (a *App) AdminStats(w http.ResponseWriter, r *http.Request) {
	views, err := a.Orchestrator.ListJobs(r.Context())
	if err != nil {
		a.Log.Error().Err(err).Msg("admin stats: list jobs failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load jobs")
		return
	}

	byStatus := map[domain.Status]int{}
	totalImages := 0
	for _, v := range views {
		byStatus[v.Status]++
		totalImages += v.TotalCount
	}

	stats, err := a.Orchestrator.StorageStats(r.Context())
	if err != nil {
		a.Log.Error().Err(err).Msg("admin stats: storage stats failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load storage stats")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"jobs": map[string]any{
			"total":      len(views),
			"pending":    byStatus[domain.StatusPending],
			"processing": byStatus[domain.StatusProcessing],
			"completed":  byStatus[domain.StatusCompleted],
			"failed":     byStatus[domain.StatusFailed],
		},
		"images": totalImages,
		"storage": map[string]any{
			"original_bytes":  stats.OriginalBytes,
			"processed_bytes": stats.ProcessedBytes,
			"file_count":      stats.FileCount,
		},
	})
}

// AdminJobs lists every job, newest first.
func (a *App) AdminJobs(w http.ResponseWriter, r *http.Request) {
	views, err := a.Orchestrator.ListJobs(r.Context())
	if err != nil {
		a.Log.Error().Err(err).Msg("admin: list jobs failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load jobs")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": views, "count": len(views)})
}
