package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clearcut/internal/domain"
	"clearcut/internal/queue"
	"clearcut/internal/storage"
)

// Upload is one validated multipart file handed in by the HTTP layer.
type Upload struct {
	Filename string
	Data     []byte
}

// ViewCache holds serialized job views between status writes. Implementations
// must tolerate concurrent invalidation; the Redis-backed one in
// internal/cache is the production implementation.
type ViewCache interface {
	Get(ctx context.Context, jobID string) ([]byte, bool)
	Set(ctx context.Context, jobID string, data []byte)
	Invalidate(ctx context.Context, jobID string)
}

// ImageView is the per-task slice of a status response.
type ImageView struct {
	OriginalFilename string        `json:"original_filename"`
	Status           domain.Status `json:"status"`
	DownloadURL      string        `json:"download_url,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// JobView is the client-facing shape of a job. Status and progress are
// derived from the task set at read time.
type JobView struct {
	JobID          string               `json:"job_id"`
	Status         domain.Status        `json:"status"`
	Progress       float64              `json:"progress"`
	CompletedCount int                  `json:"completed_count"`
	TotalCount     int                  `json:"total_count"`
	CreatedAt      time.Time            `json:"created_at"`
	Images         map[string]ImageView `json:"images"`
}

// NewJobView projects a domain job into its response shape.
func NewJobView(job *domain.Job) *JobView {
	images := make(map[string]ImageView, len(job.Images))
	for id, img := range job.Images {
		images[id] = ImageView{
			OriginalFilename: img.OriginalFilename,
			Status:           img.Status,
			DownloadURL:      img.DownloadURL,
			Error:            img.Error,
		}
	}
	return &JobView{
		JobID:          job.ID,
		Status:         job.Status(),
		Progress:       job.Progress(),
		CompletedCount: job.TerminalCount(),
		TotalCount:     job.TotalCount(),
		CreatedAt:      job.CreatedAt,
		Images:         images,
	}
}

// Orchestrator coordinates job creation across the store, storage backend and
// task queue, and serves status reads.
type Orchestrator struct {
	store     domain.JobStore
	enqueuer  queue.Enqueuer
	backend   storage.Backend
	statuses  ViewCache
	log       zerolog.Logger
	retention time.Duration
	now       func() time.Time
}

// NewOrchestrator wires the service. statuses may be nil when Redis is not
// configured.
func NewOrchestrator(store domain.JobStore, enq queue.Enqueuer, backend storage.Backend, statuses ViewCache, log zerolog.Logger, retention time.Duration) *Orchestrator {
	return &Orchestrator{
		store:     store,
		enqueuer:  enq,
		backend:   backend,
		statuses:  statuses,
		log:       log,
		retention: retention,
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// SubmitSingle creates a one-task background-removal job for the upload and
// enqueues it.
func (o *Orchestrator) SubmitSingle(ctx context.Context, file Upload) (*JobView, error) {
	return o.submit(ctx, queue.OpRemoveBackground, []Upload{file})
}

// SubmitWatermarkRemoval creates a one-task watermark-removal job.
func (o *Orchestrator) SubmitWatermarkRemoval(ctx context.Context, file Upload) (*JobView, error) {
	return o.submit(ctx, queue.OpRemoveWatermark, []Upload{file})
}

// SubmitBatch creates a multi-task background-removal job. Anonymous callers
// are always allowed; an authenticated caller is rejected when their tier
// disallows batch.
func (o *Orchestrator) SubmitBatch(ctx context.Context, cred *domain.Credential, files []Upload) (*JobView, error) {
	if cred != nil && !cred.BatchAllowed() {
		return nil, domain.ErrBatchNotAllowed
	}
	if len(files) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	return o.submit(ctx, queue.OpRemoveBackground, files)
}

func (o *Orchestrator) submit(ctx context.Context, op string, files []Upload) (*JobView, error) {
	// Duplicate filenames within one submission get a numeric suffix so each
	// task owns a distinct storage key; otherwise a later upload would
	// overwrite an earlier one under original/{job_id}/{filename}.
	seen := make(map[string]int, len(files))
	filenames := make([]string, len(files))
	for i, f := range files {
		filenames[i] = uniqueFilename(seen, f.Filename)
	}

	job, err := o.store.CreateJob(ctx, filenames)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	byName := make(map[string]*domain.ImageTask, len(job.Images))
	for _, task := range job.Images {
		byName[task.OriginalFilename] = task
	}

	items := make([]queue.TaskItem, 0, len(files))
	saved := make([]string, 0, len(files))
	for i, f := range files {
		task := byName[filenames[i]]
		if task == nil {
			o.rollback(ctx, job.ID, saved)
			return nil, fmt.Errorf("no task generated for %q", filenames[i])
		}

		key, err := o.backend.SaveOriginal(ctx, f.Data, filenames[i], job.ID)
		if err != nil {
			o.rollback(ctx, job.ID, saved)
			return nil, fmt.Errorf("save original %q: %w", filenames[i], err)
		}
		saved = append(saved, key)
		items = append(items, queue.TaskItem{
			ImageID:      task.ImageID,
			OriginalPath: key,
			Filename:     filenames[i],
		})
	}

	msg := &queue.TaskMessage{JobID: job.ID, Operation: op, Items: items}
	if err := o.enqueuer.Enqueue(ctx, msg); err != nil {
		o.rollback(ctx, job.ID, saved)
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	o.log.Info().
		Str("job_id", job.ID).
		Str("operation", op).
		Int("images", len(items)).
		Msg("job submitted")
	return NewJobView(job), nil
}

func uniqueFilename(seen map[string]int, name string) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s-%d%s", stem, n, ext)
}

// rollback undoes a partial submission so the client can safely retry.
func (o *Orchestrator) rollback(ctx context.Context, jobID string, keys []string) {
	for _, key := range keys {
		if _, err := o.backend.DeleteFile(ctx, key); err != nil {
			o.log.Warn().Err(err).Str("key", key).Msg("rollback: delete file")
		}
	}
	if _, err := o.store.DeleteJob(ctx, jobID); err != nil {
		o.log.Warn().Err(err).Str("job_id", jobID).Msg("rollback: delete job")
	}
}

// QueryStatus returns the derived view of a job, serving from the cache when
// a copy exists. Only terminal views are cached: a terminal view can no
// longer change under concurrent status writes, while caching an in-flight
// snapshot could race a worker's write-then-invalidate and pin a stale view
// for the full TTL.
func (o *Orchestrator) QueryStatus(ctx context.Context, jobID string) (*JobView, error) {
	if o.statuses != nil {
		if data, ok := o.statuses.Get(ctx, jobID); ok {
			var view JobView
			if err := json.Unmarshal(data, &view); err == nil {
				return &view, nil
			}
			o.statuses.Invalidate(ctx, jobID)
		}
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := NewJobView(job)
	if o.statuses != nil && view.Status.IsTerminal() {
		if data, err := json.Marshal(view); err == nil {
			o.statuses.Set(ctx, jobID, data)
		}
	}
	return view, nil
}

// GetJob loads the raw job, for the download surface.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// Delete removes a job, its tasks, its stored files and its cached view.
// Reports whether the job existed.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) (bool, error) {
	existed, err := o.store.DeleteJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	for _, prefix := range storage.JobPrefixes(jobID) {
		keys, err := o.backend.ListFiles(ctx, prefix)
		if err != nil {
			o.log.Warn().Err(err).Str("prefix", prefix).Msg("delete: list files")
			continue
		}
		for _, key := range keys {
			if _, err := o.backend.DeleteFile(ctx, key); err != nil {
				o.log.Warn().Err(err).Str("key", key).Msg("delete: remove file")
			}
		}
	}
	if o.statuses != nil {
		o.statuses.Invalidate(ctx, jobID)
	}
	return existed, nil
}

// ListJobs returns views of every job, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context) ([]*JobView, error) {
	jobs, err := o.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*JobView, len(jobs))
	for i, job := range jobs {
		views[i] = NewJobView(job)
	}
	return views, nil
}

// Cleanup removes jobs and per-job storage directories older than the
// retention window. The two sweeps are independent: files may outlive their
// job rows or vice versa, and each side is reaped on its own evidence.
func (o *Orchestrator) Cleanup(ctx context.Context) (jobs, dirs int, err error) {
	jobs, err = o.store.CleanupOlderThan(ctx, o.retention)
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	cutoff := o.now().Add(-o.retention)
	dirs, err = o.backend.SweepOlderThan(ctx, cutoff)
	if err != nil {
		return jobs, 0, fmt.Errorf("sweep storage: %w", err)
	}
	if jobs > 0 || dirs > 0 {
		o.log.Info().Int("jobs", jobs).Int("dirs", dirs).Msg("cleanup pass")
	}
	return jobs, dirs, nil
}

// StorageStats reports stored byte totals for the admin surface.
func (o *Orchestrator) StorageStats(ctx context.Context) (storage.Stats, error) {
	return o.backend.Stats(ctx)
}
