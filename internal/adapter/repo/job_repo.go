package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clearcut/internal/domain"
)

// JobStorePG implements domain.JobStore backed by PostgreSQL. Aggregate job
// status is never stored; it is derived from the task rows on every read.
type JobStorePG struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewJobStore creates a new job store backed by PostgreSQL.
func NewJobStore(pool *pgxpool.Pool) *JobStorePG {
	return &JobStorePG{pool: pool, now: time.Now}
}

// CreateJob inserts the job row and one pending task row per filename in a
// single transaction.
func (r *JobStorePG) CreateJob(ctx context.Context, filenames []string) (*domain.Job, error) {
	if len(filenames) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	job := &domain.Job{
		ID:     uuid.NewString(),
		Images: make(map[string]*domain.ImageTask, len(filenames)),
	}

	row := tx.QueryRow(ctx, `
INSERT INTO jobs (id)
VALUES ($1)
RETURNING created_at, updated_at;
`, job.ID)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}

	for _, filename := range filenames {
		task := &domain.ImageTask{
			ImageID:          uuid.NewString(),
			OriginalFilename: filename,
			Status:           domain.StatusPending,
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO image_tasks (image_id, job_id, original_filename, status)
VALUES ($1, $2, $3, $4);
`, task.ImageID, job.ID, task.OriginalFilename, task.Status); err != nil {
			return nil, err
		}
		job.Images[task.ImageID] = task
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob loads the job row plus all its task rows as one snapshot.
func (r *JobStorePG) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job := &domain.Job{ID: jobID, Images: map[string]*domain.ImageTask{}}

	row := r.pool.QueryRow(ctx, `SELECT created_at, updated_at FROM jobs WHERE id = $1`, jobID)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
SELECT image_id, original_filename, status, download_url, error
FROM image_tasks
WHERE job_id = $1;
`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var task domain.ImageTask
		if err := rows.Scan(&task.ImageID, &task.OriginalFilename, &task.Status, &task.DownloadURL, &task.Error); err != nil {
			return nil, err
		}
		job.Images[task.ImageID] = &task
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateTaskStatus applies a partial update to one task and bumps the parent
// job timestamp, both within one transaction. Empty download_url/error values
// never overwrite stored ones, and terminal tasks never return to pending.
func (r *JobStorePG) UpdateTaskStatus(ctx context.Context, jobID, imageID string, update domain.TaskUpdate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE image_tasks
SET status = $3,
    download_url = CASE WHEN $4 <> '' THEN $4 ELSE download_url END,
    error = CASE WHEN $5 <> '' THEN $5 ELSE error END,
    updated_at = now()
WHERE job_id = $1
  AND image_id = $2
  AND ($3 <> 'pending' OR status = 'pending');
`, jobID, imageID, update.Status, update.DownloadURL, update.Error)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Zero rows means either the task is gone or the pending guard held.
		// A guarded no-op is a successful dropped write, same as the
		// in-memory store, so distinguish the two before reporting.
		var exists bool
		row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM image_tasks WHERE job_id = $1 AND image_id = $2)`, jobID, imageID)
		if err := row.Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `UPDATE jobs SET updated_at = now() WHERE id = $1`, jobID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DeleteJob removes the job; the tasks go with it via the cascade.
func (r *JobStorePG) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListJobs returns a full snapshot ordered by creation time descending. Used
// by cleanup and diagnostics only.
func (r *JobStorePG) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, created_at, updated_at FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	byID := map[string]*domain.Job{}
	for rows.Next() {
		job := &domain.Job{Images: map[string]*domain.ImageTask{}}
		if err := rows.Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
		byID[job.ID] = job
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	taskRows, err := r.pool.Query(ctx, `
SELECT job_id, image_id, original_filename, status, download_url, error
FROM image_tasks;
`)
	if err != nil {
		return nil, err
	}
	defer taskRows.Close()

	for taskRows.Next() {
		var jobID string
		var task domain.ImageTask
		if err := taskRows.Scan(&jobID, &task.ImageID, &task.OriginalFilename, &task.Status, &task.DownloadURL, &task.Error); err != nil {
			return nil, err
		}
		if job, ok := byID[jobID]; ok {
			job.Images[task.ImageID] = &task
		}
	}
	return jobs, taskRows.Err()
}

// CleanupOlderThan deletes jobs created before now-maxAge.
func (r *JobStorePG) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := r.now().Add(-maxAge)
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
