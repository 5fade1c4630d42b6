package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"clearcut/internal/cache"
	"clearcut/internal/domain"
	"clearcut/internal/processing"
	"clearcut/internal/queue"
	"clearcut/internal/storage"
)

// Executor processes one task message at a time: for each image it loads the
// original, runs the processor for the message's operation, stores the result
// and records the outcome. Per-image failures are recorded in the job store
// and never abort the message; infrastructure errors are also recorded on the
// task before they propagate, leaving the offset unmarked so the broker
// redelivers and a later attempt can still complete the task.
type Executor struct {
	store    domain.JobStore
	backend  storage.Backend
	procs    map[string]processing.Processor
	statuses *cache.StatusCache
	pool     *Pool
	log      zerolog.Logger

	dropped atomic.Int64
}

// NewExecutor wires the executor. procs maps queue operations to their
// processors; an empty message operation falls back to background removal.
// statuses and pool may be nil.
func NewExecutor(store domain.JobStore, backend storage.Backend, procs map[string]processing.Processor, statuses *cache.StatusCache, pool *Pool, log zerolog.Logger) *Executor {
	return &Executor{
		store:    store,
		backend:  backend,
		procs:    procs,
		statuses: statuses,
		pool:     pool,
		log:      log,
	}
}

// DroppedWrites reports how many status writes targeted a job or image that
// no longer exists, typically because the job was deleted or cleaned up while
// its tasks were still queued.
func (e *Executor) DroppedWrites() int64 {
	return e.dropped.Load()
}

// Handle processes every image in the message in submission order. The
// returned error is nil unless infrastructure failed mid-message.
func (e *Executor) Handle(ctx context.Context, msg *queue.TaskMessage) error {
	op := msg.Operation
	if op == "" {
		op = queue.OpRemoveBackground
	}
	proc := e.procs[op]
	if proc == nil {
		// An operation this build does not know. Fail the tasks rather than
		// redeliver forever; the cause names the operation.
		e.log.Error().Str("job_id", msg.JobID).Str("operation", op).Msg("unsupported operation")
		for _, item := range msg.Items {
			if _, err := e.mark(ctx, msg.JobID, item.ImageID, domain.TaskUpdate{
				Status: domain.StatusFailed,
				Error:  fmt.Sprintf("unsupported operation %q", op),
			}); err != nil {
				return err
			}
		}
		return nil
	}

	for _, item := range msg.Items {
		if err := e.handleItem(ctx, msg.JobID, proc, item); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) handleItem(ctx context.Context, jobID string, proc processing.Processor, item queue.TaskItem) error {
	ok, err := e.mark(ctx, jobID, item.ImageID, domain.TaskUpdate{Status: domain.StatusProcessing})
	if err != nil {
		return err
	}
	if !ok {
		// The job vanished between enqueue and delivery. Nothing to do.
		return nil
	}

	data, err := e.backend.GetFile(ctx, item.OriginalPath)
	if errors.Is(err, storage.ErrFileNotFound) {
		_, err := e.mark(ctx, jobID, item.ImageID, domain.TaskUpdate{
			Status: domain.StatusFailed,
			Error:  "original file missing",
		})
		return err
	}
	if err != nil {
		return e.failAndPropagate(ctx, jobID, item.ImageID, fmt.Errorf("load original %s: %w", item.OriginalPath, err))
	}

	var out []byte
	var procErr error
	e.pool.Run(func() {
		out, procErr = proc.Process(ctx, data)
	})
	if procErr != nil {
		e.log.Warn().
			Err(procErr).
			Str("job_id", jobID).
			Str("image_id", item.ImageID).
			Msg("processing failed")
		_, err := e.mark(ctx, jobID, item.ImageID, domain.TaskUpdate{
			Status: domain.StatusFailed,
			Error:  procErr.Error(),
		})
		return err
	}

	if _, err := e.backend.SaveProcessed(ctx, out, item.Filename, jobID); err != nil {
		return e.failAndPropagate(ctx, jobID, item.ImageID, fmt.Errorf("save processed %s: %w", item.ImageID, err))
	}

	_, err = e.mark(ctx, jobID, item.ImageID, domain.TaskUpdate{
		Status:      domain.StatusCompleted,
		DownloadURL: fmt.Sprintf("/api/v1/download/%s/%s", jobID, item.ImageID),
	})
	if err != nil {
		return err
	}
	e.log.Info().
		Str("job_id", jobID).
		Str("image_id", item.ImageID).
		Msg("image processed")
	return nil
}

// failAndPropagate records an infrastructure failure on the task and then
// returns it, so a poller sees the failure immediately while the unmarked
// offset still gets the message redelivered. A redelivered attempt that
// succeeds overwrites the task back to completed.
func (e *Executor) failAndPropagate(ctx context.Context, jobID, imageID string, cause error) error {
	if _, err := e.mark(ctx, jobID, imageID, domain.TaskUpdate{
		Status: domain.StatusFailed,
		Error:  cause.Error(),
	}); err != nil {
		e.log.Warn().Err(err).Str("job_id", jobID).Str("image_id", imageID).Msg("recording failure")
	}
	return cause
}

// mark writes one status update and invalidates the cached view. A missing
// target is counted and logged, not treated as a failure: the write is simply
// dropped. The bool reports whether the target still existed.
func (e *Executor) mark(ctx context.Context, jobID, imageID string, update domain.TaskUpdate) (bool, error) {
	err := e.store.UpdateTaskStatus(ctx, jobID, imageID, update)
	if errors.Is(err, domain.ErrNotFound) {
		e.dropped.Add(1)
		e.log.Warn().
			Str("job_id", jobID).
			Str("image_id", imageID).
			Str("status", string(update.Status)).
			Msg("status write dropped: target no longer exists")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update %s/%s: %w", jobID, imageID, err)
	}
	e.statuses.Invalidate(ctx, jobID)
	return true, nil
}
