package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clearcut/internal/adapter/repo"
	"clearcut/internal/domain"
	"clearcut/internal/processing"
	"clearcut/internal/queue"
	"clearcut/internal/storage"
)

var upperProc = processing.Func(func(_ context.Context, data []byte) ([]byte, error) {
	return []byte(strings.ToUpper(string(data))), nil
})

func newTestExecutor(t *testing.T, proc processing.Processor) (*Executor, domain.JobStore, storage.Backend) {
	t.Helper()
	store := repo.NewJobStoreMemory()
	backend, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	procs := map[string]processing.Processor{queue.OpRemoveBackground: proc}
	exec := NewExecutor(store, backend, procs, nil, NewPool(2), zerolog.Nop())
	return exec, store, backend
}

// seedJob creates a job with the given files already stored and returns the
// message a submission would have enqueued.
func seedJob(t *testing.T, store domain.JobStore, backend storage.Backend, files map[string]string) *queue.TaskMessage {
	t.Helper()
	ctx := context.Background()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	job, err := store.CreateJob(ctx, names)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	msg := &queue.TaskMessage{JobID: job.ID}
	for _, task := range job.Images {
		key, err := backend.SaveOriginal(ctx, []byte(files[task.OriginalFilename]), task.OriginalFilename, job.ID)
		if err != nil {
			t.Fatalf("SaveOriginal: %v", err)
		}
		msg.Items = append(msg.Items, queue.TaskItem{
			ImageID:      task.ImageID,
			OriginalPath: key,
			Filename:     task.OriginalFilename,
		})
	}
	return msg
}

func TestHandleCompletesTask(t *testing.T) {
	exec, store, backend := newTestExecutor(t, upperProc)
	ctx := context.Background()
	msg := seedJob(t, store, backend, map[string]string{"cat.jpg": "meow"})

	if err := exec.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	job, err := store.GetJob(ctx, msg.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status() != domain.StatusCompleted {
		t.Fatalf("job status = %q, want completed", job.Status())
	}
	task := job.Images[msg.Items[0].ImageID]
	wantURL := "/api/v1/download/" + msg.JobID + "/" + task.ImageID
	if task.DownloadURL != wantURL {
		t.Fatalf("download url = %q, want %q", task.DownloadURL, wantURL)
	}

	out, err := backend.GetFile(ctx, storage.ProcessedKey(msg.JobID, "cat.jpg"))
	if err != nil || string(out) != "MEOW" {
		t.Fatalf("processed output = (%q, %v)", out, err)
	}
}

func TestHandleRecordsFailureAndContinues(t *testing.T) {
	flaky := processing.Func(func(_ context.Context, data []byte) ([]byte, error) {
		if string(data) == "bad" {
			return nil, errors.New("unsupported pixel format")
		}
		return data, nil
	})
	exec, store, backend := newTestExecutor(t, flaky)
	ctx := context.Background()
	msg := seedJob(t, store, backend, map[string]string{"good.png": "fine", "bad.png": "bad"})

	if err := exec.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	job, err := store.GetJob(ctx, msg.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	// One success plus one failure is still an overall success.
	if job.Status() != domain.StatusCompleted {
		t.Fatalf("job status = %q, want completed", job.Status())
	}
	for _, task := range job.Images {
		switch task.OriginalFilename {
		case "bad.png":
			if task.Status != domain.StatusFailed || task.Error != "unsupported pixel format" {
				t.Fatalf("bad task = %+v", task)
			}
		case "good.png":
			if task.Status != domain.StatusCompleted {
				t.Fatalf("good task = %+v", task)
			}
		}
	}
}

func TestHandleMissingOriginalFailsTask(t *testing.T) {
	exec, store, backend := newTestExecutor(t, upperProc)
	ctx := context.Background()
	msg := seedJob(t, store, backend, map[string]string{"cat.jpg": "meow"})

	if _, err := backend.DeleteFile(ctx, msg.Items[0].OriginalPath); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if err := exec.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	job, _ := store.GetJob(ctx, msg.JobID)
	task := job.Images[msg.Items[0].ImageID]
	if task.Status != domain.StatusFailed || task.Error != "original file missing" {
		t.Fatalf("task = %+v, want failed with missing-file cause", task)
	}
}

func TestHandleDropsWritesForDeletedJob(t *testing.T) {
	exec, store, backend := newTestExecutor(t, upperProc)
	ctx := context.Background()
	msg := seedJob(t, store, backend, map[string]string{"cat.jpg": "meow"})

	if _, err := store.DeleteJob(ctx, msg.JobID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}

	if err := exec.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle after delete: %v", err)
	}
	if got := exec.DroppedWrites(); got != 1 {
		t.Fatalf("dropped writes = %d, want 1", got)
	}
	// Nothing should have been processed for the vanished job.
	keys, err := backend.ListFiles(ctx, "processed")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("processed output for deleted job: %v", keys)
	}
}

func TestHandleRedeliveryIsIdempotent(t *testing.T) {
	exec, store, backend := newTestExecutor(t, upperProc)
	ctx := context.Background()
	msg := seedJob(t, store, backend, map[string]string{"cat.jpg": "meow"})

	if err := exec.Handle(ctx, msg); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if err := exec.Handle(ctx, msg); err != nil {
		t.Fatalf("redelivered Handle: %v", err)
	}

	job, _ := store.GetJob(ctx, msg.JobID)
	if job.Status() != domain.StatusCompleted {
		t.Fatalf("job status after redelivery = %q, want completed", job.Status())
	}
	out, err := backend.GetFile(ctx, storage.ProcessedKey(msg.JobID, "cat.jpg"))
	if err != nil || string(out) != "MEOW" {
		t.Fatalf("processed output = (%q, %v)", out, err)
	}
}

func TestHandleRoutesByOperation(t *testing.T) {
	store := repo.NewJobStoreMemory()
	backend, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	procs := map[string]processing.Processor{
		queue.OpRemoveBackground: processing.Func(func(_ context.Context, _ []byte) ([]byte, error) {
			return []byte("matte"), nil
		}),
		queue.OpRemoveWatermark: processing.Func(func(_ context.Context, _ []byte) ([]byte, error) {
			return []byte("clean"), nil
		}),
	}
	exec := NewExecutor(store, backend, procs, nil, nil, zerolog.Nop())
	ctx := context.Background()

	msg := seedJob(t, store, backend, map[string]string{"cat.jpg": "meow"})
	msg.Operation = queue.OpRemoveWatermark
	if err := exec.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out, err := backend.GetFile(ctx, storage.ProcessedKey(msg.JobID, "cat.jpg"))
	if err != nil || string(out) != "clean" {
		t.Fatalf("watermark output = (%q, %v)", out, err)
	}

	// No operation on the message means background removal.
	msg = seedJob(t, store, backend, map[string]string{"dog.jpg": "woof"})
	if err := exec.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out, err = backend.GetFile(ctx, storage.ProcessedKey(msg.JobID, "dog.jpg"))
	if err != nil || string(out) != "matte" {
		t.Fatalf("default output = (%q, %v)", out, err)
	}
}

func TestHandleFailsTasksForUnknownOperation(t *testing.T) {
	exec, store, backend := newTestExecutor(t, upperProc)
	ctx := context.Background()
	msg := seedJob(t, store, backend, map[string]string{"cat.jpg": "meow"})
	msg.Operation = "sharpen"

	// The message must be consumed, not redelivered forever.
	if err := exec.Handle(ctx, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	job, _ := store.GetJob(ctx, msg.JobID)
	task := job.Images[msg.Items[0].ImageID]
	if task.Status != domain.StatusFailed || !strings.Contains(task.Error, "sharpen") {
		t.Fatalf("task = %+v, want failed naming the operation", task)
	}
}

// faultyBackend fails SaveProcessed a set number of times, then recovers.
type faultyBackend struct {
	storage.Backend
	failures int
}

func (b *faultyBackend) SaveProcessed(ctx context.Context, data []byte, filename, jobID string) (string, error) {
	if b.failures > 0 {
		b.failures--
		return "", errors.New("disk full")
	}
	return b.Backend.SaveProcessed(ctx, data, filename, jobID)
}

func TestHandleRecordsInfraFailureBeforePropagating(t *testing.T) {
	store := repo.NewJobStoreMemory()
	inner, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	backend := &faultyBackend{Backend: inner, failures: 1}
	procs := map[string]processing.Processor{queue.OpRemoveBackground: upperProc}
	exec := NewExecutor(store, backend, procs, nil, nil, zerolog.Nop())
	ctx := context.Background()

	msg := seedJob(t, store, inner, map[string]string{"cat.jpg": "meow"})

	// The error must propagate so the offset stays unmarked, and the task
	// must already show the failure to anyone polling.
	if err := exec.Handle(ctx, msg); err == nil {
		t.Fatal("expected storage failure to propagate")
	}
	job, _ := store.GetJob(ctx, msg.JobID)
	task := job.Images[msg.Items[0].ImageID]
	if task.Status != domain.StatusFailed || !strings.Contains(task.Error, "disk full") {
		t.Fatalf("task = %+v, want failed with storage cause", task)
	}

	// Redelivery with storage recovered completes the task.
	if err := exec.Handle(ctx, msg); err != nil {
		t.Fatalf("redelivered Handle: %v", err)
	}
	job, _ = store.GetJob(ctx, msg.JobID)
	task = job.Images[msg.Items[0].ImageID]
	if task.Status != domain.StatusCompleted {
		t.Fatalf("task after recovery = %+v, want completed", task)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	gate := make(chan struct{})
	entered := make(chan struct{}, 8)

	for i := 0; i < 6; i++ {
		pool.Submit(func() {
			entered <- struct{}{}
			<-gate
		})
	}

	<-entered
	<-entered
	select {
	case <-entered:
		t.Fatal("more than two tasks entered the pool")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	pool.Wait()
}

func TestNilPoolRunsInline(t *testing.T) {
	var p *Pool
	ran := false
	p.Run(func() { ran = true })
	if !ran {
		t.Fatal("nil pool did not run fn")
	}
}
