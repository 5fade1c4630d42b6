package domain

import "time"

// Status enumerates the lifecycle states shared by jobs and image tasks.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the status is a final outcome.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ImageTask is one unit of work (one input image) within a job. It is owned
// by its parent job and addressed by the (job_id, image_id) pair.
type ImageTask struct {
	ImageID          string
	OriginalFilename string
	Status           Status
	DownloadURL      string
	Error            string
}

// CanTransition reports whether a task may move from its current status to
// the target one. Statuses are monotonic: nothing ever goes back to pending.
// Re-applying the current status is allowed so that redelivered queue
// messages stay idempotent.
func (t *ImageTask) CanTransition(to Status) bool {
	if to == StatusPending {
		return t.Status == StatusPending
	}
	return true
}

// Job is one caller submission containing one or more image tasks. Its
// status is always derived from the task set and never stored on its own.
type Job struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Images    map[string]*ImageTask
}

// TotalCount returns the number of image tasks in the job.
func (j *Job) TotalCount() int {
	return len(j.Images)
}

// TerminalCount returns how many tasks reached a final outcome.
func (j *Job) TerminalCount() int {
	n := 0
	for _, img := range j.Images {
		if img.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Progress is the fraction of tasks that reached a final outcome.
func (j *Job) Progress() float64 {
	total := j.TotalCount()
	if total == 0 {
		return 0.0
	}
	return float64(j.TerminalCount()) / float64(total)
}

// Status derives the aggregate job status from the task set:
// all completed -> completed; any processing -> processing; all failed ->
// failed; every task terminal with mixed outcomes -> completed (individual
// failures do not fail the whole job); otherwise -> pending.
func (j *Job) Status() Status {
	if len(j.Images) == 0 {
		return StatusPending
	}
	var completed, failed, processing int
	for _, img := range j.Images {
		switch img.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		case StatusProcessing:
			processing++
		}
	}
	total := len(j.Images)
	switch {
	case completed == total:
		return StatusCompleted
	case processing > 0:
		return StatusProcessing
	case failed == total:
		return StatusFailed
	case completed+failed == total:
		return StatusCompleted
	default:
		return StatusPending
	}
}
