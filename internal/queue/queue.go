package queue

import "context"

// Operations carried by a task message. Messages without an operation are
// treated as background removal, so payloads written before the field
// existed keep draining.
const (
	OpRemoveBackground = "remove_background"
	OpRemoveWatermark  = "remove_watermark"
)

// TaskItem references one stored image within a task message.
type TaskItem struct {
	ImageID      string `json:"image_id"`
	OriginalPath string `json:"original_path"`
	Filename     string `json:"filename"`
}

// TaskMessage is the durable unit of work handed to the worker process. A
// single upload carries one item; a batch upload carries all its items in one
// message so the worker processes them sequentially in submission order.
type TaskMessage struct {
	JobID     string     `json:"job_id"`
	Operation string     `json:"operation,omitempty"`
	Items     []TaskItem `json:"items"`
}

// Enqueuer publishes task messages. Delivery is at-least-once: a message may
// reach the worker more than once, so all downstream status writes must be
// idempotent.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *TaskMessage) error
	Close() error
}
