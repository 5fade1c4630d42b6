package domain

import (
	"context"
	"time"
)

// TaskUpdate carries a partial per-task status write. DownloadURL and Error
// are applied only when non-empty; an empty value never overwrites a stored
// one.
type TaskUpdate struct {
	Status      Status
	DownloadURL string
	Error       string
}

// JobStore is the persistent record of jobs and their image tasks. It is the
// single source of truth for status and is shared between the API and worker
// processes; every multi-statement operation runs in one transaction.
type JobStore interface {
	// CreateJob persists a job with one pending task per filename and
	// returns the fully populated job.
	CreateJob(ctx context.Context, filenames []string) (*Job, error)

	// GetJob loads the job plus all its tasks as one consistent snapshot.
	// Returns ErrNotFound when the job does not exist.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// UpdateTaskStatus applies a partial update to one task and bumps the
	// job's updated_at. Returns ErrNotFound when the (job_id, image_id)
	// target does not exist; callers on the worker path treat that as a
	// dropped write, not a failure.
	UpdateTaskStatus(ctx context.Context, jobID, imageID string, update TaskUpdate) error

	// DeleteJob removes the job and cascades to its tasks. Reports whether
	// a row existed.
	DeleteJob(ctx context.Context, jobID string) (bool, error)

	// ListJobs returns all jobs ordered by creation time descending.
	ListJobs(ctx context.Context) ([]*Job, error)

	// CleanupOlderThan deletes jobs created before now-maxAge and returns
	// how many were removed.
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}

// CredentialLedger tracks per-caller daily usage and gates admission.
type CredentialLedger interface {
	// Issue creates a credential for the owner. Returns ErrConflict when an
	// active credential already exists for that owner.
	Issue(ctx context.Context, owner string, tier Tier) (*Credential, error)

	// Get looks up a credential by key. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) (*Credential, error)

	// CheckAndIncrement is the atomic admission primitive: it loads the
	// credential, performs the daily reset when the calendar day changed,
	// and increments usage. It reports false when the credential is missing,
	// inactive, or over its daily limit.
	CheckAndIncrement(ctx context.Context, key string) (bool, error)

	// Revoke deactivates a credential. Reports whether an active one existed.
	Revoke(ctx context.Context, key string) (bool, error)

	// Rotate atomically revokes the credential and issues a fresh one with
	// the same owner and tier. Returns ErrNotFound when the key is unknown
	// or already revoked.
	Rotate(ctx context.Context, key string) (*Credential, error)

	// Upgrade moves the credential to a new tier and resets its limit from
	// the tier table without touching used_count.
	Upgrade(ctx context.Context, key string, tier Tier) (bool, error)
}
