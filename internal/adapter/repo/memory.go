package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"clearcut/internal/domain"
)

// JobStoreMemory implements domain.JobStore in process memory. It backs the
// dev mode without a database and the unit tests; the semantics mirror the
// PostgreSQL store exactly.
type JobStoreMemory struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// NewJobStoreMemory creates an empty in-memory job store.
func NewJobStoreMemory() *JobStoreMemory {
	return &JobStoreMemory{jobs: map[string]*domain.Job{}, now: time.Now}
}

// WithClock overrides the store clock.
func (r *JobStoreMemory) WithClock(now func() time.Time) *JobStoreMemory {
	r.now = now
	return r
}

func (r *JobStoreMemory) CreateJob(ctx context.Context, filenames []string) (*domain.Job, error) {
	if len(filenames) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	job := &domain.Job{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Images:    make(map[string]*domain.ImageTask, len(filenames)),
	}
	for _, filename := range filenames {
		task := &domain.ImageTask{
			ImageID:          uuid.NewString(),
			OriginalFilename: filename,
			Status:           domain.StatusPending,
		}
		job.Images[task.ImageID] = task
	}
	r.jobs[job.ID] = job
	return copyJob(job), nil
}

func (r *JobStoreMemory) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyJob(job), nil
}

func (r *JobStoreMemory) UpdateTaskStatus(ctx context.Context, jobID, imageID string, update domain.TaskUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	task, ok := job.Images[imageID]
	if !ok {
		return domain.ErrNotFound
	}
	if !task.CanTransition(update.Status) {
		return nil
	}
	task.Status = update.Status
	if update.DownloadURL != "" {
		task.DownloadURL = update.DownloadURL
	}
	if update.Error != "" {
		task.Error = update.Error
	}
	job.UpdatedAt = r.now()
	return nil
}

func (r *JobStoreMemory) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; !ok {
		return false, nil
	}
	delete(r.jobs, jobID)
	return true, nil
}

func (r *JobStoreMemory) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]*domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, copyJob(job))
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	return jobs, nil
}

func (r *JobStoreMemory) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	deleted := 0
	for id, job := range r.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func copyJob(job *domain.Job) *domain.Job {
	out := &domain.Job{
		ID:        job.ID,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Images:    make(map[string]*domain.ImageTask, len(job.Images)),
	}
	for id, task := range job.Images {
		t := *task
		out.Images[id] = &t
	}
	return out
}

// CredentialLedgerMemory implements domain.CredentialLedger in process
// memory, with the same day-rollover semantics as the PostgreSQL ledger.
type CredentialLedgerMemory struct {
	mu    sync.Mutex
	creds map[string]*domain.Credential
	now   func() time.Time
}

// NewCredentialLedgerMemory creates an empty in-memory ledger.
func NewCredentialLedgerMemory() *CredentialLedgerMemory {
	return &CredentialLedgerMemory{creds: map[string]*domain.Credential{}, now: time.Now}
}

// WithClock overrides the ledger clock.
func (r *CredentialLedgerMemory) WithClock(now func() time.Time) *CredentialLedgerMemory {
	r.now = now
	return r
}

func (r *CredentialLedgerMemory) today() time.Time {
	y, m, d := r.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r *CredentialLedgerMemory) Issue(ctx context.Context, owner string, tier domain.Tier) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.issueLocked(owner, tier)
}

func (r *CredentialLedgerMemory) issueLocked(owner string, tier domain.Tier) (*domain.Credential, error) {
	for _, c := range r.creds {
		if c.OwnerEmail == owner && c.IsActive {
			return nil, domain.ErrConflict
		}
	}
	limits := domain.LimitsForTier(tier)
	cred := &domain.Credential{
		Key:        NewCredentialKey(),
		OwnerEmail: owner,
		Tier:       tier,
		LimitCount: limits.DailyLimit,
		LastReset:  r.today(),
		IsActive:   true,
		CreatedAt:  r.now(),
	}
	r.creds[cred.Key] = cred
	out := *cred
	return &out, nil
}

func (r *CredentialLedgerMemory) Get(ctx context.Context, key string) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *cred
	return &out, nil
}

func (r *CredentialLedgerMemory) CheckAndIncrement(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[key]
	if !ok || !cred.IsActive {
		return false, nil
	}
	today := r.today()
	if !sameDay(cred.LastReset, today) {
		cred.UsedCount = 1
		cred.LastReset = today
		return true, nil
	}
	if cred.UsedCount >= cred.LimitCount {
		return false, nil
	}
	cred.UsedCount++
	return true, nil
}

func (r *CredentialLedgerMemory) Revoke(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[key]
	if !ok || !cred.IsActive {
		return false, nil
	}
	cred.IsActive = false
	return true, nil
}

func (r *CredentialLedgerMemory) Rotate(ctx context.Context, key string) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[key]
	if !ok || !cred.IsActive {
		return nil, domain.ErrNotFound
	}
	cred.IsActive = false
	return r.issueLocked(cred.OwnerEmail, cred.Tier)
}

func (r *CredentialLedgerMemory) Upgrade(ctx context.Context, key string, tier domain.Tier) (bool, error) {
	if !domain.ValidTier(tier) {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[key]
	if !ok || !cred.IsActive {
		return false, nil
	}
	cred.Tier = tier
	cred.LimitCount = domain.LimitsForTier(tier).DailyLimit
	return true, nil
}
