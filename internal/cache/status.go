package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "job:status:"

// StatusCache keeps serialized job-status views in Redis so that the polling
// endpoint does not hit the job store on every read. All methods are nil-safe:
// a nil cache is a no-op, which is how the service runs without Redis.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatusCache wraps the given Redis client.
func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

// Get returns the cached view bytes for a job, or false when absent.
func (c *StatusCache) Get(ctx context.Context, jobID string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, statusKeyPrefix+jobID).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores the view bytes for a job.
func (c *StatusCache) Set(ctx context.Context, jobID string, data []byte) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Set(ctx, statusKeyPrefix+jobID, data, c.ttl)
}

// Invalidate drops the cached view after a status write so the next poll
// observes fresh store state.
func (c *StatusCache) Invalidate(ctx context.Context, jobID string) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, statusKeyPrefix+jobID)
}
