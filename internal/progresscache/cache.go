// Package progresscache mirrors job progress into Redis hashes so status
// polling does not hit the job store.
package progresscache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/vidconvert/internal/model"
)

// ErrMiss is returned when no progress is cached for a job.
var ErrMiss = errors.New("progress not cached")

const keyPrefix = "job:progress:"

// Entry is the cached view of one job.
type Entry struct {
	JobID     string       `json:"jobId"`
	Status    model.Status `json:"status"`
	Percent   int          `json:"percent"`
	Step      string       `json:"currentStep,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// hashClient is the subset of *redis.Client the cache needs.
type hashClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// Cache writes and reads job:progress:{id} hashes.
type Cache struct {
	client hashClient
	ttl    time.Duration
}

// New wraps a redis client. Entries expire ttl after their last write.
func New(client hashClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// Key returns the hash key for a job.
func Key(jobID string) string {
	return keyPrefix + jobID
}

// JobChanged implements jobstore.Observer.
func (c *Cache) JobChanged(ctx context.Context, job *model.ConversionJob) error {
	key := Key(job.ID)
	updated := job.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	if err := c.client.HSet(ctx, key, map[string]interface{}{
		"status":    string(job.Status),
		"percent":   job.Progress.Percent,
		"step":      job.Progress.CurrentStep,
		"updatedAt": updated.UTC().Format(time.RFC3339Nano),
	}).Err(); err != nil {
		return fmt.Errorf("cache progress for %s: %w", job.ID, err)
	}
	if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
		return fmt.Errorf("expire progress for %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the cached progress of a job or ErrMiss.
func (c *Cache) Get(ctx context.Context, jobID string) (*Entry, error) {
	fields, err := c.client.HGetAll(ctx, Key(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read progress for %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrMiss
	}
	percent, err := strconv.Atoi(fields["percent"])
	if err != nil {
		return nil, fmt.Errorf("read progress for %s: bad percent %q", jobID, fields["percent"])
	}
	entry := &Entry{
		JobID:   jobID,
		Status:  model.Status(fields["status"]),
		Percent: percent,
		Step:    fields["step"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updatedAt"]); err == nil {
		entry.UpdatedAt = ts
	}
	return entry, nil
}
