package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dharsanguruparan/vidconvert/internal/jobstore"
	"github.com/dharsanguruparan/vidconvert/internal/model"
)

// StoreTracker records job state directly in a jobstore.Store.
type StoreTracker struct {
	store jobstore.Store
	now   func() time.Time
}

// NewStoreTracker wraps store.
func NewStoreTracker(store jobstore.Store) *StoreTracker {
	return &StoreTracker{store: store, now: time.Now}
}

func (t *StoreTracker) Load(ctx context.Context, req Request) (*model.ConversionJob, error) {
	job, err := t.store.Get(ctx, req.JobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, req.JobID)
	}
	return job, err
}

func (t *StoreTracker) Claim(ctx context.Context, jobID, token string) error {
	_, err := jobstore.Claim(ctx, t.store, jobID, token, t.now())
	return err
}

func (t *StoreTracker) Progress(ctx context.Context, jobID string, percent int, step string) error {
	_, err := jobstore.SetProgress(ctx, t.store, jobID, percent, step)
	return err
}

func (t *StoreTracker) Complete(ctx context.Context, jobID string, out model.OutputFile) error {
	_, err := jobstore.MarkCompleted(ctx, t.store, jobID, out, t.now())
	return err
}

func (t *StoreTracker) Fail(ctx context.Context, jobID string, info model.ErrorInfo) error {
	_, err := jobstore.MarkFailed(ctx, t.store, jobID, info)
	return err
}
