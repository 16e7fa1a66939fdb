package jobstore

import (
	"context"
	"log"

	"github.com/dharsanguruparan/vidconvert/internal/model"
)

// Observer receives the job as it looks after every successful write.
type Observer interface {
	JobChanged(ctx context.Context, job *model.ConversionJob) error
}

// Observed decorates a Store and fans successful writes out to observers.
// Observer failures are logged and never fail the write.
type Observed struct {
	Store
	observers []Observer
	logger    *log.Logger
}

// NewObserved wraps store. Nil observers are skipped.
func NewObserved(store Store, logger *log.Logger, observers ...Observer) *Observed {
	if logger == nil {
		logger = log.Default()
	}
	o := &Observed{Store: store, logger: logger}
	for _, ob := range observers {
		if ob != nil {
			o.observers = append(o.observers, ob)
		}
	}
	return o
}

func (o *Observed) Create(ctx context.Context, job *model.ConversionJob) error {
	if err := o.Store.Create(ctx, job); err != nil {
		return err
	}
	o.notify(ctx, job)
	return nil
}

func (o *Observed) Update(ctx context.Context, id string, fields Fields) (*model.ConversionJob, error) {
	job, err := o.Store.Update(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	o.notify(ctx, job)
	return job, nil
}

func (o *Observed) UpdateIf(ctx context.Context, id string, allowed []model.Status, fields Fields) (*model.ConversionJob, error) {
	job, err := o.Store.UpdateIf(ctx, id, allowed, fields)
	if err != nil {
		return nil, err
	}
	o.notify(ctx, job)
	return job, nil
}

func (o *Observed) notify(ctx context.Context, job *model.ConversionJob) {
	for _, ob := range o.observers {
		if err := ob.JobChanged(ctx, job); err != nil {
			o.logger.Printf("job observer failed for %s: %v", job.ID, err)
		}
	}
}
