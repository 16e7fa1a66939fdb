// Package dispatch routes finalized uploads to the small or large conversion
// executor based on the uploaded object's size.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/dharsanguruparan/vidconvert/internal/executor"
	"github.com/dharsanguruparan/vidconvert/internal/jobstore"
	"github.com/dharsanguruparan/vidconvert/internal/model"
	"github.com/dharsanguruparan/vidconvert/internal/s3storage"
)

// ErrJobNotFound is returned when an upload names a job that does not exist.
var ErrJobNotFound = errors.New("dispatch: job not found")

const mib = 1 << 20

// Event is a storage finalize notification.
type Event struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Outcome describes what HandleFinalize did with an event.
type Outcome string

const (
	OutcomeIgnored    Outcome = "ignored"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeDispatched Outcome = "dispatched"
	OutcomeFailed     Outcome = "failed"
)

// Stater reloads object metadata.
type Stater interface {
	Stat(ctx context.Context, bucket, key string) (s3storage.ObjectInfo, error)
}

// Invoker delivers a job to an executor endpoint.
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, req executor.Request) error
}

// Options configures a Router.
type Options struct {
	ThresholdMB int
	SmallURL    string
	LargeURL    string
	Logger      *log.Logger
}

// Router handles finalize events.
type Router struct {
	store     jobstore.Store
	stat      Stater
	invoker   Invoker
	threshold int
	endpoints map[model.Processor]string
	logger    *log.Logger
}

// NewRouter constructs a Router.
func NewRouter(store jobstore.Store, stat Stater, invoker Invoker, opts Options) *Router {
	if opts.ThresholdMB <= 0 {
		opts.ThresholdMB = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		store:     store,
		stat:      stat,
		invoker:   invoker,
		threshold: opts.ThresholdMB,
		endpoints: map[model.Processor]string{
			model.ProcessorSmall: opts.SmallURL,
			model.ProcessorLarge: opts.LargeURL,
		},
		logger: logger,
	}
}

// Classify picks the executor for an object of size bytes. The comparison is
// strict, so a file of exactly thresholdMB MiB goes to the large executor.
func Classify(size int64, thresholdMB int) model.Processor {
	if float64(size)/mib < float64(thresholdMB) {
		return model.ProcessorSmall
	}
	return model.ProcessorLarge
}

// ParseKey extracts the job id from uploads/{jobId}/{file...}.
func ParseKey(key string) (jobID string, ok bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[0] != "uploads" || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	return parts[1], true
}

// HandleFinalize queues the job named by the event's key and invokes the
// chosen executor. Keys outside uploads/ are ignored. A job that is already
// past QUEUED is a duplicate delivery and is left alone. Failures the router
// can attribute to the job are recorded on it and not returned.
func (r *Router) HandleFinalize(ctx context.Context, ev Event) (Outcome, error) {
	jobID, ok := ParseKey(ev.Name)
	if !ok {
		r.logger.Printf("skipping object with unexpected path: %s/%s", ev.Bucket, ev.Name)
		return OutcomeIgnored, nil
	}

	info, err := r.stat.Stat(ctx, ev.Bucket, ev.Name)
	if err != nil {
		return r.fail(ctx, jobID, model.CodeInputMetadataUnavailable, fmt.Sprintf("failed to read input metadata: %v", err))
	}

	processor := Classify(info.Size, r.threshold)
	r.logger.Printf("job %s: %.2fMB -> %s", jobID, float64(info.Size)/mib, processor)

	_, err = jobstore.MarkQueued(ctx, r.store, jobID, processor, model.InputFile{
		Bucket: ev.Bucket,
		Path:   ev.Name,
		Size:   info.Size,
	})
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	case errors.Is(err, jobstore.ErrInvalidTransition):
		r.logger.Printf("job %s already advanced, ignoring duplicate delivery", jobID)
		return OutcomeDuplicate, nil
	case err != nil:
		return "", fmt.Errorf("queue job %s: %w", jobID, err)
	}

	req := executor.Request{
		JobID:      jobID,
		BucketName: ev.Bucket,
		FilePath:   ev.Name,
		FileSize:   info.Size,
	}
	if err := r.invoker.Invoke(ctx, r.endpoints[processor], req); err != nil {
		r.logger.Printf("error invoking %s processor for %s: %v", processor, jobID, err)
		return r.fail(ctx, jobID, model.CodeProcessorInvocationFailed, err.Error())
	}
	r.logger.Printf("delegated job %s to %s", jobID, processor)
	return OutcomeDispatched, nil
}

func (r *Router) fail(ctx context.Context, jobID, code, message string) (Outcome, error) {
	_, err := jobstore.MarkFailed(context.WithoutCancel(ctx), r.store, jobID, model.ErrorInfo{Code: code, Message: message})
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	case errors.Is(err, jobstore.ErrInvalidTransition):
		// the job already finished; another delivery got there first
		return OutcomeDuplicate, nil
	case err != nil:
		return "", fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	return OutcomeFailed, nil
}
