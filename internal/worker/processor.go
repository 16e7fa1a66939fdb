package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/vidconvert/internal/dispatch"
	"github.com/dharsanguruparan/vidconvert/internal/queue"
)

// Router is the dispatch step run for every finalized upload.
type Router interface {
	HandleFinalize(ctx context.Context, ev dispatch.Event) (dispatch.Outcome, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	router Router
	logger *log.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(router Router, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.Default()
	}
	return &Processor{router: router, logger: logger}
}

// Handler registers the finalize job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.FinalizeUploadTask, p.handleFinalize)
	return mux
}

// handleFinalize retries only store and queue errors. Unknown jobs and bad
// payloads will not get better on retry.
func (p *Processor) handleFinalize(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeFinalize(task)
	if err != nil {
		p.logger.Printf("dropping finalize task: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	outcome, err := p.router.HandleFinalize(ctx, dispatch.Event{Bucket: payload.Bucket, Name: payload.Name})
	if errors.Is(err, dispatch.ErrJobNotFound) {
		p.logger.Printf("no job for %s/%s: %v", payload.Bucket, payload.Name, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		p.logger.Printf("dispatch failed for %s/%s: %v", payload.Bucket, payload.Name, err)
		return err
	}
	p.logger.Printf("finalize %s/%s: %s", payload.Bucket, payload.Name, outcome)
	return nil
}
