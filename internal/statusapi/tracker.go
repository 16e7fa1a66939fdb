package statusapi

import (
	"context"
	"fmt"
	"log"
	"path"

	"github.com/dharsanguruparan/vidconvert/internal/executor"
	"github.com/dharsanguruparan/vidconvert/internal/model"
	"github.com/dharsanguruparan/vidconvert/internal/processing"
)

// Tracker adapts the status service to the executor. Notifications are queued
// on a processing.Pool and never fail the conversion; only Load talks to the
// service synchronously because the input cannot be located without it.
type Tracker struct {
	client      *Client
	pool        *processing.Pool
	inputBucket string
	logger      *log.Logger
}

// NewTracker builds a Tracker. inputBucket is where uploads live.
func NewTracker(client *Client, pool *processing.Pool, inputBucket string, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{client: client, pool: pool, inputBucket: inputBucket, logger: logger}
}

// Load fetches the job from the status service and derives the input
// location uploads/{jobId}/{fileName}.
func (t *Tracker) Load(ctx context.Context, req executor.Request) (*model.ConversionJob, error) {
	remote, err := t.client.Fetch(ctx, req.JobID)
	if err != nil {
		return nil, model.NewJobError(model.CodeInputMetadataMissing, "fetch job metadata", err)
	}
	if remote.FileName == "" {
		return nil, model.NewJobError(model.CodeInputMetadataMissing, "job metadata has no fileName", nil)
	}
	name := path.Base(remote.FileName)
	format := req.Format
	if format == "" {
		format = remote.Format
	}
	return &model.ConversionJob{
		ID:     req.JobID,
		Status: model.StatusQueued,
		InputFile: model.InputFile{
			Bucket:       t.inputBucket,
			Path:         fmt.Sprintf("uploads/%s/%s", req.JobID, name),
			OriginalName: name,
		},
		OutputFile: model.OutputFile{Format: format},
	}, nil
}

// Claim reports intake. The status service has no queued state, so PENDING
// and QUEUED collapse into one processing notification at 0%.
func (t *Tracker) Claim(_ context.Context, jobID, _ string) error {
	t.notify(Update{JobID: jobID, Status: StatusProcessing, Progress: intPtr(0), Message: "Downloading video"})
	return nil
}

func (t *Tracker) Progress(_ context.Context, jobID string, percent int, step string) error {
	t.notify(Update{JobID: jobID, Status: StatusProcessing, Progress: intPtr(percent), Message: step})
	return nil
}

func (t *Tracker) Complete(_ context.Context, jobID string, out model.OutputFile) error {
	t.notify(Update{JobID: jobID, Status: StatusCompleted, Progress: intPtr(100), Message: "Done", OutputKey: out.Path})
	return nil
}

func (t *Tracker) Fail(_ context.Context, jobID string, info model.ErrorInfo) error {
	t.notify(Update{JobID: jobID, Status: StatusFailed, Message: info.Code + ": " + info.Message})
	return nil
}

func (t *Tracker) notify(u Update) {
	t.pool.Submit(processing.Task{
		Name: fmt.Sprintf("status %s %s", u.JobID, u.Status),
		Run: func(ctx context.Context) error {
			return t.client.Update(ctx, u)
		},
	})
}

func intPtr(v int) *int { return &v }

var _ executor.Tracker = (*Tracker)(nil)
