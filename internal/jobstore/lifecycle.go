package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dharsanguruparan/vidconvert/internal/model"
)

// ErrAlreadyClaimed is returned by Claim when another executor advanced the
// job first.
var ErrAlreadyClaimed = errors.New("job already claimed")

// Progress step labels written to progress.currentStep.
const (
	StepDownloading = "Downloading video"
	StepStarting    = "Starting conversion"
	StepConverting  = "Converting video"
	StepUploading   = "Uploading result"
	StepDone        = "Done"
)

// MarkQueued records the routing decision for an uploaded file.
func MarkQueued(ctx context.Context, s Store, id string, processor model.Processor, in model.InputFile) (*model.ConversionJob, error) {
	fields := Fields{
		"status":         model.StatusQueued,
		"processor":      processor,
		"inputFile.size": in.Size,
		"inputFile.path": in.Path,
	}
	if in.Bucket != "" {
		fields["inputFile.bucket"] = in.Bucket
	}
	return s.Update(ctx, id, fields)
}

// Claim moves a QUEUED job to PROCESSING on behalf of the executor identified
// by token. Only one caller can win; later callers, and callers that arrive
// before dispatch queued the job, get ErrAlreadyClaimed.
func Claim(ctx context.Context, s Store, id, token string, now time.Time) (*model.ConversionJob, error) {
	job, err := s.UpdateIf(ctx, id, []model.Status{model.StatusQueued}, Fields{
		"status":               model.StatusProcessing,
		"claimedAt":            now.UTC(),
		"claimedBy":            token,
		"progress.percent":     0,
		"progress.currentStep": StepDownloading,
	})
	if errors.Is(err, ErrPrecondition) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClaimed, id)
	}
	return job, err
}

// SetProgress updates the progress indicator of a running job.
func SetProgress(ctx context.Context, s Store, id string, percent int, step string) (*model.ConversionJob, error) {
	return s.Update(ctx, id, Fields{
		"progress.percent":     percent,
		"progress.currentStep": step,
	})
}

// MarkCompleted stores the produced artifact and finishes the job.
func MarkCompleted(ctx context.Context, s Store, id string, out model.OutputFile, now time.Time) (*model.ConversionJob, error) {
	fields := Fields{
		"status":               model.StatusCompleted,
		"progress.percent":     100,
		"progress.currentStep": StepDone,
		"outputFile.bucket":    out.Bucket,
		"outputFile.path":      out.Path,
		"outputFile.signedUrl": out.SignedURL,
		"completedAt":          now.UTC(),
	}
	if out.URLExpiresAt != nil {
		fields["outputFile.urlExpiresAt"] = out.URLExpiresAt.UTC()
	}
	return s.Update(ctx, id, fields)
}

// MarkFailed moves a job to FAILED with a machine code and message.
func MarkFailed(ctx context.Context, s Store, id string, info model.ErrorInfo) (*model.ConversionJob, error) {
	return s.Update(ctx, id, Fields{
		"status": model.StatusFailed,
		"error":  info,
	})
}
