// Package executor runs one conversion job end to end: claim, download,
// transcode, upload, sign and record the result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/vidconvert/internal/jobstore"
	"github.com/dharsanguruparan/vidconvert/internal/model"
)

var (
	// ErrInvalidRequest is returned for requests without a job id.
	ErrInvalidRequest = errors.New("jobId is required")
	// ErrJobNotFound is returned when no job record exists for the id.
	ErrJobNotFound = errors.New("job not found")
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
)

const defaultFormat = "mp4"

// Request is the dispatch payload. Only JobID is authoritative; the bucket and
// path are used when the job record does not carry them.
type Request struct {
	JobID      string `json:"jobId"`
	BucketName string `json:"bucketName,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`
	Format     string `json:"format,omitempty"`
}

// Result is returned to the dispatcher.
type Result struct {
	Status       string     `json:"status"`
	JobID        string     `json:"jobId"`
	OutputBucket string     `json:"outputBucket,omitempty"`
	OutputKey    string     `json:"outputKey,omitempty"`
	DownloadURL  string     `json:"downloadUrl,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Tracker records job state. The primary implementation writes to the job
// store; the alternate one notifies a remote status service.
type Tracker interface {
	Load(ctx context.Context, req Request) (*model.ConversionJob, error)
	Claim(ctx context.Context, jobID, token string) error
	Progress(ctx context.Context, jobID string, percent int, step string) error
	Complete(ctx context.Context, jobID string, out model.OutputFile) error
	Fail(ctx context.Context, jobID string, info model.ErrorInfo) error
}

// ObjectStore moves files between local disk and object storage.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key, dest string) error
	Upload(ctx context.Context, bucket, key, src, contentType string) error
	PresignDownload(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Converter transcodes a local file. sink receives progress percentages.
type Converter interface {
	Convert(ctx context.Context, input, output, format string, sink func(int)) error
}

// Options configures a Service.
type Options struct {
	OutputBucket   string
	DownloadURLTTL time.Duration
	TempDir        string
	// Instance prefixes claim tokens, e.g. "small".
	Instance string
	Logger   *log.Logger
}

// Service processes conversion requests.
type Service struct {
	tracker   Tracker
	objects   ObjectStore
	converter Converter
	opts      Options
	logger    *log.Logger
	now       func() time.Time
}

// New constructs a Service.
func New(tracker Tracker, objects ObjectStore, converter Converter, opts Options) *Service {
	if opts.DownloadURLTTL <= 0 {
		opts.DownloadURLTTL = 7 * 24 * time.Hour
	}
	if opts.Instance == "" {
		opts.Instance = "executor"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		tracker:   tracker,
		objects:   objects,
		converter: converter,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Process runs the job named by req. A job another executor already claimed
// yields a skipped result and no error. Every other failure after the job was
// found is recorded exactly once through the tracker.
func (s *Service) Process(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return nil, ErrInvalidRequest
	}
	id := req.JobID

	job, err := s.tracker.Load(ctx, req)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, err
		}
		return nil, s.fail(ctx, id, asJobError(err, model.CodeInputMetadataMissing, "load job metadata"))
	}
	bucket := firstNonEmpty(job.InputFile.Bucket, req.BucketName)
	key := firstNonEmpty(job.InputFile.Path, req.FilePath)
	if bucket == "" || key == "" {
		return nil, s.fail(ctx, id, model.NewJobError(model.CodeInputMetadataMissing, "input file location unknown", nil))
	}
	format := strings.ToLower(firstNonEmpty(job.OutputFile.Format, req.Format, defaultFormat))

	token := fmt.Sprintf("%s-%s", s.opts.Instance, uuid.NewString())
	if err := s.tracker.Claim(ctx, id, token); err != nil {
		if errors.Is(err, jobstore.ErrAlreadyClaimed) {
			s.logger.Printf("job %s not claimable, skipping: %v", id, err)
			return &Result{Status: StatusSkipped, JobID: id}, nil
		}
		return nil, s.fail(ctx, id, model.NewJobError(model.CodeProcessingError, "claim job", err))
	}

	workDir, err := os.MkdirTemp(s.opts.TempDir, "vidconvert-")
	if err != nil {
		return nil, s.fail(ctx, id, model.NewJobError(model.CodeProcessingError, "create work dir", err))
	}
	defer func() {
		// removal is best effort; files may already be gone
		_ = os.RemoveAll(workDir)
	}()

	input := filepath.Join(workDir, "input"+path.Ext(key))
	output := filepath.Join(workDir, "output."+format)

	s.logger.Printf("job %s: downloading %s/%s", id, bucket, key)
	if err := s.objects.Download(ctx, bucket, key, input); err != nil {
		return nil, s.fail(ctx, id, model.NewJobError(model.CodeDownloadFailed, "download input", err))
	}

	s.progress(ctx, id, 10, jobstore.StepStarting)
	sink := func(percent int) {
		s.progress(ctx, id, percent, jobstore.StepConverting)
	}
	if err := s.converter.Convert(ctx, input, output, format, sink); err != nil {
		return nil, s.fail(ctx, id, model.NewJobError(model.CodeConversionFailed, "convert video", err))
	}

	s.progress(ctx, id, 90, jobstore.StepUploading)
	outKey := OutputKey(id, key, format)
	if err := s.objects.Upload(ctx, s.opts.OutputBucket, outKey, output, "video/"+format); err != nil {
		return nil, s.fail(ctx, id, model.NewJobError(model.CodeUploadFailed, "upload output", err))
	}

	expiresAt := s.now().Add(s.opts.DownloadURLTTL).UTC()
	signed, err := s.objects.PresignDownload(ctx, s.opts.OutputBucket, outKey, s.opts.DownloadURLTTL)
	if err != nil {
		return nil, s.fail(ctx, id, model.NewJobError(model.CodeSigningFailed, "sign download url", err))
	}

	out := model.OutputFile{
		Format:       format,
		Bucket:       s.opts.OutputBucket,
		Path:         outKey,
		SignedURL:    signed,
		URLExpiresAt: &expiresAt,
	}
	if err := s.tracker.Complete(ctx, id, out); err != nil {
		return nil, s.fail(ctx, id, model.NewJobError(model.CodeProcessingError, "mark completed", err))
	}
	s.logger.Printf("job %s completed: %s/%s", id, out.Bucket, outKey)
	return &Result{
		Status:       StatusSuccess,
		JobID:        id,
		OutputBucket: out.Bucket,
		OutputKey:    outKey,
		DownloadURL:  signed,
		ExpiresAt:    &expiresAt,
	}, nil
}

// OutputKey derives the output object key from the job id and input key.
func OutputKey(jobID, inputKey, format string) string {
	base := path.Base(inputKey)
	base = strings.TrimSuffix(base, path.Ext(base))
	return fmt.Sprintf("outputs/%s/%s.%s", jobID, base, format)
}

func (s *Service) progress(ctx context.Context, id string, percent int, step string) {
	if err := s.tracker.Progress(ctx, id, percent, step); err != nil {
		s.logger.Printf("job %s: progress %d%% not recorded: %v", id, percent, err)
	}
}

// fail records the error on the job and returns it. The write uses a context
// detached from cancellation so an aborted request still leaves the job FAILED.
func (s *Service) fail(ctx context.Context, id string, jobErr *model.JobError) error {
	s.logger.Printf("job %s failed: %v", id, jobErr)
	if err := s.tracker.Fail(context.WithoutCancel(ctx), id, jobErr.Info()); err != nil {
		s.logger.Printf("job %s: failure not recorded: %v", id, err)
	}
	return jobErr
}

func asJobError(err error, code, message string) *model.JobError {
	var jobErr *model.JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}
	return model.NewJobError(code, message, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
