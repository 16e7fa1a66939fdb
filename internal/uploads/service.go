// Package uploads issues short-lived upload URLs and creates the job record
// each upload belongs to.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/vidconvert/internal/jobstore"
	"github.com/dharsanguruparan/vidconvert/internal/model"
)

// Defaults applied when the request leaves a field empty.
const (
	DefaultFileName     = "video.mp4"
	DefaultOutputFormat = "mp4"
	// UploadContentType is signed into every upload URL.
	UploadContentType = "video/*"
)

// ErrValidation marks request errors that map to HTTP 400.
var ErrValidation = errors.New("invalid upload request")

var formatPattern = regexp.MustCompile(`^[a-z0-9]{1,10}$`)

// Presigner issues write-only URLs for one object key.
type Presigner interface {
	PresignUpload(ctx context.Context, bucket, key string, ttl time.Duration, contentType string) (string, error)
}

// Request is the body of an authorization call.
type Request struct {
	FileName     string         `json:"fileName"`
	OutputFormat string         `json:"outputFormat"`
	Settings     map[string]any `json:"settings"`
}

// Response is returned to the uploading client. MaxFileSize is informational
// and not enforced here.
type Response struct {
	JobID       string    `json:"jobId"`
	UploadURL   string    `json:"uploadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
	MaxFileSize int64     `json:"maxFileSize"`
}

// Options configures a Service.
type Options struct {
	Bucket      string
	URLTTL      time.Duration
	MaxFileSize int64
}

// Service authorizes uploads.
type Service struct {
	store     jobstore.Store
	presigner Presigner
	opts      Options
	now       func() time.Time
	newID     func() string
}

// NewService constructs a Service.
func NewService(store jobstore.Store, presigner Presigner, opts Options) *Service {
	if opts.URLTTL <= 0 {
		opts.URLTTL = 15 * time.Minute
	}
	return &Service{
		store:     store,
		presigner: presigner,
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Authorize creates a PENDING job and returns a signed PUT URL scoped to
// uploads/{jobId}/{fileName}.
func (s *Service) Authorize(ctx context.Context, req Request) (*Response, error) {
	name, format, err := normalize(req)
	if err != nil {
		return nil, err
	}
	id := s.newID()
	key := ObjectKey(id, name)
	settings := req.Settings
	if settings == nil {
		settings = map[string]any{}
	}

	job := &model.ConversionJob{
		ID:     id,
		Status: model.StatusPending,
		InputFile: model.InputFile{
			Bucket:       s.opts.Bucket,
			Path:         key,
			OriginalName: name,
		},
		OutputFile:         model.OutputFile{Format: format},
		ConversionSettings: settings,
		Progress:           model.Progress{Percent: 0},
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	expiresAt := s.now().Add(s.opts.URLTTL).UTC()
	uploadURL, err := s.presigner.PresignUpload(ctx, s.opts.Bucket, key, s.opts.URLTTL, UploadContentType)
	if err != nil {
		return nil, fmt.Errorf("sign upload url: %w", err)
	}
	return &Response{
		JobID:       id,
		UploadURL:   uploadURL,
		ExpiresAt:   expiresAt,
		MaxFileSize: s.opts.MaxFileSize,
	}, nil
}

// ObjectKey is the upload location of a job's input.
func ObjectKey(jobID, fileName string) string {
	return fmt.Sprintf("uploads/%s/%s", jobID, fileName)
}

func normalize(req Request) (string, string, error) {
	name := strings.TrimSpace(req.FileName)
	if name == "" {
		name = DefaultFileName
	}
	// only the base name is kept so the key stays one level below the job id
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "", "", fmt.Errorf("%w: fileName %q", ErrValidation, req.FileName)
	}

	format := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.OutputFormat), "."))
	if format == "" {
		format = DefaultOutputFormat
	}
	if !formatPattern.MatchString(format) {
		return "", "", fmt.Errorf("%w: outputFormat %q", ErrValidation, req.OutputFormat)
	}
	return name, format, nil
}
