// Package jobstore defines the job record contract shared by the in-memory and
// PostgreSQL backends: create, get and field-merge updates over a JSON
// document, plus the typed lifecycle helpers used by the pipeline.
package jobstore

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/vidconvert/internal/model"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrAlreadyExists     = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPrecondition      = errors.New("job status precondition failed")
)

// Fields is a partial update keyed by dotted paths, e.g. "progress.percent".
type Fields map[string]any

// Store is implemented by every job record backend. No method replaces a
// whole record after creation; Update merges only the supplied fields.
type Store interface {
	Create(ctx context.Context, job *model.ConversionJob) error
	Get(ctx context.Context, id string) (*model.ConversionJob, error)
	Update(ctx context.Context, id string, fields Fields) (*model.ConversionJob, error)
	// UpdateIf merges fields only when the job's current status is one of
	// allowed, otherwise it returns ErrPrecondition.
	UpdateIf(ctx context.Context, id string, allowed []model.Status, fields Fields) (*model.ConversionJob, error)
}
