package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/vidconvert/internal/jobstore"
	"github.com/dharsanguruparan/vidconvert/internal/model"
)

// DefaultCollection is used when no namespace is configured.
const DefaultCollection = "conversion-jobs"

// JobRepository stores conversion jobs as JSONB documents in PostgreSQL.
type JobRepository struct {
	pool       *pgxpool.Pool
	collection string
	now        func() time.Time
}

// NewJobRepository constructs a repository for the given collection.
func NewJobRepository(pool *pgxpool.Pool, collection string) *JobRepository {
	if collection == "" {
		collection = DefaultCollection
	}
	return &JobRepository{pool: pool, collection: collection, now: time.Now}
}

// Create inserts a new job document and fails if the id is taken.
func (r *JobRepository) Create(ctx context.Context, job *model.ConversionJob) error {
	now := r.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, status, doc, created_at, updated_at)
		VALUES ($1,$2,$3,$4::jsonb,$5,$6)
		ON CONFLICT (collection, id) DO NOTHING
	`, r.collection, job.ID, string(job.Status), string(data), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobstore.ErrAlreadyExists
	}
	return nil
}

// Get returns a job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (*model.ConversionJob, error) {
	var raw []byte
	row := r.pool.QueryRow(ctx, `SELECT doc FROM documents WHERE collection=$1 AND id=$2`, r.collection, id)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobstore.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	var doc jobstore.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return jobstore.Decode(doc)
}

// Update merges fields into the stored document.
func (r *JobRepository) Update(ctx context.Context, id string, fields jobstore.Fields) (*model.ConversionJob, error) {
	return r.UpdateIf(ctx, id, nil, fields)
}

// UpdateIf locks the row, checks the status precondition and writes the
// merged document back in one transaction.
func (r *JobRepository) UpdateIf(ctx context.Context, id string, allowed []model.Status, fields jobstore.Fields) (*model.ConversionJob, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var raw []byte
	row := tx.QueryRow(ctx, `SELECT doc FROM documents WHERE collection=$1 AND id=$2 FOR UPDATE`, r.collection, id)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobstore.ErrNotFound
		}
		return nil, fmt.Errorf("lock job: %w", err)
	}
	var doc jobstore.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if allowed != nil && !doc.Allowed(allowed) {
		return nil, jobstore.ErrPrecondition
	}
	now := r.now().UTC()
	if err := jobstore.Apply(doc, fields, now); err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE documents
		SET status=$1, doc=$2::jsonb, updated_at=$3
		WHERE collection=$4 AND id=$5
	`, string(doc.Status()), string(data), now, r.collection, id)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return jobstore.Decode(doc)
}
