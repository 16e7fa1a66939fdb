// Package storage contains the in-memory job record backend used by tests and
// single-process deployments.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dharsanguruparan/vidconvert/internal/jobstore"
	"github.com/dharsanguruparan/vidconvert/internal/model"
)

// MemoryStore keeps job documents in a map guarded by an RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]jobstore.Document
	now  func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]jobstore.Document),
		now:  time.Now,
	}
}

// Create inserts a new job document.
func (m *MemoryStore) Create(_ context.Context, job *model.ConversionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[job.ID]; ok {
		return jobstore.ErrAlreadyExists
	}
	now := m.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	doc, err := jobstore.Encode(job)
	if err != nil {
		return err
	}
	m.docs[job.ID] = doc
	return nil
}

// Get returns a copy of the stored job.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.ConversionJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, jobstore.ErrNotFound
	}
	return jobstore.Decode(doc)
}

// Update merges fields into the stored document.
func (m *MemoryStore) Update(ctx context.Context, id string, fields jobstore.Fields) (*model.ConversionJob, error) {
	return m.UpdateIf(ctx, id, nil, fields)
}

// UpdateIf merges fields when the job's status is in allowed. A nil allowed
// slice skips the check.
func (m *MemoryStore) UpdateIf(_ context.Context, id string, allowed []model.Status, fields jobstore.Fields) (*model.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, jobstore.ErrNotFound
	}
	if allowed != nil && !doc.Allowed(allowed) {
		return nil, jobstore.ErrPrecondition
	}
	// merge into a copy so a rejected update leaves the record untouched
	next := doc.Clone()
	if err := jobstore.Apply(next, fields, m.now()); err != nil {
		return nil, err
	}
	m.docs[id] = next
	return jobstore.Decode(next)
}

// Document returns a copy of the raw stored document.
func (m *MemoryStore) Document(id string) (jobstore.Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}
