package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dharsanguruparan/vidconvert/internal/executor"
	"github.com/dharsanguruparan/vidconvert/internal/model"
	"github.com/dharsanguruparan/vidconvert/internal/processing"
)

type statusService struct {
	mu      sync.Mutex
	updates []Update
	jobs    map[string]Job
	fail    bool
}

func (s *statusService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/update", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.mu.Lock()
		fail := s.fail
		s.mu.Unlock()
		if fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		var u Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.updates = append(s.updates, u)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/status/"):]
		job, ok := s.jobs[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(job)
	})
	return mux
}

func (s *statusService) snapshot() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

func (s *statusService) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func TestClientFetchAndUpdate(t *testing.T) {
	svc := &statusService{jobs: map[string]Job{"j1": {JobID: "j1", Status: "waiting_upload", FileName: "test_input.mp4"}}}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)

	job, err := c.Fetch(context.Background(), "j1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if job.FileName != "test_input.mp4" {
		t.Fatalf("unexpected job %+v", job)
	}
	if _, err := c.Fetch(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := c.Update(context.Background(), Update{JobID: "j1", Status: StatusCompleted, Progress: intPtr(100), OutputKey: "outputs/j1/test_input.mp4"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	updates := svc.snapshot()
	if len(updates) != 1 || *updates[0].Progress != 100 || updates[0].OutputKey == "" {
		t.Fatalf("unexpected updates %+v", updates)
	}
}

func TestClientUpdateReportsStatus(t *testing.T) {
	svc := &statusService{fail: true}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()
	err := NewClient(srv.URL, time.Second).Update(context.Background(), Update{JobID: "j1", Status: StatusProcessing})
	if err == nil {
		t.Fatalf("expected error for 503")
	}
}

func TestTrackerLoadDerivesInputKey(t *testing.T) {
	svc := &statusService{jobs: map[string]Job{"j1": {JobID: "j1", FileName: "clips/holiday.mov", Format: "webm"}}}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()
	tr := NewTracker(NewClient(srv.URL, time.Second), processing.New(1, 4, nil), "in-bucket", log.New(io.Discard, "", 0))

	job, err := tr.Load(context.Background(), executor.Request{JobID: "j1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if job.InputFile.Bucket != "in-bucket" || job.InputFile.Path != "uploads/j1/holiday.mov" || job.OutputFile.Format != "webm" {
		t.Fatalf("unexpected job %+v", job)
	}

	job, err = tr.Load(context.Background(), executor.Request{JobID: "j1", Format: "avi"})
	if err != nil || job.OutputFile.Format != "avi" {
		t.Fatalf("request format should win: %+v %v", job, err)
	}
}

func TestTrackerLoadFailureIsFatal(t *testing.T) {
	svc := &statusService{jobs: map[string]Job{}}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()
	tr := NewTracker(NewClient(srv.URL, time.Second), processing.New(1, 4, nil), "in-bucket", log.New(io.Discard, "", 0))
	_, err := tr.Load(context.Background(), executor.Request{JobID: "missing"})
	var jobErr *model.JobError
	if !errors.As(err, &jobErr) || jobErr.Code != model.CodeInputMetadataMissing {
		t.Fatalf("expected INPUT_METADATA_MISSING, got %v", err)
	}
}

func TestTrackerNotificationsAreOrderedAndBestEffort(t *testing.T) {
	svc := &statusService{}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()
	pool := processing.New(1, 16, log.New(io.Discard, "", 0))
	pool.Start(context.Background())
	tr := NewTracker(NewClient(srv.URL, time.Second), pool, "in-bucket", log.New(io.Discard, "", 0))

	ctx := context.Background()
	if err := tr.Claim(ctx, "j1", "token"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_ = tr.Progress(ctx, "j1", 10, "Starting conversion")
	_ = tr.Progress(ctx, "j1", 50, "Converting video")
	_ = tr.Complete(ctx, "j1", model.OutputFile{Path: "outputs/j1/a.mp4"})
	pool.Close()

	updates := svc.snapshot()
	if len(updates) != 4 {
		t.Fatalf("expected 4 updates, got %+v", updates)
	}
	first, last := updates[0], updates[3]
	if first.Status != StatusProcessing || *first.Progress != 0 {
		t.Fatalf("intake should be processing at 0, got %+v", first)
	}
	if last.Status != StatusCompleted || *last.Progress != 100 || last.OutputKey != "outputs/j1/a.mp4" {
		t.Fatalf("unexpected final update %+v", last)
	}

	svc.setFail(true)
	pool = processing.New(1, 4, log.New(io.Discard, "", 0))
	pool.Start(ctx)
	tr = NewTracker(NewClient(srv.URL, time.Second), pool, "in-bucket", log.New(io.Discard, "", 0))
	if err := tr.Fail(ctx, "j1", model.ErrorInfo{Code: model.CodeConversionFailed, Message: "code 1"}); err != nil {
		t.Fatalf("notification errors must not surface: %v", err)
	}
	pool.Close()
}
