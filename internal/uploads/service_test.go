package uploads

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/vidconvert/internal/model"
	"github.com/dharsanguruparan/vidconvert/internal/storage"
)

type stubPresigner struct {
	calls       int
	contentType string
	ttl         time.Duration
	err         error
}

func (s *stubPresigner) PresignUpload(_ context.Context, bucket, key string, ttl time.Duration, contentType string) (string, error) {
	s.calls++
	s.contentType = contentType
	s.ttl = ttl
	if s.err != nil {
		return "", s.err
	}
	return "https://storage.example/" + bucket + "/" + key + "?sig=x", nil
}

func newService() (*Service, *storage.MemoryStore, *stubPresigner) {
	store := storage.NewMemoryStore()
	presigner := &stubPresigner{}
	svc := NewService(store, presigner, Options{Bucket: "uploads", MaxFileSize: 1 << 30})
	return svc, store, presigner
}

func TestAuthorizeCreatesPendingJob(t *testing.T) {
	svc, store, presigner := newService()
	before := time.Now()
	resp, err := svc.Authorize(context.Background(), Request{FileName: "holiday.mov", OutputFormat: "AVI", Settings: map[string]any{"quality": "medium"}})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !strings.Contains(resp.UploadURL, "uploads/"+resp.JobID+"/holiday.mov") {
		t.Fatalf("upload url not scoped to job path: %s", resp.UploadURL)
	}
	if !resp.ExpiresAt.After(before) || resp.MaxFileSize != 1<<30 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if presigner.contentType != "video/*" || presigner.ttl != 15*time.Minute {
		t.Fatalf("unexpected presign args %q %v", presigner.contentType, presigner.ttl)
	}

	job, err := store.Get(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != model.StatusPending || job.OutputFile.Format != "avi" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.InputFile.Path != "uploads/"+resp.JobID+"/holiday.mov" || job.InputFile.Bucket != "uploads" || job.InputFile.OriginalName != "holiday.mov" {
		t.Fatalf("unexpected input %+v", job.InputFile)
	}
	if job.ConversionSettings["quality"] != "medium" {
		t.Fatalf("settings lost: %v", job.ConversionSettings)
	}
}

func TestAuthorizeIssuesUniqueIDs(t *testing.T) {
	svc, _, _ := newService()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		resp, err := svc.Authorize(context.Background(), Request{})
		if err != nil {
			t.Fatalf("authorize: %v", err)
		}
		if seen[resp.JobID] {
			t.Fatalf("duplicate job id %s", resp.JobID)
		}
		seen[resp.JobID] = true
	}
}

func TestAuthorizeDefaultsAndSanitizes(t *testing.T) {
	cases := []struct {
		req          Request
		name, format string
	}{
		{Request{}, "video.mp4", "mp4"},
		{Request{FileName: "../../etc/clip.mkv", OutputFormat: ".WebM"}, "clip.mkv", "webm"},
		{Request{FileName: `C:\videos\clip.mov`}, "clip.mov", "mp4"},
	}
	for _, tc := range cases {
		name, format, err := normalize(tc.req)
		if err != nil {
			t.Fatalf("normalize(%+v): %v", tc.req, err)
		}
		if name != tc.name || format != tc.format {
			t.Fatalf("normalize(%+v) = %q %q, want %q %q", tc.req, name, format, tc.name, tc.format)
		}
	}
}

func TestAuthorizeRejectsBadFormat(t *testing.T) {
	svc, _, presigner := newService()
	for _, format := range []string{"mp4;rm -rf", "averyverylongformat", "m p4"} {
		_, err := svc.Authorize(context.Background(), Request{OutputFormat: format})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("format %q: expected ErrValidation, got %v", format, err)
		}
	}
	if presigner.calls != 0 {
		t.Fatalf("validation errors must not sign urls")
	}
}

func TestAuthorizePresignFailure(t *testing.T) {
	svc, _, presigner := newService()
	presigner.err = errors.New("no credentials")
	if _, err := svc.Authorize(context.Background(), Request{}); err == nil || errors.Is(err, ErrValidation) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}
