package executor

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dharsanguruparan/vidconvert/internal/ffmpeg"
	"github.com/dharsanguruparan/vidconvert/internal/jobstore"
	"github.com/dharsanguruparan/vidconvert/internal/model"
	"github.com/dharsanguruparan/vidconvert/internal/storage"
)

type fakeObjects struct {
	mu          sync.Mutex
	downloadErr error
	uploadErr   error
	presignErr  error
	uploads     map[string]string
	tempFiles   []string
}

func (f *fakeObjects) Download(_ context.Context, bucket, key, dest string) error {
	f.mu.Lock()
	f.tempFiles = append(f.tempFiles, dest)
	f.mu.Unlock()
	if f.downloadErr != nil {
		return f.downloadErr
	}
	return os.WriteFile(dest, []byte("input:"+bucket+"/"+key), 0o600)
}

func (f *fakeObjects) Upload(_ context.Context, bucket, key, src, contentType string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	if _, err := os.Stat(src); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = map[string]string{}
	}
	f.uploads[bucket+"/"+key] = contentType
	return nil
}

func (f *fakeObjects) PresignDownload(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return "https://signed.example/" + bucket + "/" + key, nil
}

type convertFunc func(ctx context.Context, input, output, format string, sink func(int)) error

func (f convertFunc) Convert(ctx context.Context, input, output, format string, sink func(int)) error {
	return f(ctx, input, output, format, sink)
}

func writeOutput(percents ...int) convertFunc {
	return func(_ context.Context, _, output, _ string, sink func(int)) error {
		for _, p := range percents {
			sink(p)
		}
		return os.WriteFile(output, []byte("converted"), 0o600)
	}
}

type recorder struct {
	mu       sync.Mutex
	percents []int
	statuses []model.Status
}

func (r *recorder) JobChanged(_ context.Context, job *model.ConversionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, job.Progress.Percent)
	r.statuses = append(r.statuses, job.Status)
	return nil
}

func (r *recorder) count(status model.Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i, s := range r.statuses {
		if s == status && (i == 0 || r.statuses[i-1] != status) {
			n++
		}
	}
	return n
}

type fixture struct {
	store   *storage.MemoryStore
	rec     *recorder
	objects *fakeObjects
	tmp     string
}

func newFixture(t *testing.T, status model.Status) *fixture {
	t.Helper()
	mem := storage.NewMemoryStore()
	job := &model.ConversionJob{
		ID:     "job-1",
		Status: status,
		InputFile: model.InputFile{
			Bucket:       "uploads",
			Path:         "uploads/job-1/holiday.mov",
			OriginalName: "holiday.mov",
		},
		OutputFile: model.OutputFile{Format: "mp4"},
	}
	if err := mem.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	return &fixture{store: mem, rec: &recorder{}, objects: &fakeObjects{}, tmp: t.TempDir()}
}

func (f *fixture) service(conv Converter) *Service {
	store := jobstore.NewObserved(f.store, log.New(io.Discard, "", 0), f.rec)
	return New(NewStoreTracker(store), f.objects, conv, Options{
		OutputBucket:   "outputs",
		DownloadURLTTL: 7 * 24 * time.Hour,
		TempDir:        f.tmp,
		Instance:       "small",
		Logger:         log.New(io.Discard, "", 0),
	})
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp dir to be cleaned, found %d entries", len(entries))
	}
}

func TestProcessCompletesJob(t *testing.T) {
	f := newFixture(t, model.StatusQueued)
	svc := f.service(writeOutput(10, 20, 50, 90))

	res, err := svc.Process(context.Background(), Request{JobID: "job-1"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != StatusSuccess || res.OutputKey != "outputs/job-1/holiday.mp4" {
		t.Fatalf("unexpected result %+v", res)
	}
	if ct := f.objects.uploads["outputs/outputs/job-1/holiday.mp4"]; ct != "video/mp4" {
		t.Fatalf("expected upload with video/mp4, got %q (%v)", ct, f.objects.uploads)
	}

	job, _ := f.store.Get(context.Background(), "job-1")
	if job.Status != model.StatusCompleted || job.Progress.Percent != 100 || job.Progress.CurrentStep != jobstore.StepDone {
		t.Fatalf("unexpected job state %+v", job)
	}
	if job.OutputFile.Path != res.OutputKey || job.OutputFile.SignedURL == "" || job.OutputFile.URLExpiresAt == nil {
		t.Fatalf("output not recorded: %+v", job.OutputFile)
	}
	if job.CompletedAt == nil || job.ClaimedAt == nil || !strings.HasPrefix(job.ClaimedBy, "small-") {
		t.Fatalf("timestamps or claim missing: %+v", job)
	}
	assertEmptyDir(t, f.tmp)
}

func TestProgressIsMonotonicInTens(t *testing.T) {
	f := newFixture(t, model.StatusQueued)
	svc := f.service(writeOutput(10, 30, 60))
	if _, err := svc.Process(context.Background(), Request{JobID: "job-1"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	prev := -1
	for _, p := range f.rec.percents {
		if p < prev {
			t.Fatalf("progress decreased: %v", f.rec.percents)
		}
		if p%10 != 0 {
			t.Fatalf("progress %d not a multiple of 10: %v", p, f.rec.percents)
		}
		prev = p
	}
	if prev != 100 {
		t.Fatalf("expected final progress 100, got %v", f.rec.percents)
	}
}

func TestExitCodeMarksFailedAndCleansUp(t *testing.T) {
	f := newFixture(t, model.StatusQueued)
	var seenInput, seenOutput string
	svc := f.service(convertFunc(func(_ context.Context, input, output, _ string, _ func(int)) error {
		seenInput, seenOutput = input, output
		if err := os.WriteFile(output, []byte("partial"), 0o600); err != nil {
			return err
		}
		return &ffmpeg.ExitError{Code: 1}
	}))

	_, err := svc.Process(context.Background(), Request{JobID: "job-1"})
	var jobErr *model.JobError
	if !errors.As(err, &jobErr) || jobErr.Code != model.CodeConversionFailed {
		t.Fatalf("expected conversion failure, got %v", err)
	}
	job, _ := f.store.Get(context.Background(), "job-1")
	if job.Status != model.StatusFailed || job.Error == nil {
		t.Fatalf("expected FAILED job, got %+v", job)
	}
	if job.Error.Code != model.CodeConversionFailed || !strings.Contains(job.Error.Message, "1") {
		t.Fatalf("unexpected error info %+v", job.Error)
	}
	for _, p := range []string{seenInput, seenOutput} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, stat err %v", p, err)
		}
	}
	assertEmptyDir(t, f.tmp)
	if n := f.rec.count(model.StatusFailed); n != 1 {
		t.Fatalf("expected exactly one FAILED write, got %d", n)
	}
}

func TestStageFailureCodes(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*fakeObjects)
		code  string
	}{
		{"download", func(o *fakeObjects) { o.downloadErr = errors.New("no such key") }, model.CodeDownloadFailed},
		{"upload", func(o *fakeObjects) { o.uploadErr = errors.New("bucket gone") }, model.CodeUploadFailed},
		{"signing", func(o *fakeObjects) { o.presignErr = errors.New("no credentials") }, model.CodeSigningFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, model.StatusQueued)
			tc.setup(f.objects)
			svc := f.service(writeOutput())
			if _, err := svc.Process(context.Background(), Request{JobID: "job-1"}); err == nil {
				t.Fatalf("expected error")
			}
			job, _ := f.store.Get(context.Background(), "job-1")
			if job.Status != model.StatusFailed || job.Error.Code != tc.code {
				t.Fatalf("expected %s, got %+v", tc.code, job.Error)
			}
			assertEmptyDir(t, f.tmp)
		})
	}
}

func TestSecondClaimantSkips(t *testing.T) {
	f := newFixture(t, model.StatusProcessing)
	called := false
	svc := f.service(convertFunc(func(context.Context, string, string, string, func(int)) error {
		called = true
		return nil
	}))
	res, err := svc.Process(context.Background(), Request{JobID: "job-1"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != StatusSkipped || called {
		t.Fatalf("expected skip without conversion, got %+v called=%v", res, called)
	}
	job, _ := f.store.Get(context.Background(), "job-1")
	if job.Status != model.StatusProcessing || job.Error != nil {
		t.Fatalf("skipped job must be untouched: %+v", job)
	}
}

func TestUnknownJob(t *testing.T) {
	f := newFixture(t, model.StatusQueued)
	svc := f.service(writeOutput())
	if _, err := svc.Process(context.Background(), Request{JobID: "missing"}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := svc.Process(context.Background(), Request{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRequestLocationIsFallback(t *testing.T) {
	mem := storage.NewMemoryStore()
	job := &model.ConversionJob{ID: "job-2", Status: model.StatusQueued, OutputFile: model.OutputFile{Format: "avi"}}
	if err := mem.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	objects := &fakeObjects{}
	var gotFormat string
	svc := New(NewStoreTracker(mem), objects, convertFunc(func(_ context.Context, _, output, format string, _ func(int)) error {
		gotFormat = format
		return os.WriteFile(output, nil, 0o600)
	}), Options{OutputBucket: "outputs", TempDir: t.TempDir(), Logger: log.New(io.Discard, "", 0)})

	res, err := svc.Process(context.Background(), Request{JobID: "job-2", BucketName: "uploads", FilePath: "uploads/job-2/a.b.mkv"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if gotFormat != "avi" || res.OutputKey != "outputs/job-2/a.b.avi" {
		t.Fatalf("unexpected format/key %q %q", gotFormat, res.OutputKey)
	}
}

func TestMissingLocationFails(t *testing.T) {
	mem := storage.NewMemoryStore()
	if err := mem.Create(context.Background(), &model.ConversionJob{ID: "job-3", Status: model.StatusQueued}); err != nil {
		t.Fatalf("create: %v", err)
	}
	svc := New(NewStoreTracker(mem), &fakeObjects{}, writeOutput(), Options{TempDir: t.TempDir(), Logger: log.New(io.Discard, "", 0)})
	if _, err := svc.Process(context.Background(), Request{JobID: "job-3"}); err == nil {
		t.Fatalf("expected error")
	}
	job, _ := mem.Get(context.Background(), "job-3")
	if job.Status != model.StatusFailed || job.Error.Code != model.CodeInputMetadataMissing {
		t.Fatalf("unexpected job %+v", job)
	}
}
