package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/dharsanguruparan/vidconvert/internal/jobstore"
	"github.com/dharsanguruparan/vidconvert/internal/progresscache"
	"github.com/dharsanguruparan/vidconvert/internal/queue"
	"github.com/dharsanguruparan/vidconvert/internal/uploads"
)

const maxRequestBody = 64 << 10

// Authorizer issues upload URLs.
type Authorizer interface {
	Authorize(ctx context.Context, req uploads.Request) (*uploads.Response, error)
}

// ProgressReader serves cached progress.
type ProgressReader interface {
	Get(ctx context.Context, jobID string) (*progresscache.Entry, error)
}

// Enqueuer hands finalize events to the dispatch worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queue.FinalizePayload) error
}

// Options configures a Server. Progress and Queue may be nil, which disables
// the cache lookup and the finalize webhook.
type Options struct {
	Address  string
	Progress ProgressReader
	Queue    Enqueuer
	Logger   *log.Logger
}

// Server exposes HTTP endpoints for upload authorization and job visibility.
type Server struct {
	opts    Options
	uploads Authorizer
	jobs    jobstore.Store
	logger  *log.Logger
	server  *http.Server
	once    sync.Once
	handler http.Handler
}

// New constructs a Server.
func New(auth Authorizer, jobs jobstore.Store, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{opts: opts, uploads: auth, jobs: jobs, logger: logger}
}

// Handler returns the routed handler wrapped with CORS and request logging.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		r := mux.NewRouter()
		r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
		r.HandleFunc("/", s.handleAuthorize).Methods(http.MethodPost)
		r.HandleFunc("/uploads", s.handleAuthorize).Methods(http.MethodPost)
		r.HandleFunc("/jobs/{id}", s.handleJob).Methods(http.MethodGet)
		r.HandleFunc("/jobs/{id}/progress", s.handleProgress).Methods(http.MethodGet)
		r.HandleFunc("/events/finalize", s.handleFinalize).Methods(http.MethodPost)
		c := cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         3600,
		})
		s.handler = c.Handler(s.loggingMiddleware(r))
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.opts.Address,
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Printf("api listening on %s", s.opts.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req uploads.Request
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Request body must be JSON")
		return
	}
	resp, err := s.uploads.Authorize(r.Context(), req)
	if errors.Is(err, uploads.ErrValidation) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Printf("authorize upload failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to authorize upload")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Printf("load job %s failed: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

type progressResponse struct {
	*progresscache.Entry
	Source string `json:"source"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.opts.Progress != nil {
		entry, err := s.opts.Progress.Get(r.Context(), id)
		if err == nil {
			respondJSON(w, http.StatusOK, progressResponse{Entry: entry, Source: "cache"})
			return
		}
		if !errors.Is(err, progresscache.ErrMiss) {
			s.logger.Printf("progress cache read for %s failed: %v", id, err)
		}
	}
	job, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Printf("load job %s failed: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	respondJSON(w, http.StatusOK, progressResponse{
		Entry: &progresscache.Entry{
			JobID:     job.ID,
			Status:    job.Status,
			Percent:   job.Progress.Percent,
			Step:      job.Progress.CurrentStep,
			UpdatedAt: job.UpdatedAt,
		},
		Source: "store",
	})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if s.opts.Queue == nil {
		respondError(w, http.StatusNotFound, "finalize webhook disabled")
		return
	}
	var payload queue.FinalizePayload
	if err := decodeBody(w, r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "Request body must be JSON")
		return
	}
	if payload.Bucket == "" || strings.TrimSpace(payload.Name) == "" {
		respondError(w, http.StatusBadRequest, "bucket and name are required")
		return
	}
	if err := s.opts.Queue.Enqueue(r.Context(), payload); err != nil {
		s.logger.Printf("enqueue finalize %s/%s failed: %v", payload.Bucket, payload.Name, err)
		respondError(w, http.StatusInternalServerError, "failed to queue event")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
