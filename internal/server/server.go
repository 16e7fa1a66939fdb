// Package server exposes the conversion executor over HTTP. Dispatch calls
// are JSON bodies naming a job id, optionally signed with an HMAC.
package server

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

	"github.com/dharsanguruparan/vidconvert/internal/executor"
	"github.com/dharsanguruparan/vidconvert/internal/model"
	"github.com/dharsanguruparan/vidconvert/internal/signing"
)

const maxRequestBody = 1 << 20

// Processor runs one conversion request.
type Processor interface {
	Process(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// Server hosts the executor endpoints.
type Server struct {
	addr      string
	processor Processor
	signer    *signing.Signer
	logger    *log.Logger
	once      sync.Once
	handler   http.Handler
}

// New creates a server listening on addr. A nil or disabled signer accepts
// unsigned requests.
func New(addr string, processor Processor, signer *signing.Signer, logger *log.Logger) *Server {
	if signer == nil {
		signer = signing.NewSigner(nil)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{addr: addr, processor: processor, signer: signer, logger: logger}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		r := mux.NewRouter()
		r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
		r.HandleFunc("/", s.handleConvert).Methods(http.MethodPost)
		r.HandleFunc("/convert", s.handleConvert).Methods(http.MethodPost)
		r.Use(s.loggingMiddleware)
		s.handler = r
	})
	return s.handler
}

// Serve launches the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		// in-flight conversions get a grace period before the listener closes
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	s.logger.Printf("executor listening on %s", s.addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body", "")
		return
	}
	var req executor.Request
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Request body must be JSON", "")
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		respondError(w, http.StatusBadRequest, executor.ErrInvalidRequest.Error(), "")
		return
	}
	if !s.signer.VerifyRequest(r, req.JobID, body) {
		respondError(w, http.StatusUnauthorized, "invalid dispatch signature", "")
		return
	}

	result, err := s.processor.Process(r.Context(), req)
	if err != nil {
		s.writeProcessError(w, req.JobID, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) writeProcessError(w http.ResponseWriter, jobID string, err error) {
	switch {
	case errors.Is(err, executor.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, executor.ErrJobNotFound):
		respondError(w, http.StatusNotFound, "job not found: "+jobID, "")
	default:
		var jobErr *model.JobError
		code := model.CodeProcessingError
		if errors.As(err, &jobErr) {
			code = jobErr.Code
		}
		s.logger.Printf("error processing job %s: %v", jobID, err)
		respondError(w, http.StatusInternalServerError, err.Error(), code)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

func respondError(w http.ResponseWriter, status int, message, code string) {
	payload := map[string]string{"error": message}
	if code != "" {
		payload["code"] = code
	}
	respondJSON(w, status, payload)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		log.Printf("encode json failed: %v", err)
	}
}
