// Package api exposes the ingestion queue over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/ingestion"
	"github.com/poiesic/gleaner/queue"
	"github.com/poiesic/gleaner/storage"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var (
	// ErrQueueRequired is returned when a queue is not provided.
	ErrQueueRequired = errors.New("queue required")

	// ErrRunnerRequired is returned when a job runner is not provided.
	ErrRunnerRequired = errors.New("job runner required")
)

// Runner processes at most one job per call. *ingestion.Worker satisfies it.
type Runner interface {
	RunOnce(ctx context.Context) ingestion.Outcome
}

// HealthFunc reports whether the service can take work.
type HealthFunc func() error

// Server routes HTTP requests to the queue and a job runner.
type Server struct {
	queue   *queue.Queue
	runner  Runner
	health  HealthFunc
	logger  *slog.Logger
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealth sets the health probe behind GET /healthz.
func WithHealth(fn HealthFunc) Option {
	return func(s *Server) {
		s.health = fn
	}
}

// NewServer creates a Server.
func NewServer(q *queue.Queue, runner Runner, opts ...Option) (*Server, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}
	if runner == nil {
		return nil, ErrRunnerRequired
	}
	s := &Server{
		queue:  q,
		runner: runner,
		health: func() error { return nil },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api")
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ingest", s.handleIngestHint)
	r.Post("/ingest", s.handleIngest)
	r.Post("/worker", s.handleWorker)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsedMs", time.Since(start).Milliseconds(),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}

type ingestResponse struct {
	OK bool `json:"ok"`
	*queue.EnqueueResult
}

type workerResponse struct {
	OK bool `json:"ok"`
	ingestion.Outcome
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleIngestHint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"hint": "Use POST with { url, tenantId } to enqueue job.",
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req queue.EnqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	res, err := s.queue.Enqueue(r.Context(), req)
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case err != nil:
		s.logger.Error("enqueue failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{OK: true, EnqueueResult: res})
}

func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	outcome := s.runner.RunOnce(r.Context())
	if !outcome.Processed && outcome.Error != "" {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: outcome.Error})
		return
	}
	writeJSON(w, http.StatusOK, workerResponse{OK: true, Outcome: outcome})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := storage.JobQuery{
		TenantID: r.URL.Query().Get("tenantId"),
		Status:   core.JobStatus(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		query.Limit = limit
	}

	jobs, err := s.queue.List(r.Context(), query)
	if err != nil {
		s.logger.Error("list jobs failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	views := make([]JobView, len(jobs))
	for i, job := range jobs {
		views[i] = NewJobView(job)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobs": views})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": NewJobView(job)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
