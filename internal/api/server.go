// Package api exposes the HTTP interface for the research service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
	"github.com/Eli-Gooding/research-v1-sub000/internal/task"
)

// AuthConfig gates the /v1 routes behind a shared key when enabled.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// Config carries the HTTP-facing settings.
type Config struct {
	Auth AuthConfig
	// RequestTimeout bounds each request (default 60s).
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the task manager and blob store.
type Server struct {
	router  chi.Router
	manager *task.Manager
	blobs   research.BlobStore
	cfg     Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The gatherer
// backs /metrics; pass nil to use the default Prometheus registry.
func NewServer(
	manager *task.Manager,
	blobs research.BlobStore,
	gatherer prometheus.Gatherer,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		manager: manager,
		blobs:   blobs,
		cfg:     cfg,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/research", func(r chi.Router) {
			r.Post("/", s.submitResearch)
			r.Get("/", s.listResearch)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getStatus)
				r.Get("/logs", s.getLogs)
				r.Get("/result", s.getResult)
				r.Get("/artifacts", s.listArtifacts)
				r.Post("/analyze", s.triggerAnalysis)
				r.Post("/reset", s.resetJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	JobID       string   `json:"job_id"`
	URL         string   `json:"url"`
	Company     string   `json:"company"`
	Website     string   `json:"website"`
	Categories  []string `json:"categories"`
	AutoAnalyze bool     `json:"auto_analyze"`
}

func (s *Server) submitResearch(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.manager.Submit(r.Context(), task.SubmitRequest{
		JobID: req.JobID,
		Target: research.Target{
			URL:     req.URL,
			Company: req.Company,
			Website: req.Website,
		},
		Categories:  req.Categories,
		AutoAnalyze: req.AutoAnalyze,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	logs, err := s.manager.Logs(r.Context(), jobID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"logs":   logs,
	})
}

// getResult serves the compiled report, or a single category result when the
// category query parameter is present. Either returns 404 until the artifact
// exists.
func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.manager.Get(r.Context(), jobID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if category := r.URL.Query().Get("category"); category != "" {
		ct, ok := job.Categories[category]
		if !ok {
			s.writeErr(w, research.ErrCategoryNotFound)
			return
		}
		if ct.Status != research.CategoryCompleted || ct.Result == "" {
			s.writeError(w, http.StatusNotFound, "category result not ready")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"job_id":   jobID,
			"category": category,
			"result":   ct.Result,
			"usage":    ct.Usage,
		})
		return
	}
	report, err := s.blobs.Get(r.Context(), s.manager.BlobKey(jobID, "report.md"))
	if err != nil {
		if errors.Is(err, research.ErrBlobNotFound) {
			s.writeError(w, http.StatusNotFound, "report not ready")
			return
		}
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"report": string(report),
		"usage":  job.Usage,
	})
}

type analyzeRequest struct {
	Categories []string `json:"categories"`
}

func (s *Server) triggerAnalysis(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req analyzeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	job, err := s.manager.TriggerAnalysis(r.Context(), jobID, req.Categories)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     string(job.Status),
		"categories": categoryKeys(job),
	})
}

func (s *Server) resetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Reset(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func categoryKeys(job research.Job) []string {
	keys := make([]string, 0, len(job.Categories))
	for key := range job.Categories {
		keys = append(keys, key)
	}
	return keys
}

// writeErr maps domain errors to HTTP status codes.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, research.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, research.ErrJobNotFound),
		errors.Is(err, research.ErrCategoryNotFound),
		errors.Is(err, research.ErrBlobNotFound),
		errors.Is(err, research.ErrNoContent):
		status = http.StatusNotFound
	case errors.Is(err, research.ErrConflict), errors.Is(err, research.ErrJobExists):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}
