package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
	"github.com/JakeFAU/uniprot-annotator/internal/annotator"
	"github.com/JakeFAU/uniprot-annotator/internal/metrics"
	"github.com/JakeFAU/uniprot-annotator/internal/store"
)

// MaxBatch caps the identifiers accepted by one batch request.
const MaxBatch = 100

// Looker performs a single lookup; *worker.Worker satisfies it.
type Looker interface {
	Lookup(ctx context.Context, identifier string) annotation.Outcome
}

// Config tunes the server.
type Config struct {
	// BatchParallel bounds concurrent lookups within one batch request.
	BatchParallel  int
	RequestTimeout time.Duration
	// Runs serves /v1/runs when the Postgres ledger is configured.
	Runs store.RunReader
}

// Server wires HTTP handlers to the lookup pipeline.
type Server struct {
	router chi.Router
	looker Looker
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(looker Looker, cfg Config, logger *zap.Logger) *Server {
	if cfg.BatchParallel <= 0 {
		cfg.BatchParallel = 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		looker: looker,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/annotations", func(r chi.Router) {
		r.Post("/", s.lookupBatch)
		r.Get("/{id}", s.lookupOne)
	})
	r.Get("/v1/runs/{id}", s.getRun)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type lookupResponse struct {
	Identifier string            `json:"identifier"`
	Status     annotation.Status `json:"status"`
	Text       string            `json:"text,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

type batchRequest struct {
	Identifiers []string `json:"identifiers"`
	StripPrefix string   `json:"strip_prefix"`
	Truncate    int      `json:"truncate"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.looker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "lookup pipeline not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) lookupOne(w http.ResponseWriter, r *http.Request) {
	truncate := 0
	if raw := r.URL.Query().Get("truncate"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "truncate must be a non-negative integer")
			return
		}
		truncate = n
	}
	id := annotator.NormalizeIdentifier(chi.URLParam(r, "id"), r.URL.Query().Get("strip_prefix"), truncate)
	s.writeJSON(w, http.StatusOK, s.lookup(r.Context(), id))
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runs == nil {
		s.writeError(w, http.StatusNotFound, "run ledger not configured")
		return
	}
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.cfg.Runs.GetRun(r.Context(), runID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		s.logger.Error("load run failed", zap.Stringer("run_id", runID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
	default:
		s.writeJSON(w, http.StatusOK, run)
	}
}

func (s *Server) lookupBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	switch {
	case len(req.Identifiers) == 0:
		s.writeError(w, http.StatusBadRequest, "identifiers required")
		return
	case len(req.Identifiers) > MaxBatch:
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d identifiers per request", MaxBatch))
		return
	case req.Truncate < 0:
		s.writeError(w, http.StatusBadRequest, "truncate must be a non-negative integer")
		return
	}

	results := make([]lookupResponse, len(req.Identifiers))
	var g errgroup.Group
	g.SetLimit(s.cfg.BatchParallel)
	for i, raw := range req.Identifiers {
		g.Go(func() error {
			id := annotator.NormalizeIdentifier(raw, req.StripPrefix, req.Truncate)
			results[i] = s.lookup(r.Context(), id)
			return nil
		})
	}
	_ = g.Wait()
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) lookup(ctx context.Context, id string) lookupResponse {
	outcome := s.looker.Lookup(ctx, id)
	return lookupResponse{
		Identifier: id,
		Status:     outcome.Status,
		Text:       outcome.Text,
		Reason:     outcome.Reason,
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
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

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
