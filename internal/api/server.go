// Package api exposes the operational HTTP interface of a scrape run:
// health, Prometheus metrics and live run progress. The scrape itself is
// never driven over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mowaffer/grocery-scraper/internal/scraper"
)

// ProgressFunc supplies a point-in-time snapshot of the run counters.
type ProgressFunc func() scraper.Progress

// Server wires the ops endpoints to a running scrape.
type Server struct {
	router   chi.Router
	runID    string
	progress ProgressFunc
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runID string, progress ProgressFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runID:    runID,
		progress: progress,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/progress", s.handleProgress)
	})
	s.router = r

	return s
}

// Router returns the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Serve listens on the port until the context finishes, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, port int) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("ops server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("ops server listening", zap.Int("port", port))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// progressResponse is the JSON shape of /v1/progress.
type progressResponse struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	p := s.progress()
	resp := progressResponse{
		RunID:     s.runID,
		Total:     p.Total,
		Attempted: p.Attempted,
		Succeeded: p.Succeeded,
		Failed:    p.Failed,
		Remaining: p.Remaining,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("encode progress response", zap.Error(err))
	}
}
