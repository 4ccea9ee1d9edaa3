// Package health exposes the HTTP control surface: liveness/readiness
// probes, a Prometheus-style metrics endpoint, and a listing of currently
// open pipes. Routing is built on chi, the router the rest of the example
// pack reaches for whenever it needs more than a bare http.ServeMux.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/netpipefs/internal/netlog"
)

// Status is the outcome of a single named check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check reports a named subsystem's current status.
type Check func() (Status, string)

// PipeLister supplies the set of currently open paths, backed by the pipe
// engine's registry.
type PipeLister interface {
	Paths() []string
}

// Server serves /healthz, /readyz, /metrics, and /pipes.
type Server struct {
	httpServer *http.Server

	mu     sync.RWMutex
	checks map[string]Check

	pipes     PipeLister
	startTime time.Time
}

// NewServer builds a Server listening on addr. pipes may be nil until the
// engine is constructed; Paths() is called lazily on each /pipes request.
func NewServer(addr string, pipes PipeLister) *Server {
	s := &Server{
		checks:    make(map[string]Check),
		pipes:     pipes,
		startTime: time.Now(),
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/pipes", s.handlePipes)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// RegisterCheck adds a named health check, consulted by both /healthz and
// /readyz.
func (s *Server) RegisterCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		netlog.Info("health server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			netlog.Error("health server: %v", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) runChecks() (Status, map[string]any) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	overall := StatusHealthy
	results := make(map[string]any, len(s.checks))
	for name, check := range s.checks {
		status, msg := check()
		results[name] = map[string]any{"status": status, "message": msg}
		switch status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return overall, results
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall, results := s.runChecks()
	w.Header().Set("Content-Type", "application/json")
	if overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":    overall,
		"checks":    results,
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	overall, _ := s.runChecks()
	w.Header().Set("Content-Type", "application/json")
	if overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "# HELP netpipefs_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE netpipefs_uptime_seconds gauge\n")
	fmt.Fprintf(w, "netpipefs_uptime_seconds %f\n", time.Since(s.startTime).Seconds())

	if s.pipes != nil {
		fmt.Fprintf(w, "# HELP netpipefs_open_pipes Number of pipes currently open.\n")
		fmt.Fprintf(w, "# TYPE netpipefs_open_pipes gauge\n")
		fmt.Fprintf(w, "netpipefs_open_pipes %d\n", len(s.pipes.Paths()))
	}
}

func (s *Server) handlePipes(w http.ResponseWriter, r *http.Request) {
	var paths []string
	if s.pipes != nil {
		paths = s.pipes.Paths()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"pipes": paths})
}
