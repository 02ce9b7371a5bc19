// Package api provides the HTTP control surface of the pregen daemon.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/pregen/internal/domain"
	"github.com/tutu-network/pregen/internal/health"
	"github.com/tutu-network/pregen/internal/infra/materialize"
	"github.com/tutu-network/pregen/internal/infra/overlay"
	"github.com/tutu-network/pregen/internal/infra/scheduler"
	"github.com/tutu-network/pregen/internal/infra/watchdog"
)

// Server is the pregen HTTP API server.
type Server struct {
	sched    *scheduler.Scheduler
	store    domain.TaskStore
	watchdog *watchdog.Watchdog
	readings func() domain.Readings

	version        string
	metricsEnabled bool
	reload         func() error    // re-reads watchdog config (nil if not set)
	checker        *health.Checker // nil if not set
	overlay        *overlay.Hub    // nil if not set
	breaker        *materialize.Breaker
}

// NewServer creates a new API server.
func NewServer(sched *scheduler.Scheduler, store domain.TaskStore, wd *watchdog.Watchdog, readings func() domain.Readings) *Server {
	if readings == nil {
		readings = func() domain.Readings { return domain.Readings{} }
	}
	return &Server{sched: sched, store: store, watchdog: wd, readings: readings, version: "dev"}
}

// SetVersion sets the version reported by /api/status.
func (s *Server) SetVersion(v string) { s.version = v }

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetReloader sets the function behind POST /api/watchdogs/reload.
func (s *Server) SetReloader(fn func() error) { s.reload = fn }

// SetHealth sets the checker reported by /health.
func (s *Server) SetHealth(c *health.Checker) { s.checker = c }

// SetOverlay mounts the marker feed at /ws/markers.
func (s *Server) SetOverlay(h *overlay.Hub) { s.overlay = h }

// SetBreaker reports the host circuit breaker in /api/status.
func (s *Server) SetBreaker(b *materialize.Breaker) { s.breaker = b }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/status", s.handleStatus)

		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleStartTask)
		r.Get("/tasks/{world}", s.handleGetTask)
		r.Post("/tasks/{world}/pause", s.handleTaskCommand("pause", s.sched.Pause))
		r.Post("/tasks/{world}/continue", s.handleTaskCommand("continue", s.sched.Resume))
		r.Post("/tasks/{world}/cancel", s.handleTaskCommand("cancel", s.sched.Cancel))

		r.Get("/watchdogs", s.handleWatchdogs)
		r.Post("/watchdogs/reload", s.handleReloadWatchdogs)

		r.Get("/records", s.handleListRecords)
		r.Get("/records/{world}", s.handleGetRecord)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	if s.overlay != nil {
		r.Get("/ws/markers", s.overlay.Handler())
	}

	return r
}

// ─── Health & Status ────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.checker.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.checker.Statuses(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"version":   s.version,
		"scheduler": s.sched.Stats(),
	}
	if s.breaker != nil {
		resp["host_breaker"] = s.breaker.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Watchdogs ──────────────────────────────────────────────────────────────

func (s *Server) handleWatchdogs(w http.ResponseWriter, r *http.Request) {
	readings := s.readings()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"holding":   s.watchdog.Holding(),
		"watchdogs": s.watchdog.Snapshot(readings),
		"readings":  readings,
	})
}

func (s *Server) handleReloadWatchdogs(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		writeError(w, http.StatusNotImplemented, "reload is not configured")
		return
	}
	if err := s.reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"watchdogs": s.watchdog.Snapshot(s.readings()),
	})
}

// ─── Records ────────────────────────────────────────────────────────────────

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []domain.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": recs})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Load(chi.URLParam(r, "world"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidShape),
		errors.Is(err, domain.ErrUnknownShape),
		errors.Is(err, domain.ErrUnknownPattern),
		errors.Is(err, domain.ErrEmptyWorld):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTaskExists),
		errors.Is(err, domain.ErrTaskTerminal),
		errors.Is(err, domain.ErrTaskNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers so browser map viewers can poll the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
