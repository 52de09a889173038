// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api serves the trigger endpoint, the live log feed and the
// operational status routes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/trigcam/internal/api/middleware"
	"github.com/ManuGH/trigcam/internal/autotrigger"
	"github.com/ManuGH/trigcam/internal/framebuf"
	"github.com/ManuGH/trigcam/internal/health"
	"github.com/ManuGH/trigcam/internal/recorder"
	"github.com/ManuGH/trigcam/internal/replicate"
)

// SourceManual labels triggers that arrive over HTTP.
const SourceManual = "manual"

// Recorder is the recording orchestrator surface used by the API.
type Recorder interface {
	Trigger(ctx context.Context, source string) recorder.Result
	InFlight() int
	Jobs() []recorder.JobInfo
}

// Reconciler runs and reports reconciliation passes.
type Reconciler interface {
	RunOnce(ctx context.Context) (replicate.Report, error)
	LastRun() (replicate.Report, time.Time, error)
}

// AutoTrigger reports the poller state.
type AutoTrigger interface {
	Status() autotrigger.Status
}

// Capture reports ingest progress.
type Capture interface {
	CurrentFPS() float64
	LastFrameAt() time.Time
}

// BufferStats reports ring buffer counters.
type BufferStats interface {
	Stats() framebuf.Stats
}

// Deps are the collaborators of the HTTP server. Sync and AutoTrigger are
// nil when the feature is disabled.
type Deps struct {
	Version     string
	Recorder    Recorder
	Sync        Reconciler
	AutoTrigger AutoTrigger
	Capture     Capture
	Buffer      BufferStats
	Health      *health.Manager

	TriggerRateLimit int    // per client per minute, 0 disables
	TracingService   string // empty disables HTTP spans
	ServeMetrics     bool   // mount /metrics on this router
	LogHeartbeat     time.Duration
}

// Server is the HTTP front end of the daemon.
type Server struct {
	deps      Deps
	startedAt time.Time
	router    chi.Router
}

// New builds the server and its routes.
func New(deps Deps) *Server {
	if deps.LogHeartbeat <= 0 {
		deps.LogHeartbeat = 15 * time.Second
	}
	s := &Server{deps: deps, startedAt: time.Now()}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.deps.TracingService,
		EnableLogging:         true,
	})

	r.Get("/", s.handleIndex)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TriggerRateLimit(s.deps.TriggerRateLimit))
		r.Get("/trigger", s.handleTrigger)
		r.Post("/trigger", s.handleTrigger)
	})

	r.Get("/logs", s.handleLogs)
	r.Get("/viewer", s.handleViewer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/recordings", s.handleRecordings)
		r.Get("/sync", s.handleSyncStatus)
		r.Post("/sync/reconcile", s.handleReconcile)
		r.Get("/autotrigger", s.handleAutoTrigger)
	})

	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.ServeHealth)
		r.Get("/readyz", s.deps.Health.ServeReady)
	}
	if s.deps.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { writeNotFound(w) })
	return r
}

// MetricsHandler serves /metrics on a dedicated listener.
func MetricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	return r
}
