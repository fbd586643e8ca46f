package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/agentq/internal/config"
	"github.com/me/agentq/internal/notify"
	"github.com/me/agentq/internal/store"
	"github.com/me/agentq/pkg/model"
)

// Scheduler is the scheduler surface the HTTP API drives.
type Scheduler interface {
	Start(ctx context.Context) error
	Enqueue(payload model.Payload, resourceKey string, priority model.Priority) string
	Cancel(id string) bool
	Task(id string) (*model.Task, bool)
	QueuePosition(id string) int
	Status() model.SchedulerStatus
	LoadedUnits() []model.ResourceUnit
	SetMaxParallel(n int)
	SetMaxConcurrentUnits(n int)
	Subscribe(fn notify.Callback) func()
}

// Server is the agentq REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	scheduler Scheduler
	store     store.Store         // optional; history lookups
	recorder  *store.Recorder     // optional; forgets cancelled tasks
	gatherer  prometheus.Gatherer // optional; serves /metrics
	heartbeat time.Duration
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore enables history lookups and the /history endpoints.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithRecorder lets the server drop cancelled tasks from history.
func WithRecorder(rec *store.Recorder) Option {
	return func(s *Server) {
		s.recorder = rec
	}
}

// WithMetrics exposes g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, sched Scheduler, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		scheduler: sched,
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// StartScheduler runs the scheduler's sweep loop in a background goroutine.
func (s *Server) StartScheduler(ctx context.Context) {
	go func() {
		if err := s.scheduler.Start(ctx); err != nil && err != context.Canceled {
			s.logger.Error("scheduler stopped", "error", err)
		}
	}()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleEnqueue)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Delete("/", s.handleCancelTask)
				r.Get("/position", s.handleTaskPosition)
				r.Get("/events", s.handleTaskEvents)
			})
		})

		r.Get("/status", s.handleStatus)
		r.Put("/limits", s.handleSetLimits)
		r.Get("/models", s.handleModels)
		r.Get("/history", s.handleHistory)

		// Server-Sent Events for live task updates
		r.Get("/events", s.handleEvents)
	})
}
