// Package api exposes the render service over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nextconvert/compositor/internal/api/handlers"
	"github.com/nextconvert/compositor/internal/api/middleware"
	"github.com/nextconvert/compositor/internal/api/websocket"
	"github.com/nextconvert/compositor/internal/modules/jobs"
	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/shared/config"
	"github.com/nextconvert/compositor/internal/shared/database"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServerConfig holds dependencies for the API server. DB and Redis are
// optional; without Redis no rate limits apply.
type ServerConfig struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	DB       *database.Postgres
	Redis    *database.Redis
	Registry *platform.Registry
	Queue    handlers.Enqueuer
	Statuses jobs.StatusSink
	Reader   jobs.StatusReader
	WSHub    *websocket.Hub
}

// Server represents the API server
type Server struct {
	cfg ServerConfig
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{cfg: cfg}
}

// Router returns the configured HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	if s.cfg.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(s.cfg.Metrics))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	submitLimit := func(next http.Handler) http.Handler { return next }
	if s.cfg.Redis != nil {
		rateLimiter := middleware.NewRateLimiter(s.cfg.Redis.Client, s.cfg.Logger)
		r.Use(rateLimiter.Limit(middleware.PerMinute(middleware.GlobalRateLimit, s.cfg.Config.RateLimitPerMinute)))
		submitLimit = rateLimiter.Limit(middleware.PerMinute(middleware.RenderSubmitRateLimit, s.cfg.Config.SubmitLimitPerMinute))
	}

	healthHandler := handlers.NewHealthHandler(s.cfg.DB, s.cfg.Redis)
	platformHandler := handlers.NewPlatformHandler(s.cfg.Registry)
	renderHandler := handlers.NewRenderHandler(handlers.RenderHandlerConfig{
		Registry:     s.cfg.Registry,
		Queue:        s.cfg.Queue,
		Statuses:     s.cfg.Statuses,
		Reader:       s.cfg.Reader,
		BatchMaxJobs: s.cfg.Config.Render.BatchMaxJobs,
		Logger:       s.cfg.Logger,
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		r.Get("/ready", healthHandler.Ready)

		r.Route("/platforms", func(r chi.Router) {
			r.Get("/", platformHandler.List)
			r.Get("/{id}", platformHandler.Get)
		})

		r.Route("/renders", func(r chi.Router) {
			r.Use(middleware.NoCache)
			r.With(submitLimit).Post("/", renderHandler.Submit)
			r.With(submitLimit).Post("/batch", renderHandler.SubmitBatch)
			r.Post("/validate", renderHandler.Validate)
			r.Get("/{id}", renderHandler.Get)
		})

		if s.cfg.WSHub != nil {
			r.Get("/ws", handlers.NewWebSocketHandler(s.cfg.WSHub).HandleConnection)
		}
	})

	return r
}
