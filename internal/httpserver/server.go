package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drivehub/ugc/internal/config"
	"github.com/drivehub/ugc/internal/extclient"
)

// ExternalStatus is the view of the outbound fetch layer the health surface
// needs.
type ExternalStatus interface {
	AllHealth() map[string]extclient.ServiceHealth
	BreakerStates() map[string]string
	CacheStats() extclient.CacheStats
}

// Server holds the HTTP server dependencies. Domain handlers are mounted on
// Router by the application after construction.
type Server struct {
	Router    *chi.Mux
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Metrics   *prometheus.Registry
	external  ExternalStatus
	cacheSize func() int
	startedAt time.Time
}

// NewServer creates an HTTP server with middleware and health/metrics
// endpoints. authMiddleware authenticates every request, downgrading to
// anonymous on allowlisted paths.
func NewServer(
	cfg *config.Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	metricsReg *prometheus.Registry,
	authMiddleware func(http.Handler) http.Handler,
	external ExternalStatus,
	cacheSize func() int,
) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Metrics:   metricsReg,
		external:  external,
		cacheSize: cacheSize,
		startedAt: time.Now(),
	}

	// Global middleware
	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.Router.Use(authMiddleware)

	// Health endpoints
	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/ready", s.handleReady)
	s.Router.Get("/health/detailed", s.handleDetailedHealth)

	// Prometheus metrics
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// handleHealth is the liveness probe: true whenever the process responds.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	Respond(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"service":        "ugc-subgraph",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

// handleReady is the readiness probe: true iff the store responds.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check failed", "error", err)
		Respond(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"reason": "database unreachable",
		})
		return
	}

	Respond(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleDetailedHealth reports the store, each external service, each circuit
// breaker, and cache sizes.
func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbStart := time.Now()
	dbErr := s.DB.Ping(ctx)
	db := map[string]any{
		"healthy":          dbErr == nil,
		"response_time_ms": time.Since(dbStart).Milliseconds(),
	}
	if dbErr != nil {
		db["error"] = dbErr.Error()
	}

	status := "healthy"
	if dbErr != nil {
		status = "unhealthy"
	}

	body := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  db,
	}
	if s.external != nil {
		body["external_services"] = s.external.AllHealth()
		body["circuit_breakers"] = s.external.BreakerStates()
		body["fallback_cache"] = s.external.CacheStats()
	}
	if s.cacheSize != nil {
		body["cache_entries"] = s.cacheSize()
	}

	code := http.StatusOK
	if dbErr != nil {
		code = http.StatusServiceUnavailable
	}
	Respond(w, code, body)
}
