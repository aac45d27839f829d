// Package app wires configuration, infrastructure, domain components, and
// background loops into the running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/drivehub/ugc/internal/auth"
	"github.com/drivehub/ugc/internal/cache"
	"github.com/drivehub/ugc/internal/config"
	"github.com/drivehub/ugc/internal/extclient"
	"github.com/drivehub/ugc/internal/graphql"
	"github.com/drivehub/ugc/internal/httpserver"
	"github.com/drivehub/ugc/internal/platform"
	"github.com/drivehub/ugc/internal/resilience"
	"github.com/drivehub/ugc/internal/telemetry"
	"github.com/drivehub/ugc/pkg/migration"
	"github.com/drivehub/ugc/pkg/review"
)

// Background task cadences.
const (
	rateLimitSweepInterval     = 5 * time.Minute
	fallbackCacheSweepInterval = 5 * time.Minute
	migrationMetricsInterval   = 30 * time.Second
	alertEvalInterval          = 60 * time.Second
	businessMetricsInterval    = 60 * time.Second

	canaryDwell   = 60 * time.Second
	rollbackDwell = 30 * time.Second
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting ugc-subgraph", "listen", cfg.ListenAddr())

	// Database
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	// Metrics
	metricsReg := telemetry.NewRegistry(telemetry.All()...)

	// Auth
	jwtCfg := auth.ValidatorConfig{
		Secret:       cfg.JWTSecret,
		PublicKeyPEM: cfg.JWTPublicKey,
		Issuer:       cfg.JWTIssuer,
		Audience:     cfg.JWTAudience,
	}
	if jwtCfg.Secret == "" && jwtCfg.PublicKeyPEM == "" {
		jwtCfg.Secret = "dev-secret"
		logger.Warn("auth: using insecure dev secret (set JWT_SECRET in production)")
	}
	validator, err := auth.NewValidator(jwtCfg)
	if err != nil {
		return fmt.Errorf("configuring JWT validation: %w", err)
	}

	// Domain components
	events := telemetry.NewEvents(logger)
	keyed := cache.NewKeyed("reviews", cache.ReviewTTL)
	store := review.NewStore(db)
	reviews := review.NewService(store, keyed, events, logger)

	ext := extclient.New(extclient.Config{
		UsersBaseURL:  cfg.UsersServiceURL,
		OffersBaseURL: cfg.OffersServiceURL,
		Timeout:       cfg.ExternalTimeout,
		Breaker:       resilience.DefaultBreakerConfig(),
		Retry:         resilience.DefaultRetryConfig(),
	}, logger)

	// Migration control plane
	flags := migration.NewFlags(logger)
	if cfg.RedisURL != "" {
		rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
		flags = flags.WithRedis(rdb)
	}

	abTests := migration.NewABTests(flags, logger)
	if cfg.MigrationConfigPath != "" {
		migCfg, err := migration.LoadConfig(cfg.MigrationConfigPath)
		if err != nil {
			return fmt.Errorf("loading migration config: %w", err)
		}
		migCfg.Apply(ctx, flags, abTests)
		logger.Info("migration config applied", "path", cfg.MigrationConfigPath)
	}

	errBreaker := migration.NewErrorRateBreaker(flags, migration.DefaultBreakerThresholds(), logger)
	trafficRouter := migration.NewTrafficRouter(flags, logger)
	canary := migration.NewCanary(flags, errBreaker, canaryDwell, logger)
	rollbacks := migration.NewRollbacks(flags, rollbackDwell, logger)
	monitor := migration.NewMonitor(flags, errBreaker, logger)

	// GraphQL
	governance := graphql.NewGovernance(graphql.GovernanceConfig{
		MaxDepth:           cfg.MaxQueryDepth,
		MaxComplexity:      cfg.MaxQueryComplexity,
		DefaultFieldCost:   1,
		LimitIntrospection: cfg.LimitIntrospection,
	})
	limiter := graphql.NewRateLimiter(cfg.RateLimitPerMinute)
	resolver := graphql.NewResolver(reviews, ext, logger)
	gqlHandler := graphql.NewHandler(resolver, governance, limiter, store, logger)

	// HTTP surface
	srv := httpserver.NewServer(cfg, logger, db, metricsReg, auth.Middleware(validator, logger), ext, keyed.Size)
	srv.Router.Handle("/graphql", gqlHandler)
	srv.Router.Mount("/api/v1", review.NewHandler(reviews, gqlHandler, trafficRouter, flags, errBreaker, logger).Routes())
	srv.Router.Route("/api/migration", func(r chi.Router) {
		r.Use(requireAdmin(logger))
		r.Mount("/", migration.NewHandler(flags, abTests, canary, rollbacks, monitor, logger).Routes())
	})

	// Background loops
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	go limiter.RunCleanupLoop(workerCtx, rateLimitSweepInterval)
	go ext.RunCacheCleanupLoop(workerCtx, fallbackCacheSweepInterval)
	go monitor.RunCollectionLoop(workerCtx, migrationMetricsInterval)
	go monitor.RunAlertLoop(workerCtx, alertEvalInterval)
	go reviews.RunBusinessMetricsLoop(workerCtx, businessMetricsInterval)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe()
	}()
	logger.Info("http server listening", "addr", cfg.ListenAddr())

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	}
}

// requireAdmin gates the migration management API.
func requireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.RequireAdmin(r.Context()); err != nil {
				httpserver.RespondAppError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
