package migration

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/drivehub/ugc/internal/telemetry"
)

// RoutingDecision is the backend selected for a request.
type RoutingDecision int

const (
	RouteLegacy RoutingDecision = iota
	RouteGraphQL
)

func (d RoutingDecision) String() string {
	if d == RouteGraphQL {
		return "graphql"
	}
	return "rest"
}

// TrafficRouter decides per request whether a legacy REST call is served by
// the GraphQL executor or the legacy handler.
type TrafficRouter struct {
	flags  *Flags
	logger *slog.Logger
}

// NewTrafficRouter creates a router over the flag engine.
func NewTrafficRouter(flags *Flags, logger *slog.Logger) *TrafficRouter {
	return &TrafficRouter{flags: flags, logger: logger}
}

// migrationCandidate reports whether the endpoint participates in the
// migration at all. Non-candidates always go to the legacy backend.
func migrationCandidate(path, method string) bool {
	switch {
	case path == "/api/v1/reviews" && (method == "GET" || method == "POST"):
		return true
	case strings.HasPrefix(path, "/api/v1/reviews/") && (method == "GET" || method == "PUT" || method == "DELETE"):
		return true
	case strings.HasPrefix(path, "/api/v1/offers/") && method == "GET":
		return true
	case strings.HasPrefix(path, "/api/v1/users/") && method == "GET":
		return true
	}
	return false
}

// FlagForEndpoint maps an endpoint onto the flag that governs it: reads use
// graphql_reviews_read, writes graphql_reviews_write.
func FlagForEndpoint(path, method string) string {
	if strings.Contains(path, "/reviews") && (method == "POST" || method == "PUT" || method == "DELETE") {
		return "graphql_reviews_write"
	}
	return "graphql_reviews_read"
}

// Route returns the backend for the request and counts the decision.
func (t *TrafficRouter) Route(ctx context.Context, path, method, userID string) RoutingDecision {
	if !migrationCandidate(path, method) {
		return RouteLegacy
	}

	decision := RouteLegacy
	if t.flags.IsEnabled(ctx, FlagForEndpoint(path, method), userID) {
		decision = RouteGraphQL
	}
	telemetry.TrafficRoutedTotal.WithLabelValues(decision.String(), path).Inc()
	return decision
}

// BreakerThresholds tunes the migration error-rate breaker.
type BreakerThresholds struct {
	ErrorThreshold   float64
	WarningThreshold float64
	MinRequests      int
	Window           time.Duration
}

// DefaultBreakerThresholds matches a 10% trip / 5% warn policy.
func DefaultBreakerThresholds() BreakerThresholds {
	return BreakerThresholds{
		ErrorThreshold:   0.10,
		WarningThreshold: 0.05,
		MinRequests:      10,
		Window:           time.Minute,
	}
}

// BreakerState classifies an endpoint's current error rate.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerWarning
	BreakerOpen
)

type endpointWindow struct {
	windowStart time.Time
	requests    int
	failures    int
}

// ErrorRateBreaker observes per-endpoint GraphQL error rates over a rolling
// window and forces an endpoint's flag rollout to zero when the rate crosses
// the error threshold.
type ErrorRateBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointWindow
	flags     *Flags
	cfg       BreakerThresholds
	logger    *slog.Logger
	now       func() time.Time
}

// NewErrorRateBreaker creates the breaker over the flag engine.
func NewErrorRateBreaker(flags *Flags, cfg BreakerThresholds, logger *slog.Logger) *ErrorRateBreaker {
	return &ErrorRateBreaker{
		endpoints: make(map[string]*endpointWindow),
		flags:     flags,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Record notes the outcome of one GraphQL-routed request for the endpoint.
func (b *ErrorRateBreaker) Record(endpoint string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.endpoints[endpoint]
	now := b.now()
	if !ok || now.Sub(w.windowStart) > b.cfg.Window {
		w = &endpointWindow{windowStart: now}
		b.endpoints[endpoint] = w
	}
	w.requests++
	if !success {
		w.failures++
	}
}

// ErrorRate returns the endpoint's failure fraction in the current window.
func (b *ErrorRateBreaker) ErrorRate(endpoint string) (rate float64, requests int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.endpoints[endpoint]
	if !ok || w.requests == 0 || b.now().Sub(w.windowStart) > b.cfg.Window {
		return 0, 0
	}
	return float64(w.failures) / float64(w.requests), w.requests
}

// Check classifies the endpoint and acts on it: at or above the error
// threshold the endpoint's flag rollout is forced to zero; at or above the
// warning threshold a warning is logged without acting.
func (b *ErrorRateBreaker) Check(ctx context.Context, endpoint string) BreakerState {
	rate, requests := b.ErrorRate(endpoint)
	if requests < b.cfg.MinRequests {
		telemetry.MigrationBreakerState.WithLabelValues(endpoint).Set(0)
		return BreakerClosed
	}

	switch {
	case rate >= b.cfg.ErrorThreshold:
		flagName := FlagForEndpoint(endpoint, "GET")
		b.logger.Warn("migration breaker open, forcing flag rollout to zero",
			"endpoint", endpoint,
			"error_rate", rate,
			"flag", flagName,
		)
		if err := b.flags.SetRollout(ctx, flagName, 0); err != nil {
			b.logger.Error("automatic fallback failed", "flag", flagName, "error", err)
		}
		telemetry.MigrationBreakerState.WithLabelValues(endpoint).Set(1)
		return BreakerOpen
	case rate >= b.cfg.WarningThreshold:
		b.logger.Warn("migration breaker warning",
			"endpoint", endpoint,
			"error_rate", rate,
		)
		telemetry.MigrationBreakerState.WithLabelValues(endpoint).Set(0.5)
		return BreakerWarning
	default:
		telemetry.MigrationBreakerState.WithLabelValues(endpoint).Set(0)
		return BreakerClosed
	}
}

// CheckAll evaluates every observed endpoint and returns the worst state per
// endpoint.
func (b *ErrorRateBreaker) CheckAll(ctx context.Context) map[string]BreakerState {
	b.mu.Lock()
	endpoints := make([]string, 0, len(b.endpoints))
	for e := range b.endpoints {
		endpoints = append(endpoints, e)
	}
	b.mu.Unlock()

	out := make(map[string]BreakerState, len(endpoints))
	for _, e := range endpoints {
		out[e] = b.Check(ctx, e)
	}
	return out
}
