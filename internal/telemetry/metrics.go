package telemetry

import "github.com/prometheus/client_golang/prometheus"

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ugc",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"method", "path", "status"},
)

var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	},
	[]string{"method", "path", "status"},
)

var GraphQLRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ugc",
		Subsystem: "graphql",
		Name:      "request_duration_seconds",
		Help:      "GraphQL request execution time in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
	[]string{"operation"},
)

var GraphQLErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "graphql",
		Name:      "errors_total",
		Help:      "Total number of GraphQL errors by code.",
	},
	[]string{"code"},
)

var GraphQLRateLimitRejections = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "graphql",
		Name:      "rate_limit_rejections_total",
		Help:      "Total number of requests rejected by the per-user rate limiter.",
	},
)

var DBQueryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ugc",
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Database query duration in seconds.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
	[]string{"operation"},
)

var DBErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "db",
		Name:      "errors_total",
		Help:      "Total number of database errors.",
	},
	[]string{"operation"},
)

var CacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of cache hits.",
	},
	[]string{"cache"},
)

var CacheMissesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of cache misses.",
	},
	[]string{"cache"},
)

var ExternalRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ugc",
		Subsystem: "external",
		Name:      "request_duration_seconds",
		Help:      "Outbound request duration to sibling subgraphs.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"service", "outcome"},
)

var CircuitBreakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "ugc",
		Subsystem: "external",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 0.5=half-open, 1=open).",
	},
	[]string{"service"},
)

var ReviewsCreatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "reviews",
		Name:      "created_total",
		Help:      "Total number of reviews created.",
	},
)

var ReviewsUpdatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "reviews",
		Name:      "updated_total",
		Help:      "Total number of reviews updated.",
	},
)

var ReviewsDeletedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "reviews",
		Name:      "deleted_total",
		Help:      "Total number of reviews deleted.",
	},
)

var ReviewsModeratedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "reviews",
		Name:      "moderated_total",
		Help:      "Total number of reviews moderated by resulting status.",
	},
	[]string{"status"},
)

var ReviewsByStatus = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "ugc",
		Subsystem: "reviews",
		Name:      "by_status",
		Help:      "Current number of reviews by moderation status.",
	},
	[]string{"status"},
)

// Migration control-plane metrics.

var TrafficRoutedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "migration",
		Name:      "traffic_routed_total",
		Help:      "Total traffic routed by the migration system.",
	},
	[]string{"backend", "endpoint"},
)

var FlagEvaluationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "migration",
		Name:      "feature_flag_evaluations_total",
		Help:      "Feature flag evaluations by flag and result.",
	},
	[]string{"flag", "result"},
)

var FlagCacheHitsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "migration",
		Name:      "feature_flag_cache_hits_total",
		Help:      "Feature flag shared-cache hits.",
	},
)

var FlagCacheMissesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "migration",
		Name:      "feature_flag_cache_misses_total",
		Help:      "Feature flag shared-cache misses.",
	},
)

var MigrationResponseTime = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ugc",
		Subsystem: "migration",
		Name:      "response_time_seconds",
		Help:      "Response time distribution per backend during migration.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"backend", "endpoint"},
)

var MigrationErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "migration",
		Name:      "errors_total",
		Help:      "Total errors per backend during migration.",
	},
	[]string{"backend", "endpoint", "error_type"},
)

var CanaryEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ugc",
		Subsystem: "migration",
		Name:      "canary_events_total",
		Help:      "Canary deployment events.",
	},
	[]string{"flag", "event"},
)

var MigrationBreakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "ugc",
		Subsystem: "migration",
		Name:      "circuit_breaker_state",
		Help:      "Per-endpoint migration circuit breaker state (0=closed, 0.5=warning, 1=open).",
	},
	[]string{"endpoint"},
)

var MigrationProgress = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "ugc",
		Subsystem: "migration",
		Name:      "completion_percentage",
		Help:      "Overall migration completion percentage.",
	},
)

// All returns all UGC-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		HTTPRequestsTotal,
		GraphQLRequestDuration,
		GraphQLErrorsTotal,
		GraphQLRateLimitRejections,
		DBQueryDuration,
		DBErrorsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		ExternalRequestDuration,
		CircuitBreakerState,
		ReviewsCreatedTotal,
		ReviewsUpdatedTotal,
		ReviewsDeletedTotal,
		ReviewsModeratedTotal,
		ReviewsByStatus,
		TrafficRoutedTotal,
		FlagEvaluationsTotal,
		FlagCacheHitsTotal,
		FlagCacheMissesTotal,
		MigrationResponseTime,
		MigrationErrorsTotal,
		CanaryEventsTotal,
		MigrationBreakerState,
		MigrationProgress,
	}
}

// NewRegistry creates a prometheus registry holding the given collectors.
func NewRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors...)
	return reg
}
