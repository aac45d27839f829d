package migration

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/drivehub/ugc/internal/telemetry"
)

// FlagStatus summarises one flag for the status endpoint.
type FlagStatus struct {
	Name              string  `json:"name"`
	Enabled           bool    `json:"enabled"`
	RolloutPercentage float64 `json:"rollout_percentage"`
}

// Status is the migration-wide summary.
type Status struct {
	TotalFlags           int          `json:"total_flags"`
	EnabledFlags         int          `json:"enabled_flags"`
	AverageRollout       float64      `json:"average_rollout_percentage"`
	MigrationFlags       []FlagStatus `json:"migration_flags"`
	CompletionPercentage float64      `json:"completion_percentage"`
	LastUpdated          string       `json:"last_updated"`
}

// EndpointMetrics is the per-endpoint view of the error-rate breaker.
type EndpointMetrics struct {
	Endpoint  string  `json:"endpoint"`
	ErrorRate float64 `json:"error_rate"`
	Requests  int     `json:"requests"`
	State     string  `json:"state"`
}

// MetricsSnapshot is the migration metrics endpoint payload.
type MetricsSnapshot struct {
	Endpoints   []EndpointMetrics `json:"endpoints"`
	CollectedAt string            `json:"collected_at"`
}

// Monitor collects migration progress and evaluates alert thresholds in the
// background.
type Monitor struct {
	flags   *Flags
	breaker *ErrorRateBreaker
	logger  *slog.Logger
}

// NewMonitor creates the migration monitor.
func NewMonitor(flags *Flags, breaker *ErrorRateBreaker, logger *slog.Logger) *Monitor {
	return &Monitor{flags: flags, breaker: breaker, logger: logger}
}

// Status summarises all flags, with migration completion derived from the
// graphql_* family's average rollout.
func (m *Monitor) Status() Status {
	flags := m.flags.List()

	var enabled int
	var totalRollout float64
	var migrationFlags []FlagStatus
	var migrationRollout float64
	var migrationCount int

	for _, f := range flags {
		if f.Enabled {
			enabled++
		}
		totalRollout += f.RolloutPercentage
		if strings.HasPrefix(f.Name, "graphql_") {
			migrationFlags = append(migrationFlags, FlagStatus{
				Name:              f.Name,
				Enabled:           f.Enabled,
				RolloutPercentage: f.RolloutPercentage,
			})
			migrationRollout += f.RolloutPercentage
			migrationCount++
		}
	}

	avg := 0.0
	if len(flags) > 0 {
		avg = totalRollout / float64(len(flags))
	}
	completion := 0.0
	if migrationCount > 0 {
		completion = migrationRollout / float64(migrationCount)
	}

	return Status{
		TotalFlags:           len(flags),
		EnabledFlags:         enabled,
		AverageRollout:       avg,
		MigrationFlags:       migrationFlags,
		CompletionPercentage: completion,
		LastUpdated:          time.Now().UTC().Format(time.RFC3339),
	}
}

// Metrics reports the per-endpoint error rates observed by the breaker.
func (m *Monitor) Metrics(ctx context.Context) MetricsSnapshot {
	states := m.breaker.CheckAll(ctx)

	var endpoints []EndpointMetrics
	for endpoint, state := range states {
		rate, requests := m.breaker.ErrorRate(endpoint)
		stateName := "closed"
		switch state {
		case BreakerWarning:
			stateName = "warning"
		case BreakerOpen:
			stateName = "open"
		}
		endpoints = append(endpoints, EndpointMetrics{
			Endpoint:  endpoint,
			ErrorRate: rate,
			Requests:  requests,
			State:     stateName,
		})
	}

	return MetricsSnapshot{
		Endpoints:   endpoints,
		CollectedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// RunCollectionLoop refreshes the migration progress gauge periodically
// until ctx is cancelled.
func (m *Monitor) RunCollectionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := m.Status()
			telemetry.MigrationProgress.Set(status.CompletionPercentage)
		}
	}
}

// RunAlertLoop evaluates the error-rate breaker periodically until ctx is
// cancelled. Threshold crossings act through the breaker itself; this loop
// only guarantees they are evaluated even on idle endpoints.
func (m *Monitor) RunAlertLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for endpoint, state := range m.breaker.CheckAll(ctx) {
				if state == BreakerOpen {
					m.logger.Error("migration alert: endpoint error rate above threshold",
						"endpoint", endpoint,
					)
				}
			}
		}
	}
}
