// Package resilience provides the circuit breaker and retry primitives
// shared by all outbound calls.
package resilience

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/drivehub/ugc/internal/errs"
	"github.com/drivehub/ugc/internal/telemetry"
)

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold uint32
	// Cooldown is how long the circuit stays open before admitting trial
	// calls.
	Cooldown time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit. At most this many trial calls run in
	// parallel while half-open.
	SuccessThreshold uint32
	// FailureWindow bounds how long closed-state counts accumulate before
	// they reset.
	FailureWindow time.Duration
}

// DefaultBreakerConfig matches the defaults used for sibling subgraph calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		SuccessThreshold: 3,
		FailureWindow:    60 * time.Second,
	}
}

// Breaker is a per-service circuit breaker. In the open state calls fail
// fast with a CircuitOpen error without invoking the operation.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a named circuit breaker.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.SuccessThreshold,
		Interval:    cfg.FailureWindow,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				logger.Warn("circuit breaker opened", "event", "circuit.opened", "service", name, "from", from.String())
				telemetry.CircuitBreakerState.WithLabelValues(name).Set(1)
			case gobreaker.StateHalfOpen:
				logger.Info("circuit breaker half-open", "service", name)
				telemetry.CircuitBreakerState.WithLabelValues(name).Set(0.5)
			case gobreaker.StateClosed:
				logger.Info("circuit breaker closed", "event", "circuit.closed", "service", name)
				telemetry.CircuitBreakerState.WithLabelValues(name).Set(0)
			}
		},
	}

	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn under the breaker. A short-circuited call returns CircuitOpen
// without invoking fn.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.CircuitOpen(b.name)
	}
	return err
}

// State reports the current breaker state as "closed", "half-open" or "open".
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Counts returns a snapshot of the breaker's request counters.
func (b *Breaker) Counts() (requests, failures, successes uint32) {
	c := b.cb.Counts()
	return c.Requests, c.TotalFailures, c.TotalSuccesses
}

// Name returns the service name the breaker protects.
func (b *Breaker) Name() string { return b.name }
