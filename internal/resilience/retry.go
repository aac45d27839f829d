package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/drivehub/ugc/internal/errs"
)

// RetryConfig tunes the exponential backoff retry policy.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig matches the defaults used for sibling subgraph calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Retrier retries operations with exponential backoff. Non-retryable errors
// abort immediately. The circuit breaker must wrap the retrier, never the
// other way around: wrapped this way the breaker records one outcome per
// request, whereas a breaker inside the retrier would count every attempt
// and a single request's retries could trip it open.
type Retrier struct {
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetrier creates a Retrier with the given policy.
func NewRetrier(cfg RetryConfig, logger *slog.Logger) *Retrier {
	return &Retrier{cfg: cfg, logger: logger}
}

// Do runs op, retrying retryable failures up to MaxAttempts total attempts.
// Cancellation of ctx aborts between attempts.
func (r *Retrier) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialDelay
	bo.MaxInterval = r.cfg.MaxDelay
	bo.Multiplier = r.cfg.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !errs.Retryable(err) {
			return backoff.Permanent(err)
		}
		if attempt < r.cfg.MaxAttempts {
			r.logger.Warn("retrying failed operation",
				"attempt", attempt,
				"max_attempts", r.cfg.MaxAttempts,
				"error", err,
			)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.cfg.MaxAttempts-1)), ctx)
	return backoff.Retry(wrapped, policy)
}
