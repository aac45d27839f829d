package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/drivehub/ugc/internal/telemetry"
)

const (
	canaryInitialPercentage = 1.0
	canaryStepPercentage    = 5.0
	rollbackStepPercentage  = 10.0
)

// Canary drives stepped rollout progression for one flag at a time.
// ShouldHalt is consulted after each step's dwell, before the next promotion
// step (the first step is taken without consulting it); the default probe
// halts when the migration breaker reports the flag's endpoints above the
// error threshold.
type Canary struct {
	flags      *Flags
	logger     *slog.Logger
	dwell      time.Duration
	ShouldHalt func(ctx context.Context, flagName string) bool
}

// NewCanary creates a canary controller. dwell is the pause between
// promotion steps.
func NewCanary(flags *Flags, breaker *ErrorRateBreaker, dwell time.Duration, logger *slog.Logger) *Canary {
	c := &Canary{
		flags:  flags,
		logger: logger,
		dwell:  dwell,
	}
	c.ShouldHalt = func(ctx context.Context, flagName string) bool {
		if breaker == nil {
			return false
		}
		for endpoint, state := range breaker.CheckAll(ctx) {
			if state == BreakerOpen && FlagForEndpoint(endpoint, "GET") == flagName {
				return true
			}
		}
		return false
	}
	return c
}

// Start enables the flag at the initial 1% rollout. It rejects flags that
// are already active.
func (c *Canary) Start(ctx context.Context, flagName string) error {
	flag, ok := c.flags.Get(flagName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrFlagNotFound, flagName)
	}
	if flag.Enabled {
		return fmt.Errorf("canary already active for flag %q", flagName)
	}

	flag.Enabled = true
	flag.RolloutPercentage = canaryInitialPercentage
	c.flags.Update(ctx, flagName, flag)

	c.logger.Info("canary started", "flag", flagName, "rollout_percentage", canaryInitialPercentage)
	telemetry.CanaryEventsTotal.WithLabelValues(flagName, "started").Inc()
	return nil
}

// Promote raises the rollout toward target in +5% steps, pausing the dwell
// between steps and consulting ShouldHalt after each dwell. A target at or
// below the current rollout is rejected.
func (c *Canary) Promote(ctx context.Context, flagName string, target float64) error {
	flag, ok := c.flags.Get(flagName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrFlagNotFound, flagName)
	}
	if target <= flag.RolloutPercentage {
		return fmt.Errorf("target percentage must be higher than current %.1f%%", flag.RolloutPercentage)
	}
	if target > 100 {
		target = 100
	}

	current := flag.RolloutPercentage
	for current < target {
		current = min(current+canaryStepPercentage, target)
		if err := c.flags.SetRollout(ctx, flagName, current); err != nil {
			return err
		}
		c.logger.Info("canary promoted", "flag", flagName, "rollout_percentage", current)

		if current >= target {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.dwell):
		}

		if c.ShouldHalt != nil && c.ShouldHalt(ctx, flagName) {
			c.logger.Warn("canary promotion halted", "flag", flagName, "rollout_percentage", current)
			telemetry.CanaryEventsTotal.WithLabelValues(flagName, "halted").Inc()
			return nil
		}
	}

	telemetry.CanaryEventsTotal.WithLabelValues(flagName, "promoted").Inc()
	return nil
}

// Rollback zeroes and disables the flag atomically with respect to other
// flag writers.
func (c *Canary) Rollback(ctx context.Context, flagName string) error {
	flag, ok := c.flags.Get(flagName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrFlagNotFound, flagName)
	}

	flag.Enabled = false
	flag.RolloutPercentage = 0
	c.flags.Update(ctx, flagName, flag)

	c.logger.Warn("canary rolled back", "flag", flagName)
	telemetry.CanaryEventsTotal.WithLabelValues(flagName, "rolled_back").Inc()
	return nil
}

// Rollbacks provides emergency and gradual rollback over the flag engine.
type Rollbacks struct {
	flags  *Flags
	logger *slog.Logger
	dwell  time.Duration
}

// NewRollbacks creates the rollback service. dwell paces gradual rollback
// steps.
func NewRollbacks(flags *Flags, dwell time.Duration, logger *slog.Logger) *Rollbacks {
	return &Rollbacks{flags: flags, logger: logger, dwell: dwell}
}

// Emergency disables every graphql_* flag in a single pass.
func (r *Rollbacks) Emergency(ctx context.Context, reason string) []string {
	r.logger.Warn("emergency rollback initiated", "reason", reason)
	affected := r.flags.DisablePrefix(ctx, "graphql_")
	r.logger.Warn("emergency rollback completed", "flags", affected)
	return affected
}

// Gradual lowers the flag's rollout toward target in -10% steps with a
// dwell between steps. The target must be below the current rollout.
func (r *Rollbacks) Gradual(ctx context.Context, flagName string, target float64) error {
	flag, ok := r.flags.Get(flagName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrFlagNotFound, flagName)
	}
	if target >= flag.RolloutPercentage {
		return fmt.Errorf("target percentage must be lower than current %.1f%%", flag.RolloutPercentage)
	}
	if target < 0 {
		target = 0
	}

	current := flag.RolloutPercentage
	for current > target {
		current = max(current-rollbackStepPercentage, target)
		if err := r.flags.SetRollout(ctx, flagName, current); err != nil {
			return err
		}
		r.logger.Info("gradual rollback step", "flag", flagName, "rollout_percentage", current)

		if current <= target {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.dwell):
		}
	}

	return nil
}
