// Package migration implements the REST→GraphQL migration control plane:
// feature flags with deterministic user bucketing, traffic routing, canary
// progression, rollback, and migration monitoring.
package migration

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drivehub/ugc/internal/telemetry"
)

// ErrFlagNotFound is returned when a named flag does not exist.
var ErrFlagNotFound = errors.New("feature flag not found")

// flagCacheTTL bounds how long a shared-cache evaluation result stands in
// for a live one.
const flagCacheTTL = 5 * time.Minute

// Condition types.
const (
	ConditionUserIDStartsWith = "user_id_starts_with"
	ConditionUserIDEndsWith   = "user_id_ends_with"
	ConditionUserIDContains   = "user_id_contains"
	ConditionTimeWindow       = "time_window"
)

// Condition restricts a flag to a subset of users or a time window.
type Condition struct {
	Type  string     `json:"type" yaml:"type"`
	Value string     `json:"value,omitempty" yaml:"value,omitempty"`
	Start *time.Time `json:"start,omitempty" yaml:"start,omitempty"`
	End   *time.Time `json:"end,omitempty" yaml:"end,omitempty"`
}

// Flag is one feature flag. All conditions must hold for the rollout bucket
// check to apply.
type Flag struct {
	Name              string      `json:"name" yaml:"name"`
	Enabled           bool        `json:"enabled" yaml:"enabled"`
	RolloutPercentage float64     `json:"rollout_percentage" yaml:"rollout_percentage"`
	Whitelist         []string    `json:"user_whitelist" yaml:"user_whitelist,omitempty"`
	Blacklist         []string    `json:"user_blacklist" yaml:"user_blacklist,omitempty"`
	Conditions        []Condition `json:"conditions" yaml:"conditions,omitempty"`
	Description       string      `json:"description" yaml:"description,omitempty"`
}

// Flags is the in-memory flag registry, optionally fronted by a shared
// Redis cache for evaluation results.
type Flags struct {
	mu     sync.RWMutex
	flags  map[string]Flag
	redis  *redis.Client // may be nil
	logger *slog.Logger
	now    func() time.Time
}

// NewFlags creates a registry seeded with the default migration flags.
func NewFlags(logger *slog.Logger) *Flags {
	f := &Flags{
		flags:  make(map[string]Flag),
		logger: logger,
		now:    time.Now,
	}

	defaults := []Flag{
		{
			Name:        "graphql_reviews_read",
			Description: "Enable GraphQL for reading reviews",
		},
		{
			Name:        "graphql_reviews_write",
			Description: "Enable GraphQL for writing reviews",
		},
		{
			Name:              "rest_api_deprecation_warning",
			RolloutPercentage: 100,
			Description:       "Show deprecation warnings for REST API usage",
		},
	}
	for _, flag := range defaults {
		f.flags[flag.Name] = flag
	}

	return f
}

// WithRedis attaches the shared evaluation-result cache.
func (f *Flags) WithRedis(client *redis.Client) *Flags {
	f.redis = client
	return f
}

// stableHash is deterministic across instances and restarts so the same user
// lands in the same bucket everywhere.
func stableHash(userID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return h.Sum32()
}

// IsEnabled evaluates the flag for the user: disabled → false, blacklisted →
// false, whitelisted → true, any failing condition → false, otherwise the
// user's stable bucket is compared against the rollout percentage.
func (f *Flags) IsEnabled(ctx context.Context, name, userID string) bool {
	if cached, ok := f.cachedResult(ctx, name, userID); ok {
		telemetry.FlagCacheHitsTotal.Inc()
		return cached
	}
	if f.redis != nil {
		telemetry.FlagCacheMissesTotal.Inc()
	}

	f.mu.RLock()
	flag, ok := f.flags[name]
	f.mu.RUnlock()
	if !ok {
		f.logger.Warn("feature flag not found", "flag", name)
		return false
	}

	result := f.evaluate(flag, userID)
	telemetry.FlagEvaluationsTotal.WithLabelValues(name, strconv.FormatBool(result)).Inc()
	f.cacheResult(ctx, name, userID, result)
	return result
}

func (f *Flags) evaluate(flag Flag, userID string) bool {
	if !flag.Enabled {
		return false
	}
	for _, id := range flag.Blacklist {
		if id == userID {
			return false
		}
	}
	for _, id := range flag.Whitelist {
		if id == userID {
			return true
		}
	}
	for _, cond := range flag.Conditions {
		if !f.evaluateCondition(cond, userID) {
			return false
		}
	}
	bucket := float64(stableHash(userID) % 100)
	return bucket < flag.RolloutPercentage
}

func (f *Flags) evaluateCondition(cond Condition, userID string) bool {
	switch cond.Type {
	case ConditionUserIDStartsWith:
		return strings.HasPrefix(userID, cond.Value)
	case ConditionUserIDEndsWith:
		return strings.HasSuffix(userID, cond.Value)
	case ConditionUserIDContains:
		return strings.Contains(userID, cond.Value)
	case ConditionTimeWindow:
		now := f.now()
		if cond.Start != nil && now.Before(*cond.Start) {
			return false
		}
		if cond.End != nil && now.After(*cond.End) {
			return false
		}
		return true
	default:
		f.logger.Warn("unknown flag condition type", "type", cond.Type)
		return false
	}
}

// Get returns a snapshot of the named flag.
func (f *Flags) Get(name string) (Flag, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	flag, ok := f.flags[name]
	return flag, ok
}

// List returns a snapshot of every flag.
func (f *Flags) List() []Flag {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Flag, 0, len(f.flags))
	for _, flag := range f.flags {
		out = append(out, flag)
	}
	return out
}

// Update creates or replaces a flag and invalidates its shared-cache
// entries. Subsequent evaluations see the update; in-flight ones may not.
func (f *Flags) Update(ctx context.Context, name string, flag Flag) {
	flag.Name = name
	f.mu.Lock()
	f.flags[name] = flag
	f.mu.Unlock()

	f.logger.Info("feature flag updated",
		"flag", name,
		"enabled", flag.Enabled,
		"rollout_percentage", flag.RolloutPercentage,
	)
	f.invalidateCache(ctx, name)
}

// SetRollout sets the flag's rollout percentage. Percentages outside
// [0, 100] are rejected with an error.
func (f *Flags) SetRollout(ctx context.Context, name string, percentage float64) error {
	if percentage < 0 || percentage > 100 {
		return fmt.Errorf("rollout percentage must be between 0 and 100")
	}

	f.mu.Lock()
	flag, ok := f.flags[name]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFlagNotFound, name)
	}
	flag.RolloutPercentage = percentage
	f.flags[name] = flag
	f.mu.Unlock()

	f.logger.Info("feature flag rollout changed", "flag", name, "rollout_percentage", percentage)
	f.invalidateCache(ctx, name)
	return nil
}

// SetEnabled toggles the flag.
func (f *Flags) SetEnabled(ctx context.Context, name string, enabled bool) error {
	f.mu.Lock()
	flag, ok := f.flags[name]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFlagNotFound, name)
	}
	flag.Enabled = enabled
	f.flags[name] = flag
	f.mu.Unlock()

	f.logger.Info("feature flag toggled", "flag", name, "enabled", enabled)
	f.invalidateCache(ctx, name)
	return nil
}

// WhitelistUser adds the user to the flag's whitelist.
func (f *Flags) WhitelistUser(ctx context.Context, name, userID string) error {
	f.mu.Lock()
	flag, ok := f.flags[name]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFlagNotFound, name)
	}
	if !contains(flag.Whitelist, userID) {
		flag.Whitelist = append(flag.Whitelist, userID)
		f.flags[name] = flag
	}
	f.mu.Unlock()

	f.logger.Info("user whitelisted for flag", "flag", name, "user_id", userID)
	f.invalidateCache(ctx, name)
	return nil
}

// BlacklistUser adds the user to the flag's blacklist.
func (f *Flags) BlacklistUser(ctx context.Context, name, userID string) error {
	f.mu.Lock()
	flag, ok := f.flags[name]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFlagNotFound, name)
	}
	if !contains(flag.Blacklist, userID) {
		flag.Blacklist = append(flag.Blacklist, userID)
		f.flags[name] = flag
	}
	f.mu.Unlock()

	f.logger.Info("user blacklisted for flag", "flag", name, "user_id", userID)
	f.invalidateCache(ctx, name)
	return nil
}

// DisablePrefix disables and zeroes every flag whose name carries the prefix
// in a single pass, returning the affected names.
func (f *Flags) DisablePrefix(ctx context.Context, prefix string) []string {
	f.mu.Lock()
	var affected []string
	for name, flag := range f.flags {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		flag.Enabled = false
		flag.RolloutPercentage = 0
		f.flags[name] = flag
		affected = append(affected, name)
	}
	f.mu.Unlock()

	for _, name := range affected {
		f.invalidateCache(ctx, name)
	}
	return affected
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// --- shared Redis cache tier ---

func flagCacheKey(name, userID string) string {
	return fmt.Sprintf("feature_flag:%s:%s", name, userID)
}

func (f *Flags) cachedResult(ctx context.Context, name, userID string) (bool, bool) {
	if f.redis == nil {
		return false, false
	}
	v, err := f.redis.Get(ctx, flagCacheKey(name, userID)).Result()
	if err != nil {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func (f *Flags) cacheResult(ctx context.Context, name, userID string, result bool) {
	if f.redis == nil {
		return
	}
	if err := f.redis.Set(ctx, flagCacheKey(name, userID), strconv.FormatBool(result), flagCacheTTL).Err(); err != nil {
		f.logger.Warn("caching flag evaluation failed", "flag", name, "error", err)
	}
}

// invalidateCache removes every shared-cache entry for the flag by pattern
// feature_flag:{name}:*.
func (f *Flags) invalidateCache(ctx context.Context, name string) {
	if f.redis == nil {
		return
	}
	pattern := fmt.Sprintf("feature_flag:%s:*", name)
	var cursor uint64
	for {
		keys, next, err := f.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			f.logger.Warn("flag cache invalidation failed", "flag", name, "error", err)
			return
		}
		if len(keys) > 0 {
			if err := f.redis.Del(ctx, keys...).Err(); err != nil {
				f.logger.Warn("flag cache deletion failed", "flag", name, "error", err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
