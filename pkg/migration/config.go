package migration

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes the "60s" form in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// CanaryConfig tunes a flag's canary progression.
type CanaryConfig struct {
	InitialPercentage float64  `yaml:"initial_percentage"`
	StepPercentage    float64  `yaml:"step_percentage"`
	StepDuration      Duration `yaml:"step_duration"`
	MaxErrorRate      float64  `yaml:"max_error_rate"`
}

// ABTestConfig declares an experiment in the migration config document.
type ABTestConfig struct {
	Name              string  `yaml:"name"`
	Description       string  `yaml:"description"`
	TrafficPercentage float64 `yaml:"traffic_percentage"`
}

// Config is the YAML migration configuration document. Its schema mirrors
// the flag model.
type Config struct {
	FeatureFlags []Flag                  `yaml:"feature_flags"`
	Canary       map[string]CanaryConfig `yaml:"canary"`
	ABTests      []ABTestConfig          `yaml:"ab_tests"`
}

// LoadConfig reads and validates a migration config document.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading migration config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing migration config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating migration config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the document's internal consistency.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.FeatureFlags))
	for _, flag := range c.FeatureFlags {
		if flag.Name == "" {
			return fmt.Errorf("feature flag with empty name")
		}
		if seen[flag.Name] {
			return fmt.Errorf("duplicate feature flag %q", flag.Name)
		}
		seen[flag.Name] = true
		if flag.RolloutPercentage < 0 || flag.RolloutPercentage > 100 {
			return fmt.Errorf("flag %q: rollout percentage %.1f out of range", flag.Name, flag.RolloutPercentage)
		}
		for _, cond := range flag.Conditions {
			switch cond.Type {
			case ConditionUserIDStartsWith, ConditionUserIDEndsWith, ConditionUserIDContains:
				if cond.Value == "" {
					return fmt.Errorf("flag %q: condition %s requires a value", flag.Name, cond.Type)
				}
			case ConditionTimeWindow:
				if cond.Start != nil && cond.End != nil && cond.End.Before(*cond.Start) {
					return fmt.Errorf("flag %q: time window ends before it starts", flag.Name)
				}
			default:
				return fmt.Errorf("flag %q: unknown condition type %q", flag.Name, cond.Type)
			}
		}
	}
	for name, canary := range c.Canary {
		if canary.StepPercentage <= 0 {
			return fmt.Errorf("canary %q: step percentage must be positive", name)
		}
	}
	return nil
}

// Apply loads the document's flags into the registry and registers its A/B
// tests.
func (c *Config) Apply(ctx context.Context, flags *Flags, abTests *ABTests) {
	for _, flag := range c.FeatureFlags {
		flags.Update(ctx, flag.Name, flag)
	}
	for _, test := range c.ABTests {
		abTests.Create(ctx, test.Name, test.Description, test.TrafficPercentage)
	}
}

// Save writes the document back to disk.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding migration config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing migration config: %w", err)
	}
	return nil
}
