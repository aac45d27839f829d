package migration

import (
	"context"
	"fmt"
	"log/slog"
)

// Variant is an A/B test arm.
type Variant string

const (
	VariantControl   Variant = "control"
	VariantTreatment Variant = "treatment"
)

// abTestFlagName maps a test name onto its backing feature flag.
func abTestFlagName(testName string) string {
	return fmt.Sprintf("ab_test_%s", testName)
}

// ABTests assigns users to experiment variants on top of the flag engine.
type ABTests struct {
	flags  *Flags
	logger *slog.Logger
}

// NewABTests creates the A/B test service.
func NewABTests(flags *Flags, logger *slog.Logger) *ABTests {
	return &ABTests{flags: flags, logger: logger}
}

// AssignVariant deterministically buckets the user into control or treatment
// when the test's flag is enabled for them, and control otherwise.
func (a *ABTests) AssignVariant(ctx context.Context, testName, userID string) Variant {
	if !a.flags.IsEnabled(ctx, abTestFlagName(testName), userID) {
		return VariantControl
	}
	if stableHash(userID)%2 == 1 {
		return VariantTreatment
	}
	return VariantControl
}

// TrackConversion records a conversion event for the user's variant.
func (a *ABTests) TrackConversion(ctx context.Context, testName, userID, event string) {
	variant := a.AssignVariant(ctx, testName, userID)
	a.logger.Info("ab test conversion",
		"event", "abtest.conversion",
		"test", testName,
		"user_id", userID,
		"variant", string(variant),
		"conversion_event", event,
	)
}

// Create registers the flag backing a new A/B test. The traffic percentage
// controls what share of users participate at all.
func (a *ABTests) Create(ctx context.Context, testName, description string, trafficPercentage float64) string {
	flagName := abTestFlagName(testName)
	a.flags.Update(ctx, flagName, Flag{
		Name:              flagName,
		Enabled:           true,
		RolloutPercentage: trafficPercentage,
		Description:       fmt.Sprintf("A/B test: %s", description),
	})
	return flagName
}

// List returns the flags backing A/B tests, whether enabled or not.
func (a *ABTests) List() []Flag {
	var out []Flag
	for _, flag := range a.flags.List() {
		if len(flag.Name) > 8 && flag.Name[:8] == "ab_test_" {
			out = append(out, flag)
		}
	}
	return out
}
