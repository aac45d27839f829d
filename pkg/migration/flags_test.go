package migration

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDefaults(t *testing.T) {
	f := NewFlags(testLogger())

	for _, name := range []string{"graphql_reviews_read", "graphql_reviews_write", "rest_api_deprecation_warning"} {
		if _, ok := f.Get(name); !ok {
			t.Errorf("default flag %q missing", name)
		}
	}

	// All defaults start disabled.
	if f.IsEnabled(context.Background(), "graphql_reviews_read", "any-user") {
		t.Error("graphql_reviews_read enabled by default")
	}
}

func TestEvaluationOrder(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())

	// Disabled flag is false regardless of whitelist.
	f.Update(ctx, "test", Flag{Enabled: false, RolloutPercentage: 100, Whitelist: []string{"u1"}})
	if f.IsEnabled(ctx, "test", "u1") {
		t.Error("disabled flag evaluated true")
	}

	// Blacklist wins over whitelist and rollout.
	f.Update(ctx, "test", Flag{
		Enabled:           true,
		RolloutPercentage: 100,
		Whitelist:         []string{"u1"},
		Blacklist:         []string{"u1"},
	})
	if f.IsEnabled(ctx, "test", "u1") {
		t.Error("blacklisted user evaluated true")
	}

	// Whitelist wins over rollout zero.
	f.Update(ctx, "test", Flag{Enabled: true, RolloutPercentage: 0, Whitelist: []string{"u1"}})
	if !f.IsEnabled(ctx, "test", "u1") {
		t.Error("whitelisted user evaluated false")
	}
	if f.IsEnabled(ctx, "test", "u2") {
		t.Error("non-whitelisted user at 0%% rollout evaluated true")
	}

	// Failing condition short-circuits the rollout.
	f.Update(ctx, "test", Flag{
		Enabled:           true,
		RolloutPercentage: 100,
		Conditions:        []Condition{{Type: ConditionUserIDStartsWith, Value: "beta-"}},
	})
	if f.IsEnabled(ctx, "test", "prod-user") {
		t.Error("user failing prefix condition evaluated true")
	}
	if !f.IsEnabled(ctx, "test", "beta-user") {
		t.Error("user passing prefix condition evaluated false")
	}
}

func TestTimeWindowCondition(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return base }

	start := base.Add(-time.Hour)
	end := base.Add(time.Hour)
	f.Update(ctx, "windowed", Flag{
		Enabled:           true,
		RolloutPercentage: 100,
		Conditions:        []Condition{{Type: ConditionTimeWindow, Start: &start, End: &end}},
	})

	if !f.IsEnabled(ctx, "windowed", "u") {
		t.Error("inside window evaluated false")
	}

	f.now = func() time.Time { return end.Add(time.Minute) }
	if f.IsEnabled(ctx, "windowed", "u") {
		t.Error("after window evaluated true")
	}
}

func TestEvaluationIsDeterministic(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())
	f.Update(ctx, "half", Flag{Enabled: true, RolloutPercentage: 50})

	for i := 0; i < 50; i++ {
		userID := fmt.Sprintf("user-%d", i)
		first := f.IsEnabled(ctx, "half", userID)
		for j := 0; j < 5; j++ {
			if f.IsEnabled(ctx, "half", userID) != first {
				t.Fatalf("evaluation for %s is not stable", userID)
			}
		}
	}
}

func TestRolloutDistribution(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())
	f.Update(ctx, "half", Flag{Enabled: true, RolloutPercentage: 50})

	const population = 10000
	enabled := 0
	for i := 0; i < population; i++ {
		if f.IsEnabled(ctx, "half", fmt.Sprintf("user-%d", i)) {
			enabled++
		}
	}

	if enabled < 4800 || enabled > 5200 {
		t.Errorf("enabled = %d of %d, want within [4800, 5200]", enabled, population)
	}
}

func TestFullRolloutRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())

	f.Update(ctx, "full", Flag{Enabled: true, RolloutPercentage: 100})
	for i := 0; i < 100; i++ {
		if !f.IsEnabled(ctx, "full", fmt.Sprintf("user-%d", i)) {
			t.Fatal("user disabled at 100%% rollout")
		}
	}

	if err := f.SetEnabled(ctx, "full", false); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if f.IsEnabled(ctx, "full", fmt.Sprintf("user-%d", i)) {
			t.Fatal("user enabled on disabled flag")
		}
	}
}

func TestSetRolloutBounds(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())

	if err := f.SetRollout(ctx, "graphql_reviews_read", 101); err == nil {
		t.Error("rollout above 100 accepted")
	}
	if err := f.SetRollout(ctx, "graphql_reviews_read", -1); err == nil {
		t.Error("negative rollout accepted")
	}
	if err := f.SetRollout(ctx, "missing", 10); err == nil {
		t.Error("rollout on missing flag accepted")
	}
}

func TestWhitelistBlacklistIdempotent(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())

	for i := 0; i < 3; i++ {
		if err := f.WhitelistUser(ctx, "graphql_reviews_read", "u1"); err != nil {
			t.Fatal(err)
		}
	}
	flag, _ := f.Get("graphql_reviews_read")
	if len(flag.Whitelist) != 1 {
		t.Errorf("whitelist = %v, want single entry", flag.Whitelist)
	}
}

func TestEmergencyRollback(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())
	rollbacks := NewRollbacks(f, time.Millisecond, testLogger())

	f.Update(ctx, "graphql_reviews_read", Flag{Enabled: true, RolloutPercentage: 50})
	f.Update(ctx, "graphql_reviews_write", Flag{Enabled: true, RolloutPercentage: 25})
	f.Update(ctx, "rest_api_deprecation_warning", Flag{Enabled: true, RolloutPercentage: 100})

	affected := rollbacks.Emergency(ctx, "high error rate")
	if len(affected) != 2 {
		t.Fatalf("affected = %v, want the two graphql_* flags", affected)
	}

	for i := 0; i < 100; i++ {
		user := fmt.Sprintf("user-%d", i)
		if f.IsEnabled(ctx, "graphql_reviews_read", user) || f.IsEnabled(ctx, "graphql_reviews_write", user) {
			t.Fatal("graphql flag still evaluates true after emergency rollback")
		}
	}

	// Non-graphql flags are untouched.
	flag, _ := f.Get("rest_api_deprecation_warning")
	if !flag.Enabled {
		t.Error("non-graphql flag was disabled")
	}
}

func TestGradualRollback(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())
	rollbacks := NewRollbacks(f, time.Millisecond, testLogger())

	f.Update(ctx, "graphql_reviews_read", Flag{Enabled: true, RolloutPercentage: 50})

	if err := rollbacks.Gradual(ctx, "graphql_reviews_read", 20); err != nil {
		t.Fatalf("Gradual: %v", err)
	}
	flag, _ := f.Get("graphql_reviews_read")
	if flag.RolloutPercentage != 20 {
		t.Errorf("rollout = %.1f, want 20", flag.RolloutPercentage)
	}

	if err := rollbacks.Gradual(ctx, "graphql_reviews_read", 30); err == nil {
		t.Error("gradual rollback to a higher target accepted")
	}
}

func TestABVariantAssignment(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())
	ab := NewABTests(f, testLogger())

	// Without an enabled test flag everyone is control.
	if got := ab.AssignVariant(ctx, "checkout", "u1"); got != VariantControl {
		t.Errorf("variant = %s, want control", got)
	}

	ab.Create(ctx, "checkout", "migration experiment", 100)

	var control, treatment int
	for i := 0; i < 1000; i++ {
		userID := fmt.Sprintf("user-%d", i)
		v := ab.AssignVariant(ctx, "checkout", userID)
		if v != ab.AssignVariant(ctx, "checkout", userID) {
			t.Fatal("variant assignment is not stable")
		}
		if v == VariantControl {
			control++
		} else {
			treatment++
		}
	}
	if control == 0 || treatment == 0 {
		t.Errorf("split control=%d treatment=%d, want both populated", control, treatment)
	}

	if len(ab.List()) != 1 {
		t.Errorf("List() = %v, want one test", ab.List())
	}
}
