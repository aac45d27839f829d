package migration

import (
	"context"
	"testing"
	"time"
)

func newTestCanary(f *Flags) *Canary {
	c := NewCanary(f, nil, time.Millisecond, testLogger())
	c.ShouldHalt = func(context.Context, string) bool { return false }
	return c
}

func TestCanaryStart(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())
	c := newTestCanary(f)

	if err := c.Start(ctx, "graphql_reviews_read"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	flag, _ := f.Get("graphql_reviews_read")
	if !flag.Enabled || flag.RolloutPercentage != 1 {
		t.Errorf("flag after start = %+v, want enabled at 1%%", flag)
	}

	// Starting an active canary is rejected.
	if err := c.Start(ctx, "graphql_reviews_read"); err == nil {
		t.Error("second Start accepted")
	}

	if err := c.Start(ctx, "missing"); err == nil {
		t.Error("Start on missing flag accepted")
	}
}

func TestCanaryPromote(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())
	c := newTestCanary(f)

	if err := c.Start(ctx, "graphql_reviews_read"); err != nil {
		t.Fatal(err)
	}
	if err := c.Promote(ctx, "graphql_reviews_read", 20); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	flag, _ := f.Get("graphql_reviews_read")
	if flag.RolloutPercentage != 20 {
		t.Errorf("rollout = %.1f, want 20", flag.RolloutPercentage)
	}

	// Non-increasing targets are rejected.
	if err := c.Promote(ctx, "graphql_reviews_read", 20); err == nil {
		t.Error("promotion to current rollout accepted")
	}
	if err := c.Promote(ctx, "graphql_reviews_read", 10); err == nil {
		t.Error("promotion to lower rollout accepted")
	}
}

func TestCanaryPromoteHalts(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())
	c := newTestCanary(f)

	if err := c.Start(ctx, "graphql_reviews_read"); err != nil {
		t.Fatal(err)
	}

	steps := 0
	c.ShouldHalt = func(context.Context, string) bool {
		steps++
		return steps >= 2
	}

	if err := c.Promote(ctx, "graphql_reviews_read", 100); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	flag, _ := f.Get("graphql_reviews_read")
	if flag.RolloutPercentage >= 100 {
		t.Errorf("rollout = %.1f, promotion should have halted early", flag.RolloutPercentage)
	}
}

func TestCanaryRollback(t *testing.T) {
	ctx := context.Background()
	f := NewFlags(testLogger())
	c := newTestCanary(f)

	if err := c.Start(ctx, "graphql_reviews_read"); err != nil {
		t.Fatal(err)
	}
	if err := c.Promote(ctx, "graphql_reviews_read", 10); err != nil {
		t.Fatal(err)
	}
	if err := c.Rollback(ctx, "graphql_reviews_read"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	flag, _ := f.Get("graphql_reviews_read")
	if flag.Enabled || flag.RolloutPercentage != 0 {
		t.Errorf("flag after rollback = %+v, want disabled at 0%%", flag)
	}
}
