package migration

import (
	"context"
	"testing"
	"time"
)

func TestRouteNonCandidatesGoLegacy(t *testing.T) {
	f := NewFlags(testLogger())
	router := NewTrafficRouter(f, testLogger())
	ctx := context.Background()

	// Even with the flag wide open, non-candidates stay on legacy.
	f.Update(ctx, "graphql_reviews_read", Flag{Enabled: true, RolloutPercentage: 100})

	for _, tt := range []struct{ path, method string }{
		{"/api/migration/status", "GET"},
		{"/health", "GET"},
		{"/api/v1/reviews", "PATCH"},
	} {
		if got := router.Route(ctx, tt.path, tt.method, "u1"); got != RouteLegacy {
			t.Errorf("Route(%s %s) = %v, want legacy", tt.method, tt.path, got)
		}
	}
}

func TestRouteFollowsFlags(t *testing.T) {
	f := NewFlags(testLogger())
	router := NewTrafficRouter(f, testLogger())
	ctx := context.Background()

	// Flags off: everything legacy.
	if got := router.Route(ctx, "/api/v1/reviews", "GET", "u1"); got != RouteLegacy {
		t.Fatalf("read with flag off = %v", got)
	}

	// Read flag on at 100%: reads go GraphQL, writes stay legacy.
	f.Update(ctx, "graphql_reviews_read", Flag{Enabled: true, RolloutPercentage: 100})
	if got := router.Route(ctx, "/api/v1/reviews", "GET", "u1"); got != RouteGraphQL {
		t.Errorf("read with read flag on = %v", got)
	}
	if got := router.Route(ctx, "/api/v1/reviews", "POST", "u1"); got != RouteLegacy {
		t.Errorf("write with only read flag on = %v", got)
	}

	// Write flag covers PUT and DELETE too.
	f.Update(ctx, "graphql_reviews_write", Flag{Enabled: true, RolloutPercentage: 100})
	for _, method := range []string{"POST", "PUT", "DELETE"} {
		path := "/api/v1/reviews"
		if method != "POST" {
			path = "/api/v1/reviews/123"
		}
		if got := router.Route(ctx, path, method, "u1"); got != RouteGraphQL {
			t.Errorf("%s with write flag on = %v", method, got)
		}
	}
}

func TestFlagForEndpoint(t *testing.T) {
	tests := []struct {
		path, method, want string
	}{
		{"/api/v1/reviews", "GET", "graphql_reviews_read"},
		{"/api/v1/reviews", "POST", "graphql_reviews_write"},
		{"/api/v1/reviews/1", "PUT", "graphql_reviews_write"},
		{"/api/v1/reviews/1", "DELETE", "graphql_reviews_write"},
		{"/api/v1/offers/1/reviews", "GET", "graphql_reviews_read"},
		{"/api/v1/users/1/reviews", "GET", "graphql_reviews_read"},
	}
	for _, tt := range tests {
		if got := FlagForEndpoint(tt.path, tt.method); got != tt.want {
			t.Errorf("FlagForEndpoint(%s %s) = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestErrorRateBreakerForcesFallback(t *testing.T) {
	f := NewFlags(testLogger())
	ctx := context.Background()
	f.Update(ctx, "graphql_reviews_read", Flag{Enabled: true, RolloutPercentage: 50})

	b := NewErrorRateBreaker(f, BreakerThresholds{
		ErrorThreshold:   0.10,
		WarningThreshold: 0.05,
		MinRequests:      10,
		Window:           time.Minute,
	}, testLogger())

	// 20 requests, 4 failures: 20% error rate.
	for i := 0; i < 20; i++ {
		b.Record("/api/v1/reviews", i%5 != 0)
	}

	if state := b.Check(ctx, "/api/v1/reviews"); state != BreakerOpen {
		t.Fatalf("state = %v, want open", state)
	}
	flag, _ := f.Get("graphql_reviews_read")
	if flag.RolloutPercentage != 0 {
		t.Errorf("rollout = %.1f, want forced to 0", flag.RolloutPercentage)
	}
}

func TestErrorRateBreakerWarningDoesNotAct(t *testing.T) {
	f := NewFlags(testLogger())
	ctx := context.Background()
	f.Update(ctx, "graphql_reviews_read", Flag{Enabled: true, RolloutPercentage: 50})

	b := NewErrorRateBreaker(f, DefaultBreakerThresholds(), testLogger())

	// 100 requests, 7 failures: 7% — above warning, below trip.
	for i := 0; i < 100; i++ {
		b.Record("/api/v1/reviews", i%100 >= 7)
	}

	if state := b.Check(ctx, "/api/v1/reviews"); state != BreakerWarning {
		t.Fatalf("state = %v, want warning", state)
	}
	flag, _ := f.Get("graphql_reviews_read")
	if flag.RolloutPercentage != 50 {
		t.Errorf("rollout = %.1f, warning must not act", flag.RolloutPercentage)
	}
}

func TestErrorRateBreakerIgnoresThinTraffic(t *testing.T) {
	f := NewFlags(testLogger())
	b := NewErrorRateBreaker(f, DefaultBreakerThresholds(), testLogger())

	// All failures but below the minimum request count.
	for i := 0; i < 5; i++ {
		b.Record("/api/v1/reviews", false)
	}
	if state := b.Check(context.Background(), "/api/v1/reviews"); state != BreakerClosed {
		t.Errorf("state = %v, want closed under min requests", state)
	}
}
