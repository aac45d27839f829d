package extclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/drivehub/ugc/internal/errs"
	"github.com/drivehub/ugc/internal/resilience"
)

func testConfig(usersURL, offersURL string) Config {
	return Config{
		UsersBaseURL:  usersURL,
		OffersBaseURL: offersURL,
		Timeout:       time.Second,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         time.Second,
			SuccessThreshold: 1,
			FailureWindow:    time.Minute,
		},
		Retry: resilience.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(testConfig(srv.URL, srv.URL), slog.New(slog.DiscardHandler))
	return c, srv
}

func TestGetUserSuccess(t *testing.T) {
	userID := uuid.New()
	email := "alice@example.com"

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/"+userID.String() {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(ExternalUser{ID: userID, Name: "Alice", Email: &email})
	}))

	user, err := c.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user == nil || user.Name != "Alice" || user.Email == nil || *user.Email != email {
		t.Fatalf("unexpected user: %+v", user)
	}
	if !c.health.Healthy("users") {
		t.Error("users service marked unhealthy after success")
	}
}

func TestGetUser404IsNotAnError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	user, err := c.GetUser(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetUser on 404: %v", err)
	}
	if user != nil {
		t.Fatalf("user = %+v, want nil", user)
	}
}

func TestGetUserClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.GetUser(context.Background(), uuid.New())
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindValidation {
		t.Fatalf("err = %v, want Validation", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not be retried)", calls.Load())
	}
}

func TestGetUserServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(ExternalUser{ID: uuid.New(), Name: "Bob"})
	}))

	user, err := c.GetUser(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user == nil || user.Name != "Bob" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls.Load())
	}
}

func TestGetOfferSuccess(t *testing.T) {
	offerID := uuid.New()
	price := 1500000

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/offers/"+offerID.String() {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(ExternalOffer{ID: offerID, Title: "Family sedan", Price: &price})
	}))

	offer, err := c.GetOffer(context.Background(), offerID)
	if err != nil {
		t.Fatalf("GetOffer: %v", err)
	}
	if offer == nil || offer.Title != "Family sedan" {
		t.Fatalf("unexpected offer: %+v", offer)
	}
}

func TestFallbackChain(t *testing.T) {
	userID := uuid.New()
	var failing atomic.Bool

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(ExternalUser{ID: userID, Name: "Cached Alice"})
	}))

	// First fetch populates the fallback cache.
	got := c.GetUserWithFallback(context.Background(), userID)
	if got.Name != "Cached Alice" {
		t.Fatalf("live fetch = %+v", got)
	}

	// With the dependency failing, the cached snapshot is served.
	failing.Store(true)
	got = c.GetUserWithFallback(context.Background(), userID)
	if got.Name != "Cached Alice" {
		t.Fatalf("cached fallback = %+v", got)
	}

	// An unknown id degrades to the synthetic placeholder.
	got = c.GetUserWithFallback(context.Background(), uuid.New())
	if got.Name != "Unknown User" {
		t.Fatalf("synthetic fallback = %+v", got)
	}

	if h, ok := c.Health("users"); !ok || h.Healthy {
		t.Error("users service should be unhealthy after failures")
	}
}

func TestOfferFallbackSynthetic(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	offerID := uuid.New()
	got := c.GetOfferWithFallback(context.Background(), offerID)
	if got.ID != offerID || got.Title != "Unknown Offer" {
		t.Fatalf("synthetic offer = %+v", got)
	}
}

func TestHealthMonitor(t *testing.T) {
	m := NewHealthMonitor()

	if !m.Healthy("users") {
		t.Error("unknown service should default to healthy")
	}

	m.RecordFailure("users", "connection refused")
	m.RecordFailure("users", "connection refused")
	h, ok := m.Get("users")
	if !ok || h.Healthy || h.ConsecutiveFailures != 2 || h.LastError != "connection refused" {
		t.Fatalf("health = %+v", h)
	}

	m.RecordSuccess("users")
	h, _ = m.Get("users")
	if !h.Healthy || h.ConsecutiveFailures != 0 || h.LastSuccess == nil {
		t.Fatalf("health after success = %+v", h)
	}
}

func TestCacheStats(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ExternalUser{ID: uuid.New(), Name: "X"})
	}))

	_, _ = c.GetUser(context.Background(), uuid.New())
	stats := c.CacheStats()
	if stats.UserCacheSize != 1 {
		t.Errorf("UserCacheSize = %d, want 1", stats.UserCacheSize)
	}

	states := c.BreakerStates()
	if states["users"] != "closed" || states["offers"] != "closed" {
		t.Errorf("breaker states = %v", states)
	}
}
