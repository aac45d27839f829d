// Package extclient fetches user and offer snapshots from the sibling
// subgraphs, wrapping every call in a circuit breaker and retry policy and
// degrading to cached or synthetic data when the dependency is down.
package extclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/drivehub/ugc/internal/errs"
	"github.com/drivehub/ugc/internal/resilience"
	"github.com/drivehub/ugc/internal/telemetry"
)

// ExternalUser is an immutable snapshot from the users subgraph.
type ExternalUser struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email *string   `json:"email,omitempty"`
}

// ExternalOffer is an immutable snapshot from the offers subgraph.
type ExternalOffer struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Price *int      `json:"price,omitempty"`
}

const (
	serviceUsers  = "users"
	serviceOffers = "offers"
)

// Config tunes the client.
type Config struct {
	UsersBaseURL  string
	OffersBaseURL string
	Timeout       time.Duration
	Breaker       resilience.BreakerConfig
	Retry         resilience.RetryConfig
}

// Client provides typed fetches against the sibling subgraphs.
type Client struct {
	http          *http.Client
	usersBaseURL  string
	offersBaseURL string
	timeout       time.Duration

	usersBreaker  *resilience.Breaker
	offersBreaker *resilience.Breaker
	retrier       *resilience.Retrier

	fallback *fallbackProvider
	health   *HealthMonitor
	logger   *slog.Logger
}

// New creates a Client with per-service circuit breakers and a shared retry
// policy.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		http:          &http.Client{Timeout: 30 * time.Second},
		usersBaseURL:  cfg.UsersBaseURL,
		offersBaseURL: cfg.OffersBaseURL,
		timeout:       timeout,
		usersBreaker:  resilience.NewBreaker(serviceUsers, cfg.Breaker, logger),
		offersBreaker: resilience.NewBreaker(serviceOffers, cfg.Breaker, logger),
		retrier:       resilience.NewRetrier(cfg.Retry, logger),
		fallback:      newFallbackProvider(),
		health:        NewHealthMonitor(),
		logger:        logger,
	}
}

// GetUser fetches a user snapshot. A 404 yields (nil, nil).
func (c *Client) GetUser(ctx context.Context, userID uuid.UUID) (*ExternalUser, error) {
	start := time.Now()
	var user *ExternalUser

	err := c.usersBreaker.Do(func() error {
		return c.retrier.Do(ctx, func() error {
			var err error
			user, err = fetchOne[ExternalUser](ctx, c, serviceUsers, fmt.Sprintf("%s/users/%s", c.usersBaseURL, userID))
			return err
		})
	})

	c.observe(serviceUsers, start, user != nil, err)
	if err != nil {
		return nil, fmt.Errorf("fetching user %s: %w", userID, err)
	}
	if user != nil {
		c.fallback.cacheUser(user)
	}
	return user, nil
}

// GetOffer fetches an offer snapshot. A 404 yields (nil, nil).
func (c *Client) GetOffer(ctx context.Context, offerID uuid.UUID) (*ExternalOffer, error) {
	start := time.Now()
	var offer *ExternalOffer

	err := c.offersBreaker.Do(func() error {
		return c.retrier.Do(ctx, func() error {
			var err error
			offer, err = fetchOne[ExternalOffer](ctx, c, serviceOffers, fmt.Sprintf("%s/offers/%s", c.offersBaseURL, offerID))
			return err
		})
	})

	c.observe(serviceOffers, start, offer != nil, err)
	if err != nil {
		return nil, fmt.Errorf("fetching offer %s: %w", offerID, err)
	}
	if offer != nil {
		c.fallback.cacheOffer(offer)
	}
	return offer, nil
}

// GetUserWithFallback always yields a value: live data, then the fallback
// cache, then a minimal synthetic snapshot.
func (c *Client) GetUserWithFallback(ctx context.Context, userID uuid.UUID) ExternalUser {
	user, err := c.GetUser(ctx, userID)
	if err == nil && user != nil {
		return *user
	}
	if err != nil {
		c.logger.Warn("user fetch failed, degrading to fallback", "user_id", userID, "error", err)
	}
	return c.fallback.userFallback(userID)
}

// GetOfferWithFallback always yields a value: live data, then the fallback
// cache, then a minimal synthetic snapshot.
func (c *Client) GetOfferWithFallback(ctx context.Context, offerID uuid.UUID) ExternalOffer {
	offer, err := c.GetOffer(ctx, offerID)
	if err == nil && offer != nil {
		return *offer
	}
	if err != nil {
		c.logger.Warn("offer fetch failed, degrading to fallback", "offer_id", offerID, "error", err)
	}
	return c.fallback.offerFallback(offerID)
}

// fetchOne performs a single GET attempt and classifies the outcome.
func fetchOne[T any](ctx context.Context, c *Client, service, rawURL string) (*T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.ExternalService(service, err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if cid := telemetry.CorrelationIDFromContext(ctx); cid != "" {
		req.Header.Set("X-Request-ID", cid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
			return nil, errs.ServiceTimeout(service)
		}
		return nil, errs.ExternalService(service, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out T
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, errs.ExternalService(service, "failed to parse response")
		}
		return &out, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 500:
		return nil, errs.ExternalService(service, fmt.Sprintf("HTTP %d", resp.StatusCode))
	default:
		return nil, errs.Validation(fmt.Sprintf("%s service client error: HTTP %d", service, resp.StatusCode))
	}
}

func (c *Client) observe(service string, start time.Time, found bool, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		c.health.RecordFailure(service, err.Error())
		telemetry.ExternalRequestDuration.WithLabelValues(service, outcome).Observe(time.Since(start).Seconds())
		return
	}
	if !found {
		outcome = "not_found"
	}
	c.health.RecordSuccess(service)
	telemetry.ExternalRequestDuration.WithLabelValues(service, outcome).Observe(time.Since(start).Seconds())
}

// Health returns the health snapshot for a service.
func (c *Client) Health(service string) (ServiceHealth, bool) {
	return c.health.Get(service)
}

// AllHealth returns snapshots for every observed service.
func (c *Client) AllHealth() map[string]ServiceHealth {
	return c.health.All()
}

// BreakerStates reports the state of each per-service circuit breaker.
func (c *Client) BreakerStates() map[string]string {
	return map[string]string{
		serviceUsers:  c.usersBreaker.State(),
		serviceOffers: c.offersBreaker.State(),
	}
}

// CacheStats reports fallback-cache sizes.
func (c *Client) CacheStats() CacheStats {
	return c.fallback.stats()
}

// CleanupExpiredCache drops expired fallback snapshots.
func (c *Client) CleanupExpiredCache() {
	c.fallback.cleanupExpired()
}

// RunCacheCleanupLoop sweeps the fallback caches periodically until ctx is
// cancelled.
func (c *Client) RunCacheCleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CleanupExpiredCache()
			c.logger.Debug("fallback cache cleanup completed")
		}
	}
}
