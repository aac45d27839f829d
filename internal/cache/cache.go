// Package cache provides the process-wide keyed TTL cache for reviews and
// rating aggregates. Keys follow stable templates so invalidation can target
// everything derived from one offer.
package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/drivehub/ugc/internal/telemetry"
)

// TTLs per key class.
const (
	ReviewTTL       = 10 * time.Minute
	OfferRatingTTL  = 30 * time.Minute
	ReviewsCountTTL = 5 * time.Minute
)

// ReviewKey returns the cache key for a single review.
func ReviewKey(id uuid.UUID) string {
	return fmt.Sprintf("review:%s", id)
}

// OfferRatingKey returns the cache key for an offer's rating aggregate.
func OfferRatingKey(offerID uuid.UUID) string {
	return fmt.Sprintf("offer_rating:%s", offerID)
}

// OfferReviewsCountKey returns the cache key for an offer's review count.
func OfferReviewsCountKey(offerID uuid.UUID) string {
	return fmt.Sprintf("offer_reviews_count:%s", offerID)
}

// Keyed is an in-memory cache with per-entry TTLs. Values are stored by
// value; readers get their own copy on type assertion.
type Keyed struct {
	name string
	c    *gocache.Cache
}

// NewKeyed creates a named cache. The name labels hit/miss metrics.
func NewKeyed(name string, defaultTTL time.Duration) *Keyed {
	return &Keyed{
		name: name,
		c:    gocache.New(defaultTTL, 10*time.Minute),
	}
}

// Get returns the entry for key if present and not expired.
func (k *Keyed) Get(key string) (any, bool) {
	v, ok := k.c.Get(key)
	if ok {
		telemetry.CacheHitsTotal.WithLabelValues(k.name).Inc()
	} else {
		telemetry.CacheMissesTotal.WithLabelValues(k.name).Inc()
	}
	return v, ok
}

// Set stores value under key with the given TTL, replacing any prior entry.
// A zero ttl uses the cache default.
func (k *Keyed) Set(key string, value any, ttl time.Duration) {
	if ttl == 0 {
		k.c.SetDefault(key, value)
		return
	}
	k.c.Set(key, value, ttl)
}

// Remove deletes the entry for key if present.
func (k *Keyed) Remove(key string) {
	k.c.Delete(key)
}

// CleanupExpired drops expired entries. Idempotent.
func (k *Keyed) CleanupExpired() {
	k.c.DeleteExpired()
}

// Size returns the number of entries, expired ones included.
func (k *Keyed) Size() int {
	return k.c.ItemCount()
}

// Flush removes every entry.
func (k *Keyed) Flush() {
	k.c.Flush()
}

// InvalidateReview removes the review's own key and both offer-scoped keys.
func (k *Keyed) InvalidateReview(reviewID, offerID uuid.UUID) {
	k.Remove(ReviewKey(reviewID))
	k.InvalidateOffer(offerID)
}

// InvalidateOffer removes the offer-scoped keys.
func (k *Keyed) InvalidateOffer(offerID uuid.UUID) {
	k.Remove(OfferRatingKey(offerID))
	k.Remove(OfferReviewsCountKey(offerID))
}
