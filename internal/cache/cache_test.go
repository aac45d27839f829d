package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSetGetRemove(t *testing.T) {
	c := NewKeyed("test", time.Minute)

	c.Set("key1", "value1", 0)
	if v, ok := c.Get("key1"); !ok || v.(string) != "value1" {
		t.Fatalf("Get(key1) = %v, %v", v, ok)
	}

	if _, ok := c.Get("nonexistent"); ok {
		t.Fatal("Get(nonexistent) reported a hit")
	}

	c.Remove("key1")
	if _, ok := c.Get("key1"); ok {
		t.Fatal("Get after Remove reported a hit")
	}
}

func TestExpiry(t *testing.T) {
	c := NewKeyed("test", time.Minute)

	c.Set("short", 42, 20*time.Millisecond)
	if _, ok := c.Get("short"); !ok {
		t.Fatal("entry expired immediately")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Fatal("entry still present after TTL")
	}
}

func TestSetReplacesUnconditionally(t *testing.T) {
	c := NewKeyed("test", time.Minute)

	c.Set("k", 1, 0)
	c.Set("k", 2, 0)
	if v, _ := c.Get("k"); v.(int) != 2 {
		t.Fatalf("Get(k) = %v, want 2", v)
	}
}

func TestCleanupExpiredIsIdempotent(t *testing.T) {
	c := NewKeyed("test", time.Minute)

	c.Set("short", 1, 10*time.Millisecond)
	c.Set("long", 2, time.Hour)
	time.Sleep(20 * time.Millisecond)

	c.CleanupExpired()
	c.CleanupExpired()

	if c.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", c.Size())
	}
	if _, ok := c.Get("long"); !ok {
		t.Fatal("long-lived entry was removed")
	}
}

func TestKeyTemplates(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	if got := ReviewKey(id); got != "review:11111111-2222-3333-4444-555555555555" {
		t.Errorf("ReviewKey = %q", got)
	}
	if got := OfferRatingKey(id); got != "offer_rating:11111111-2222-3333-4444-555555555555" {
		t.Errorf("OfferRatingKey = %q", got)
	}
	if got := OfferReviewsCountKey(id); got != "offer_reviews_count:11111111-2222-3333-4444-555555555555" {
		t.Errorf("OfferReviewsCountKey = %q", got)
	}
}

func TestInvalidateReview(t *testing.T) {
	c := NewKeyed("test", time.Minute)
	reviewID := uuid.New()
	offerID := uuid.New()

	c.Set(ReviewKey(reviewID), "review", 0)
	c.Set(OfferRatingKey(offerID), "rating", 0)
	c.Set(OfferReviewsCountKey(offerID), 3, 0)
	c.Set("unrelated", "stays", 0)

	c.InvalidateReview(reviewID, offerID)

	for _, key := range []string{ReviewKey(reviewID), OfferRatingKey(offerID), OfferReviewsCountKey(offerID)} {
		if _, ok := c.Get(key); ok {
			t.Errorf("key %q survived invalidation", key)
		}
	}
	if _, ok := c.Get("unrelated"); !ok {
		t.Error("unrelated key was invalidated")
	}
}
