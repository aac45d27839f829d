package extclient

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// fallbackTTL bounds how long a stale snapshot may stand in for live data.
const fallbackTTL = 5 * time.Minute

// fallbackProvider keeps the last known snapshot per entity so resolvers can
// degrade gracefully when a sibling subgraph is unavailable.
type fallbackProvider struct {
	users  *gocache.Cache
	offers *gocache.Cache
}

func newFallbackProvider() *fallbackProvider {
	return &fallbackProvider{
		users:  gocache.New(fallbackTTL, 10*time.Minute),
		offers: gocache.New(fallbackTTL, 10*time.Minute),
	}
}

func (p *fallbackProvider) cacheUser(u *ExternalUser) {
	p.users.SetDefault(fmt.Sprintf("user:%s", u.ID), *u)
}

func (p *fallbackProvider) cacheOffer(o *ExternalOffer) {
	p.offers.SetDefault(fmt.Sprintf("offer:%s", o.ID), *o)
}

// userFallback returns the cached snapshot or a minimal synthetic one.
func (p *fallbackProvider) userFallback(userID uuid.UUID) ExternalUser {
	if v, ok := p.users.Get(fmt.Sprintf("user:%s", userID)); ok {
		return v.(ExternalUser)
	}
	return ExternalUser{ID: userID, Name: "Unknown User"}
}

// offerFallback returns the cached snapshot or a minimal synthetic one.
func (p *fallbackProvider) offerFallback(offerID uuid.UUID) ExternalOffer {
	if v, ok := p.offers.Get(fmt.Sprintf("offer:%s", offerID)); ok {
		return v.(ExternalOffer)
	}
	return ExternalOffer{ID: offerID, Title: "Unknown Offer"}
}

func (p *fallbackProvider) cleanupExpired() {
	p.users.DeleteExpired()
	p.offers.DeleteExpired()
}

// CacheStats reports fallback-cache sizes for monitoring.
type CacheStats struct {
	UserCacheSize  int `json:"user_cache_size"`
	OfferCacheSize int `json:"offer_cache_size"`
}

func (p *fallbackProvider) stats() CacheStats {
	return CacheStats{
		UserCacheSize:  p.users.ItemCount(),
		OfferCacheSize: p.offers.ItemCount(),
	}
}
