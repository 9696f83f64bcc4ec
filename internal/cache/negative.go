package cache

import (
	"fmt"
	"time"
)

// NegativeCache remembers identifiers whose remote lookup failed so that
// repeated references to a permanently missing target do not hit the
// remote API again until the entry expires.
type NegativeCache struct {
	entries *LRU[string, time.Time]
	ttl     time.Duration
	clock   func() time.Time
}

// NegativeOption mutates negative cache construction.
type NegativeOption func(*NegativeCache)

// WithClock overrides the time source used for expiry.
func WithClock(clock func() time.Time) NegativeOption {
	return func(cache *NegativeCache) {
		if clock != nil {
			cache.clock = clock
		}
	}
}

// NewNegativeCache creates a negative cache with bounded size and TTL.
func NewNegativeCache(capacity int, ttl time.Duration, options ...NegativeOption) (*NegativeCache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("new negative cache: ttl must be > 0, got %s", ttl)
	}
	entries, err := NewLRU[string, time.Time](capacity)
	if err != nil {
		return nil, fmt.Errorf("new negative cache: %w", err)
	}

	cache := &NegativeCache{
		entries: entries,
		ttl:     ttl,
		clock:   time.Now,
	}
	for _, option := range options {
		option(cache)
	}

	return cache, nil
}

// Remember records id as missing until the TTL elapses.
func (c *NegativeCache) Remember(id string) {
	if c == nil || id == "" {
		return
	}
	c.entries.Put(id, c.clock().Add(c.ttl))
}

// Missing reports whether id is recorded as missing and not yet expired.
func (c *NegativeCache) Missing(id string) bool {
	if c == nil || id == "" {
		return false
	}

	expiresAt, ok := c.entries.Get(id)
	if !ok {
		return false
	}
	if !c.clock().Before(expiresAt) {
		c.entries.Remove(id)
		return false
	}

	return true
}

// Forget drops id, typically after it was resolved by another tier.
func (c *NegativeCache) Forget(id string) {
	if c == nil || id == "" {
		return
	}
	c.entries.Remove(id)
}

// Len returns the number of tracked entries, expired ones included.
func (c *NegativeCache) Len() int {
	if c == nil {
		return 0
	}

	return c.entries.Len()
}
