package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ResponseCache guards full bot responses keyed by (identity, persona,
// input). Entries expire after the TTL and the store is capped: at capacity
// the oldest entry is evicted first. One mutex serializes all operations so
// the capacity check, eviction and insert are atomic; the store itself is
// go-cache, which also locks its map internally.
type ResponseCache struct {
	store   *gocache.Cache
	maxSize int
	mu      sync.Mutex
}

// CacheKey builds the composite cache key. The input text is embedded
// verbatim: no normalization, so whitespace variants are distinct keys.
func CacheKey(identity, personaID, input string) string {
	return fmt.Sprintf("%s:%s:%s", identity, personaID, input)
}

// defaultTTL is the fallback entry lifetime when none is configured.
const defaultTTL = 7200 * time.Second

// NewResponseCache creates a cache with the given TTL and capacity. The
// periodic sweep is driven externally (see Sweep), not by a janitor.
// Eviction order is derived from expiry times, so the TTL must be positive;
// a non-positive value falls back to the default.
func NewResponseCache(ttl time.Duration, maxSize int) *ResponseCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ResponseCache{
		store:   gocache.New(ttl, 0),
		maxSize: maxSize,
	}
}

// Get returns the cached response, or absent when the key was never set or
// its TTL has elapsed. An expired entry is purged as a side effect.
func (rc *ResponseCache) Get(key string) (string, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	value, found := rc.store.Get(key)
	if !found {
		// Either never set or expired; either way drop any stale entry.
		rc.store.Delete(key)
		return "", false
	}
	return value.(string), true
}

// Set inserts or overwrites a response, refreshing its stored time. When
// the store is at capacity, expired entries are purged first and then the
// single oldest surviving entry is evicted.
func (rc *ResponseCache) Set(key, value string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.store.ItemCount() >= rc.maxSize {
		rc.store.DeleteExpired()
	}
	if rc.store.ItemCount() >= rc.maxSize {
		rc.evictOldest()
	}
	rc.store.SetDefault(key, value)
}

// evictOldest removes the entry with the smallest stored time. With a
// uniform TTL the earliest expiry is the earliest insert.
func (rc *ResponseCache) evictOldest() {
	var oldestKey string
	var oldestExpiry int64
	for k, item := range rc.store.Items() {
		if oldestKey == "" || item.Expiration < oldestExpiry {
			oldestKey = k
			oldestExpiry = item.Expiration
		}
	}
	if oldestKey != "" {
		rc.store.Delete(oldestKey)
	}
}

// Sweep removes every expired entry. Complementary to the opportunistic
// purge in Get; wired to the scheduler every five minutes.
func (rc *ResponseCache) Sweep() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	before := rc.store.ItemCount()
	rc.store.DeleteExpired()
	slog.Debug("response cache sweep", "before", before, "after", rc.store.ItemCount())
}

// Len returns the current number of entries (expired-but-unswept entries
// may be included).
func (rc *ResponseCache) Len() int {
	return rc.store.ItemCount()
}
