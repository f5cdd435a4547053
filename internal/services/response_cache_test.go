package services

import (
	"fmt"
	"testing"
	"time"
)

func TestResponseCache_SetAndGet(t *testing.T) {
	cache := NewResponseCache(time.Minute, 10)

	key := CacheKey("user-1", "bot-a", "hello")
	cache.Set(key, "hi there")

	got, ok := cache.Get(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "hi there" {
		t.Errorf("expected %q, got %q", "hi there", got)
	}

	if _, ok := cache.Get(CacheKey("user-2", "bot-a", "hello")); ok {
		t.Error("different identity should be a different key")
	}
}

func TestResponseCache_KeyEmbedsInputVerbatim(t *testing.T) {
	cache := NewResponseCache(time.Minute, 10)

	cache.Set(CacheKey("u", "b", "hello"), "a")
	if _, ok := cache.Get(CacheKey("u", "b", "hello ")); ok {
		t.Error("whitespace variant should miss")
	}
}

func TestResponseCache_TTLExpiry(t *testing.T) {
	cache := NewResponseCache(30*time.Millisecond, 10)

	key := CacheKey("u", "b", "q")
	cache.Set(key, "answer")

	if _, ok := cache.Get(key); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := cache.Get(key); ok {
		t.Error("expected miss after TTL elapsed")
	}
}

func TestResponseCache_CapacityEvictsOldest(t *testing.T) {
	cache := NewResponseCache(time.Minute, 3)

	for i := 0; i < 3; i++ {
		cache.Set(fmt.Sprintf("key-%d", i), "v")
		time.Sleep(2 * time.Millisecond) // distinct stored times
	}
	cache.Set("key-3", "v")

	if got := cache.Len(); got != 3 {
		t.Fatalf("expected capacity 3, got %d", got)
	}
	if _, ok := cache.Get("key-0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	for i := 1; i <= 3; i++ {
		if _, ok := cache.Get(fmt.Sprintf("key-%d", i)); !ok {
			t.Errorf("key-%d should survive eviction", i)
		}
	}
}

func TestResponseCache_ZeroTTLStillEvictsOldest(t *testing.T) {
	cache := NewResponseCache(0, 3)

	for i := 0; i < 3; i++ {
		cache.Set(fmt.Sprintf("key-%d", i), "v")
		time.Sleep(2 * time.Millisecond)
	}
	cache.Set("key-3", "v")

	if _, ok := cache.Get("key-0"); ok {
		t.Error("oldest entry should be evicted even with an unset TTL")
	}
	if _, ok := cache.Get("key-3"); !ok {
		t.Error("newest entry should survive")
	}
}

func TestResponseCache_SweepRemovesExpired(t *testing.T) {
	cache := NewResponseCache(20*time.Millisecond, 10)

	cache.Set("k1", "v")
	cache.Set("k2", "v")
	time.Sleep(40 * time.Millisecond)

	cache.Sweep()

	if got := cache.Len(); got != 0 {
		t.Errorf("expected empty cache after sweep, got %d entries", got)
	}
}
