package cache

import (
	"testing"
	"time"
)

func TestTTLCacheBasics(t *testing.T) {
	c := NewTTL[string, int](4, time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("unexpected hit on empty cache")
	}
	c.Put("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}
	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected miss after invalidation")
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 2 {
		t.Fatalf("unexpected stats: %d hits %d misses", hits, misses)
	}
}

func TestTTLCacheEvictsBeyondCapacity(t *testing.T) {
	c := NewTTL[int, int](2, time.Minute)
	c.Put(1, 1)
	c.Put(2, 2)
	c.Put(3, 3)
	if c.Len() > 2 {
		t.Fatalf("capacity exceeded: %d", c.Len())
	}
}

func TestTTLCacheExpires(t *testing.T) {
	c := NewTTL[string, int](4, 10*time.Millisecond)
	c.Put("a", 1)
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("entry should have expired")
	}
}
