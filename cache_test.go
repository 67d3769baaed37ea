package siltdb

import "testing"

func TestCacheGetPutRoundTrip(t *testing.T) {
	c := NewCache(10)
	c.Put([]byte("k"), &Entry{Key: []byte("k"), Value: []byte("v")})

	e, ok := c.Get([]byte("k"))
	if !ok || string(e.Value) != "v" {
		t.Fatalf("expected cache hit with v, got %v ok=%v", e, ok)
	}

	if _, ok := c.Get([]byte("missing")); ok {
		t.Fatal("expected cache miss")
	}
}

func TestCacheEvictsLowestAccessCount(t *testing.T) {
	c := NewCache(2)
	c.Put([]byte("a"), &Entry{Key: []byte("a"), Value: []byte("1")})
	c.Put([]byte("b"), &Entry{Key: []byte("b"), Value: []byte("2")})

	// Touch "a" repeatedly so it accumulates a higher access_count than "b".
	c.Get([]byte("a"))
	c.Get([]byte("a"))
	c.Get([]byte("a"))

	// Inserting a third key forces an eviction; "b" has the lowest
	// access_count and should be evicted, not "a".
	c.Put([]byte("c"), &Entry{Key: []byte("c"), Value: []byte("3")})

	if _, ok := c.Get([]byte("a")); !ok {
		t.Fatal("expected frequently accessed key 'a' to survive eviction")
	}
	if _, ok := c.Get([]byte("b")); ok {
		t.Fatal("expected infrequently accessed key 'b' to be evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("expected capacity to be respected, got len=%d", c.Len())
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(10)
	c.Put([]byte("k"), &Entry{Key: []byte("k"), Value: []byte("v")})
	c.Invalidate([]byte("k"))

	if _, ok := c.Get([]byte("k")); ok {
		t.Fatal("expected invalidated key to miss")
	}
}
