package kvstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

type record struct {
	Name string  `json:"name"`
	Time float64 `json:"time"`
}

func TestMemoryStore_StoreFetchExpire(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	if errStore := store.Store(ctx, "ninja:blockage:1.2.3.4", record{Name: "flood", Time: 10}, 2*time.Second); errStore != nil {
		t.Fatalf("store: %v", errStore)
	}

	var got record
	found, errFetch := store.Fetch(ctx, "ninja:blockage:1.2.3.4", &got)
	if errFetch != nil || !found {
		t.Fatalf("expected record, got found=%v err=%v", found, errFetch)
	}
	if got.Name != "flood" || got.Time != 10 {
		t.Fatalf("unexpected record %+v", got)
	}
	if ttl := store.TTL("ninja:blockage:1.2.3.4"); ttl != 2*time.Second {
		t.Fatalf("expected ttl 2s, got %v", ttl)
	}

	clock.Advance(2 * time.Second)
	exists, _ := store.Exists(ctx, "ninja:blockage:1.2.3.4")
	if exists {
		t.Fatalf("expected entry to expire")
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestMemoryStore_NoTTLNeverExpires(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	if errStore := store.Store(ctx, "k", 1, 0); errStore != nil {
		t.Fatalf("store: %v", errStore)
	}
	clock.Advance(24 * time.Hour)
	if ttl := store.TTL("k"); ttl != 0 {
		t.Fatalf("expected no expiry, got %v", ttl)
	}
	if errPurge := store.Purge(ctx, "k"); errPurge != nil {
		t.Fatalf("purge: %v", errPurge)
	}
	if ttl := store.TTL("k"); ttl >= 0 {
		t.Fatalf("expected absent key, got ttl %v", ttl)
	}
}

func TestMemoryStore_HitBucketLeaksAndClamps(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	var hits int
	for i := 0; i < 5; i++ {
		var errHit error
		hits, errHit = store.HitBucket(ctx, "b", 3, 1, clock.Now(), 6*time.Second)
		if errHit != nil {
			t.Fatalf("hit: %v", errHit)
		}
	}
	if hits != 3 {
		t.Fatalf("expected clamp at 3, got %d", hits)
	}

	clock.Advance(2500 * time.Millisecond)
	hits, _ = store.HitBucket(ctx, "b", 3, 1, clock.Now(), 6*time.Second)
	if hits != 2 {
		t.Fatalf("expected 3-2+1=2 hits, got %d", hits)
	}

	// A timestamp behind the stored one leaks nothing.
	hits, _ = store.HitBucket(ctx, "b", 3, 1, clock.Now().Add(-time.Minute), 6*time.Second)
	if hits != 3 {
		t.Fatalf("expected 3 hits after skewed write, got %d", hits)
	}
}

func TestMemoryStore_HitBucketConcurrent(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.HitBucket(ctx, "b", 100, 1, clock.Now(), time.Minute)
		}()
	}
	wg.Wait()

	var bucket bucketRecord
	if _, errFetch := store.Fetch(ctx, "b", &bucket); errFetch != nil {
		t.Fatalf("fetch: %v", errFetch)
	}
	if bucket.Hits != 50 {
		t.Fatalf("expected 50 hits without lost updates, got %d", bucket.Hits)
	}
}
