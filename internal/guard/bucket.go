package guard

import (
	"context"
	"math"
	"time"
)

// Bucket is the persisted leaky-bucket state for a hazard and client.
type Bucket struct {
	Hits int     `json:"hits"`
	Time float64 `json:"time"` // Last update, fractional unix seconds.
}

// LastUpdate returns the bucket's last write time.
func (b Bucket) LastUpdate() time.Time {
	return fromUnixSeconds(b.Time)
}

// Leak applies the decay for the time elapsed since the last update.
// Elapsed time below zero (clock skew between writers) leaks nothing.
func (b Bucket) Leak(leak float64, now time.Time) Bucket {
	elapsed := unixSeconds(now) - b.Time
	if elapsed < 0 {
		elapsed = 0
	}
	leakage := int(math.Floor(leak * elapsed))
	b.Hits -= leakage
	if b.Hits < 0 {
		b.Hits = 0
	}
	return b
}

// BucketCounter counts hazard hits per client with time-proportional decay.
//
// The generic path is a read-modify-write cycle without a transaction:
// concurrent hits from one client can lose updates and under-count. Keys are
// client scoped, so a race never blocks a different client. Setting Atomic
// routes hits through stores implementing BucketHitter instead.
type BucketCounter struct {
	store  Store
	keys   KeyBuilder
	atomic bool
}

// NewBucketCounter constructs a BucketCounter.
func NewBucketCounter(store Store, keys KeyBuilder, atomic bool) *BucketCounter {
	return &BucketCounter{store: store, keys: keys, atomic: atomic}
}

// Hit records one hit for the client and returns the resulting hit count,
// which never exceeds the hazard's bucket size.
func (c *BucketCounter) Hit(ctx context.Context, hazard Hazard, clientKey string, now time.Time) (int, error) {
	key := c.keys.Bucket(hazard.Name, clientKey)
	ttl := hazard.BucketTTL()

	if c.atomic {
		if hitter, ok := c.store.(BucketHitter); ok {
			hits, errHit := hitter.HitBucket(ctx, key, hazard.BucketSize, hazard.BucketLeak, now, ttl)
			if errHit != nil {
				return 0, storeErr("hit", key, errHit)
			}
			return hits, nil
		}
	}

	bucket := Bucket{Hits: 0, Time: unixSeconds(now)}
	var stored Bucket
	found, errFetch := c.store.Fetch(ctx, key, &stored)
	if errFetch != nil {
		return 0, storeErr("fetch", key, errFetch)
	}
	if found {
		bucket = stored.Leak(hazard.BucketLeak, now)
	}

	bucket.Time = unixSeconds(now)
	bucket.Hits++
	if bucket.Hits > hazard.BucketSize {
		bucket.Hits = hazard.BucketSize
	}

	if errStore := c.store.Store(ctx, key, bucket, ttl); errStore != nil {
		return 0, storeErr("store", key, errStore)
	}
	return bucket.Hits, nil
}

// Peek returns the stored bucket for the client without decaying it.
func (c *BucketCounter) Peek(ctx context.Context, hazard Hazard, clientKey string) (Bucket, bool, error) {
	key := c.keys.Bucket(hazard.Name, clientKey)
	var bucket Bucket
	found, errFetch := c.store.Fetch(ctx, key, &bucket)
	if errFetch != nil {
		return Bucket{}, false, storeErr("fetch", key, errFetch)
	}
	return bucket, found, nil
}
