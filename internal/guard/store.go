package guard

import (
	"context"
	"strings"
	"time"
)

// DefaultKeyPrefix namespaces bucket and blockage keys.
const DefaultKeyPrefix = "ninja"

// Store is the key-value service holding buckets and blockages.
type Store interface {
	// Fetch decodes the value at key into dst and reports whether it existed.
	Fetch(ctx context.Context, key string, dst any) (bool, error)
	// Store writes value at key. A non-positive ttl means no expiry.
	Store(ctx context.Context, key string, value any, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Purge(ctx context.Context, key string) error
}

// BucketHitter is implemented by stores that can apply a leaky-bucket hit
// atomically. The decay formula must match BucketCounter.Hit.
type BucketHitter interface {
	HitBucket(ctx context.Context, key string, size int, leak float64, now time.Time, ttl time.Duration) (int, error)
}

// KeyBuilder derives store keys for a client.
type KeyBuilder struct {
	Prefix string
}

func (k KeyBuilder) prefix() string {
	prefix := strings.TrimSpace(k.Prefix)
	if prefix == "" {
		return DefaultKeyPrefix
	}
	return prefix
}

// Bucket returns the bucket key for a hazard and client.
func (k KeyBuilder) Bucket(hazard, clientKey string) string {
	return k.prefix() + ":" + hazard + ":" + clientKey
}

// Blockage returns the blockage key for a client.
func (k KeyBuilder) Blockage(clientKey string) string {
	return k.prefix() + ":blockage:" + clientKey
}

// unixSeconds converts t to fractional unix seconds.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// fromUnixSeconds converts fractional unix seconds to a time.
func fromUnixSeconds(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}
