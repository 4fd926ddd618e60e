// Package kvstore provides the TTL key-value stores backing guard buckets
// and blockages: an in-process map, Redis, and a Manager choosing between them.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// corruptReply is the error the bucket script replies with for an
// undecodable record.
const corruptReply = "kvstore corrupt bucket"

// redisBucketScript applies a leaky-bucket hit in one round trip. The decay
// formula matches guard.BucketCounter.Hit.
var redisBucketScript = redis.NewScript(`
local size = tonumber(ARGV[1])
local leak = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local hits = 0
local raw = redis.call("GET", KEYS[1])
if raw then
  local ok, bucket = pcall(cjson.decode, raw)
  if not ok or type(bucket) ~= "table" then
    return redis.error_reply("ERR kvstore corrupt bucket")
  end
  if bucket.hits and bucket.time then
    local elapsed = now - bucket.time
    if elapsed < 0 then
      elapsed = 0
    end
    hits = bucket.hits - math.floor(leak * elapsed)
    if hits < 0 then
      hits = 0
    end
  end
end
hits = hits + 1
if hits > size then
  hits = size
end
local payload = cjson.encode({hits = hits, time = now})
if ttl > 0 then
  redis.call("SET", KEYS[1], payload, "PX", ttl)
else
  redis.call("SET", KEYS[1], payload)
end
return hits
`)

// RedisStore stores JSON-encoded values in Redis with native expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("kvstore redis: not initialized")
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Fetch decodes the value at key into dst.
func (s *RedisStore) Fetch(ctx context.Context, key string, dst any) (bool, error) {
	if s == nil || s.client == nil {
		return false, errors.New("kvstore redis: not initialized")
	}
	raw, errGet := s.client.Get(ctx, key).Bytes()
	if errors.Is(errGet, redis.Nil) {
		return false, nil
	}
	if errGet != nil {
		return false, fmt.Errorf("kvstore redis: get %s: %w", key, errGet)
	}
	if errUnmarshal := json.Unmarshal(raw, dst); errUnmarshal != nil {
		return false, fmt.Errorf("kvstore redis: decode %s: %w: %w", key, ErrCorruptValue, errUnmarshal)
	}
	return true, nil
}

// Store encodes value at key; a non-positive ttl stores without expiry.
func (s *RedisStore) Store(ctx context.Context, key string, value any, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return errors.New("kvstore redis: not initialized")
	}
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("kvstore redis: encode %s: %w: %w", key, ErrCorruptValue, errMarshal)
	}
	if ttl < 0 {
		ttl = 0
	}
	if errSet := s.client.Set(ctx, key, payload, ttl).Err(); errSet != nil {
		return fmt.Errorf("kvstore redis: set %s: %w", key, errSet)
	}
	return nil
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if s == nil || s.client == nil {
		return false, errors.New("kvstore redis: not initialized")
	}
	count, errExists := s.client.Exists(ctx, key).Result()
	if errExists != nil {
		return false, fmt.Errorf("kvstore redis: exists %s: %w", key, errExists)
	}
	return count > 0, nil
}

// Purge deletes key.
func (s *RedisStore) Purge(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return errors.New("kvstore redis: not initialized")
	}
	if errDel := s.client.Del(ctx, key).Err(); errDel != nil {
		return fmt.Errorf("kvstore redis: del %s: %w", key, errDel)
	}
	return nil
}

// HitBucket applies a leaky-bucket hit atomically with a Lua script.
func (s *RedisStore) HitBucket(ctx context.Context, key string, size int, leak float64, now time.Time, ttl time.Duration) (int, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("kvstore redis: not initialized")
	}
	ttlMillis := ttl.Milliseconds()
	if ttl > 0 && ttlMillis == 0 {
		ttlMillis = 1
	}
	nowSec := float64(now.UnixNano()) / float64(time.Second)
	res, errEval := redisBucketScript.Run(ctx, s.client, []string{key},
		size,
		strconv.FormatFloat(leak, 'f', -1, 64),
		strconv.FormatFloat(nowSec, 'f', 6, 64),
		ttlMillis,
	).Result()
	if errEval != nil {
		if strings.Contains(errEval.Error(), corruptReply) {
			return 0, fmt.Errorf("kvstore redis: hit %s: %w: %w", key, ErrCorruptValue, errEval)
		}
		return 0, fmt.Errorf("kvstore redis: hit %s: %w", key, errEval)
	}
	switch v := res.(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case uint64:
		return int(v), nil
	default:
		return 0, errors.New("kvstore redis: unexpected response type")
	}
}
