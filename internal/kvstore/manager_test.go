package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func unreachableRedis(calls *int) RedisClientFactory {
	return func(options *redis.Options) *redis.Client {
		*calls++
		options.Addr = "127.0.0.1:1"
		options.DialTimeout = 50 * time.Millisecond
		options.MaxRetries = -1
		return redis.NewClient(options)
	}
}

func TestManager_MemoryBackend(t *testing.T) {
	clock := newClock()
	manager := NewManager(Config{}, clock.Now, nil)
	ctx := context.Background()

	if manager.Backend() != BackendMemory {
		t.Fatalf("expected memory backend, got %q", manager.Backend())
	}
	if errStore := manager.Store(ctx, "k", "v", time.Minute); errStore != nil {
		t.Fatalf("store: %v", errStore)
	}
	var got string
	found, errFetch := manager.Fetch(ctx, "k", &got)
	if errFetch != nil || !found || got != "v" {
		t.Fatalf("expected v, got %q found=%v err=%v", got, found, errFetch)
	}
	if manager.Degraded() {
		t.Fatalf("memory backend must never be degraded")
	}
}

func TestManager_RedisFallbackToMemory(t *testing.T) {
	clock := newClock()
	calls := 0
	manager := NewManager(Config{
		Backend:   BackendRedis,
		Fallback:  FallbackMemory,
		RedisAddr: "redis:6379",
	}, clock.Now, unreachableRedis(&calls))
	ctx := context.Background()

	hits, errHit := manager.HitBucket(ctx, "b", 3, 1, clock.Now(), time.Minute)
	if errHit != nil {
		t.Fatalf("expected memory fallback, got %v", errHit)
	}
	if hits != 1 {
		t.Fatalf("expected 1 hit, got %d", hits)
	}
	if !manager.Degraded() {
		t.Fatalf("expected breaker to be open")
	}

	if _, errHit = manager.HitBucket(ctx, "b", 3, 1, clock.Now(), time.Minute); errHit != nil {
		t.Fatalf("hit: %v", errHit)
	}
	if calls != 1 {
		t.Fatalf("expected breaker to skip redis, got %d dials", calls)
	}

	clock.Advance(redisBreakerDuration)
	_, _ = manager.Exists(ctx, "b")
	if calls != 2 {
		t.Fatalf("expected redis retry after breaker, got %d dials", calls)
	}
}

func TestManager_RedisWithoutFallbackFails(t *testing.T) {
	clock := newClock()
	calls := 0
	manager := NewManager(Config{
		Backend:   BackendRedis,
		Fallback:  FallbackNone,
		RedisAddr: "redis:6379",
	}, clock.Now, unreachableRedis(&calls))
	ctx := context.Background()

	if _, errExists := manager.Exists(ctx, "k"); errExists == nil {
		t.Fatalf("expected error without fallback")
	}
	_, errExists := manager.Exists(ctx, "k")
	if !errors.Is(errExists, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable while breaker is open, got %v", errExists)
	}
}

func TestManager_MissingRedisAddress(t *testing.T) {
	clock := newClock()
	manager := NewManager(Config{Backend: BackendRedis, Fallback: FallbackNone}, clock.Now, nil)
	if errStore := manager.Store(context.Background(), "k", 1, 0); errStore == nil {
		t.Fatalf("expected missing address error")
	}
}
