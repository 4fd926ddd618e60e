package guard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/router-for-me/hazardguard/internal/guard"
	"github.com/router-for-me/hazardguard/internal/kvstore"
)

func TestBucket_LeakNeverNegative(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket := guard.Bucket{Hits: 4, Time: float64(start.Unix())}

	if got := bucket.Leak(1, start.Add(time.Hour)).Hits; got != 0 {
		t.Fatalf("expected empty bucket, got %d", got)
	}
	if got := bucket.Leak(1, start.Add(-time.Hour)).Hits; got != 4 {
		t.Fatalf("expected no leak for negative elapsed, got %d", got)
	}
	if got := bucket.Leak(0.5, start.Add(3*time.Second)).Hits; got != 3 {
		t.Fatalf("expected floor(1.5)=1 leaked, got %d", got)
	}
}

func TestBucketCounter_CapAndDecay(t *testing.T) {
	c := newClock()
	store := kvstore.NewMemoryStore(c.Now)
	counter := guard.NewBucketCounter(store, guard.KeyBuilder{Prefix: "test"}, false)
	hazard := guard.Hazard{Name: "flood", Type: guard.HazardThrottle, Rule: always,
		Options: guard.Options{BucketSize: 4, BucketLeak: 2}}
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		hits, errHit := counter.Hit(ctx, hazard, "1.2.3.4", c.Now())
		if errHit != nil {
			t.Fatalf("hit: %v", errHit)
		}
		want := i
		if want > 4 {
			want = 4
		}
		if hits != want {
			t.Fatalf("hit %d: expected %d, got %d", i, want, hits)
		}
	}

	bucket, found, errPeek := counter.Peek(ctx, hazard, "1.2.3.4")
	if errPeek != nil || !found {
		t.Fatalf("expected bucket, got found=%v err=%v", found, errPeek)
	}
	if !bucket.LastUpdate().Equal(c.Now()) {
		t.Fatalf("expected last update %v, got %v", c.Now(), bucket.LastUpdate())
	}
	if ttl := store.TTL("test:flood:1.2.3.4"); ttl != 4*time.Second {
		t.Fatalf("expected bucket ttl 4s, got %v", ttl)
	}

	previous := 4
	for i := 0; i < 3; i++ {
		c.Advance(time.Second)
		leaked := bucket.Leak(hazard.BucketLeak, c.Now()).Hits
		if leaked > previous {
			t.Fatalf("decay must be monotonic, %d > %d", leaked, previous)
		}
		previous = leaked
	}
	if previous != 0 {
		t.Fatalf("expected bucket drained after 3s, got %d", previous)
	}
}

func TestBucketCounter_FullDecayThroughHit(t *testing.T) {
	for _, atomicBuckets := range []bool{false, true} {
		c := newClock()
		store := kvstore.NewMemoryStore(c.Now)
		counter := guard.NewBucketCounter(store, guard.KeyBuilder{}, atomicBuckets)
		hazard := guard.Hazard{Name: "flood", Type: guard.HazardThrottle, Rule: always,
			Options: guard.Options{BucketSize: 4, BucketLeak: 2}}
		ctx := context.Background()

		for i := 0; i < 4; i++ {
			if _, errHit := counter.Hit(ctx, hazard, "1.2.3.4", c.Now()); errHit != nil {
				t.Fatalf("hit: %v", errHit)
			}
		}
		// size/leak seconds drains the bucket completely.
		c.Advance(2 * time.Second)
		hits, errHit := counter.Hit(ctx, hazard, "1.2.3.4", c.Now())
		if errHit != nil {
			t.Fatalf("hit: %v", errHit)
		}
		if hits != 1 {
			t.Fatalf("atomic=%v: expected 1 hit after full decay, got %d", atomicBuckets, hits)
		}
	}
}

func TestBlockageStore_BlockLiftAndMissingTimeout(t *testing.T) {
	c := newClock()
	store := kvstore.NewMemoryStore(c.Now)
	blockages := guard.NewBlockageStore(store, guard.KeyBuilder{})
	registry := guard.NewRegistry()
	scanner := guard.Hazard{Name: "scanner", Type: guard.HazardAttack, Rule: always,
		Options: guard.Options{BucketSize: 1, BucketLeak: 1, Timeout: 10 * time.Second}}
	if errRegister := registry.Register(scanner); errRegister != nil {
		t.Fatalf("register: %v", errRegister)
	}
	ctx := context.Background()

	errBlock := blockages.Block(ctx, "1.2.3.4", guard.Hazard{Name: "noisy", Type: guard.HazardThrottle}, c.Now())
	var missing *guard.MissingTimeoutError
	if !errors.As(errBlock, &missing) {
		t.Fatalf("expected MissingTimeoutError, got %v", errBlock)
	}

	if errBlock = blockages.Block(ctx, "1.2.3.4", scanner, c.Now()); errBlock != nil {
		t.Fatalf("block: %v", errBlock)
	}
	blockage, blocked, errBlocked := blockages.IsBlocked(ctx, "1.2.3.4", c.Now(), registry)
	if errBlocked != nil || !blocked || blockage.Name != "scanner" {
		t.Fatalf("expected scanner blockage, got %+v blocked=%v err=%v", blockage, blocked, errBlocked)
	}
	if want := c.Now().Add(10 * time.Second); !blockage.ExpiresAt(scanner.Timeout).Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, blockage.ExpiresAt(scanner.Timeout))
	}

	if errLift := blockages.Lift(ctx, "1.2.3.4"); errLift != nil {
		t.Fatalf("lift: %v", errLift)
	}
	if _, blocked, _ = blockages.IsBlocked(ctx, "1.2.3.4", c.Now(), registry); blocked {
		t.Fatalf("expected lifted blockage")
	}
}
