package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero = never expires
}

// MemoryStore is an in-process key-value store with per-entry TTL.
// Expired entries are dropped lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	nowFn   func() time.Time
	entries map[string]*memoryEntry
}

// NewMemoryStore constructs a MemoryStore using nowFn as its clock.
func NewMemoryStore(nowFn func() time.Time) *MemoryStore {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryStore{
		nowFn:   nowFn,
		entries: make(map[string]*memoryEntry),
	}
}

// Fetch decodes the value at key into dst.
func (s *MemoryStore) Fetch(_ context.Context, key string, dst any) (bool, error) {
	s.mu.Lock()
	entry := s.liveLocked(key)
	var payload []byte
	if entry != nil {
		payload = entry.value
	}
	s.mu.Unlock()
	if payload == nil {
		return false, nil
	}
	if errUnmarshal := json.Unmarshal(payload, dst); errUnmarshal != nil {
		return false, fmt.Errorf("kvstore: decode %s: %w: %w", key, ErrCorruptValue, errUnmarshal)
	}
	return true, nil
}

// Store encodes value at key with the given TTL.
func (s *MemoryStore) Store(_ context.Context, key string, value any, ttl time.Duration) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("kvstore: encode %s: %w: %w", key, ErrCorruptValue, errMarshal)
	}
	s.mu.Lock()
	s.entries[key] = &memoryEntry{value: payload, expiresAt: s.expiryLocked(ttl)}
	s.mu.Unlock()
	return nil
}

// Exists reports whether a live entry is stored at key.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(key) != nil, nil
}

// Purge deletes the entry at key.
func (s *MemoryStore) Purge(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// TTL returns the remaining lifetime of key; negative when absent, zero when
// the entry never expires.
func (s *MemoryStore) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.liveLocked(key)
	if entry == nil {
		return -1
	}
	if entry.expiresAt.IsZero() {
		return 0
	}
	return entry.expiresAt.Sub(s.nowFn())
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for key := range s.entries {
		if s.liveLocked(key) != nil {
			count++
		}
	}
	return count
}

// HitBucket applies a leaky-bucket hit atomically under the store lock.
func (s *MemoryStore) HitBucket(_ context.Context, key string, size int, leak float64, now time.Time, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowSec := float64(now.UnixNano()) / float64(time.Second)
	bucket := bucketRecord{Hits: 0, Time: nowSec}
	if entry := s.liveLocked(key); entry != nil {
		var stored bucketRecord
		if errUnmarshal := json.Unmarshal(entry.value, &stored); errUnmarshal != nil {
			return 0, fmt.Errorf("kvstore: decode %s: %w: %w", key, ErrCorruptValue, errUnmarshal)
		}
		elapsed := nowSec - stored.Time
		if elapsed < 0 {
			elapsed = 0
		}
		bucket.Hits = stored.Hits - int(math.Floor(leak*elapsed))
		if bucket.Hits < 0 {
			bucket.Hits = 0
		}
	}
	bucket.Hits++
	if bucket.Hits > size {
		bucket.Hits = size
	}

	payload, errMarshal := json.Marshal(bucket)
	if errMarshal != nil {
		return 0, fmt.Errorf("kvstore: encode %s: %w: %w", key, ErrCorruptValue, errMarshal)
	}
	s.entries[key] = &memoryEntry{value: payload, expiresAt: s.expiryLocked(ttl)}
	return bucket.Hits, nil
}

func (s *MemoryStore) liveLocked(key string) *memoryEntry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !entry.expiresAt.IsZero() && !s.nowFn().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return entry
}

func (s *MemoryStore) expiryLocked(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.nowFn().Add(ttl)
}

// bucketRecord mirrors the bucket wire shape used by the guard engine.
type bucketRecord struct {
	Hits int     `json:"hits"`
	Time float64 `json:"time"`
}
