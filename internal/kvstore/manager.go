package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Fallback names.
const (
	FallbackMemory = "memory"
	FallbackNone   = "none"
)

// ErrCorruptValue marks a stored value that cannot be encoded or decoded.
// It is a data problem, not a connectivity one, and never trips the breaker.
var ErrCorruptValue = errors.New("kvstore: corrupt value")

// ErrRedisUnavailable is returned while the breaker is open and no fallback is configured.
var ErrRedisUnavailable = errors.New("kvstore: redis unavailable")

// Config selects and configures the store backend.
type Config struct {
	Backend       string
	Fallback      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

type backend interface {
	Fetch(ctx context.Context, key string, dst any) (bool, error)
	Store(ctx context.Context, key string, value any, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Purge(ctx context.Context, key string) error
	HitBucket(ctx context.Context, key string, size int, leak float64, now time.Time, ttl time.Duration) (int, error)
}

// Manager routes store operations to Redis or memory. Redis failures open a
// breaker for 30s; meanwhile operations go to memory when the fallback allows
// it and fail otherwise.
type Manager struct {
	cfg            Config
	nowFn          func() time.Time
	memory         *MemoryStore
	newRedisClient RedisClientFactory
	mu             sync.Mutex
	redis          *RedisStore
	breakerUntil   time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(cfg Config, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = BackendMemory
	}
	cfg.Fallback = strings.ToLower(strings.TrimSpace(cfg.Fallback))
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackMemory
	}
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
	}
	return &Manager{
		cfg:            cfg,
		nowFn:          nowFn,
		memory:         NewMemoryStore(nowFn),
		newRedisClient: newRedisClient,
	}
}

// Backend returns the configured backend name.
func (m *Manager) Backend() string {
	return m.cfg.Backend
}

// Degraded reports whether the Redis breaker is currently open.
func (m *Manager) Degraded() bool {
	if m.cfg.Backend != BackendRedis {
		return false
	}
	return m.isBreakerActive(m.nowFn())
}

// Memory returns the in-process store used for the memory backend and fallback.
func (m *Manager) Memory() *MemoryStore {
	return m.memory
}

// Close releases the Redis client, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis == nil {
		return nil
	}
	errClose := m.redis.Close()
	m.redis = nil
	return errClose
}

// Fetch implements guard.Store.
func (m *Manager) Fetch(ctx context.Context, key string, dst any) (bool, error) {
	var found bool
	errDo := m.do(ctx, func(b backend) error {
		var errFetch error
		found, errFetch = b.Fetch(ctx, key, dst)
		return errFetch
	})
	return found, errDo
}

// Store implements guard.Store.
func (m *Manager) Store(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.do(ctx, func(b backend) error {
		return b.Store(ctx, key, value, ttl)
	})
}

// Exists implements guard.Store.
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	errDo := m.do(ctx, func(b backend) error {
		var errExists error
		exists, errExists = b.Exists(ctx, key)
		return errExists
	})
	return exists, errDo
}

// Purge implements guard.Store.
func (m *Manager) Purge(ctx context.Context, key string) error {
	return m.do(ctx, func(b backend) error {
		return b.Purge(ctx, key)
	})
}

// HitBucket implements guard.BucketHitter.
func (m *Manager) HitBucket(ctx context.Context, key string, size int, leak float64, now time.Time, ttl time.Duration) (int, error) {
	var hits int
	errDo := m.do(ctx, func(b backend) error {
		var errHit error
		hits, errHit = b.HitBucket(ctx, key, size, leak, now, ttl)
		return errHit
	})
	return hits, errDo
}

func (m *Manager) do(ctx context.Context, op func(b backend) error) error {
	if m.cfg.Backend != BackendRedis {
		return op(m.memory)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.nowFn()
	if m.isBreakerActive(now) {
		return m.fallback(op, ErrRedisUnavailable)
	}
	store, errEnsure := m.ensureRedis(ctx)
	if errEnsure != nil {
		m.tripBreaker(errEnsure, now)
		return m.fallback(op, errEnsure)
	}
	if errOp := op(store); errOp != nil {
		if errors.Is(errOp, ErrCorruptValue) || errors.Is(errOp, context.Canceled) || errors.Is(errOp, context.DeadlineExceeded) {
			return errOp
		}
		m.tripBreaker(errOp, now)
		return m.fallback(op, errOp)
	}
	return nil
}

func (m *Manager) fallback(op func(b backend) error, cause error) error {
	if m.cfg.Fallback != FallbackMemory {
		return fmt.Errorf("kvstore: redis backend: %w", cause)
	}
	return op(m.memory)
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	if m.cfg.Fallback == FallbackMemory {
		log.WithError(err).Warn("kvstore: redis unavailable, falling back to memory")
		return
	}
	log.WithError(err).Warn("kvstore: redis unavailable")
}

func (m *Manager) ensureRedis(ctx context.Context) (*RedisStore, error) {
	if m.cfg.RedisAddr == "" {
		return nil, errors.New("kvstore redis: missing address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redis != nil {
		return m.redis, nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     m.cfg.RedisAddr,
		Password: m.cfg.RedisPassword,
		DB:       m.cfg.RedisDB,
	})
	store := NewRedisStore(client)
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := store.Ping(ctxPing); errPing != nil {
		_ = store.Close()
		return nil, errPing
	}
	m.redis = store
	return m.redis, nil
}
