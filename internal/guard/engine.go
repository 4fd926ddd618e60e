package guard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// ClientKeyFunc derives the client identity from a request.
type ClientKeyFunc func(r *http.Request) string

// RemoteAddrKey uses the host part of the request's RemoteAddr.
func RemoteAddrKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, errSplit := net.SplitHostPort(r.RemoteAddr)
	if errSplit != nil {
		return r.RemoteAddr
	}
	return host
}

// EngineOptions configures an Engine. Zero values select defaults.
type EngineOptions struct {
	Store         Store
	KeyPrefix     string
	ClientKey     ClientKeyFunc
	Now           func() time.Time
	AtomicBuckets bool
}

// Engine runs one evaluation pass per request. It owns the current registry
// and the store handle; construct one per process and share it.
type Engine struct {
	registry  atomic.Pointer[Registry]
	counter   *BucketCounter
	blockages *BlockageStore
	clientKey ClientKeyFunc
	nowFn     func() time.Time
}

// NewEngine constructs an Engine evaluating the hazards of registry.
func NewEngine(registry *Registry, opts EngineOptions) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("guard: store is required")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.ClientKey == nil {
		opts.ClientKey = RemoteAddrKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	keys := KeyBuilder{Prefix: opts.KeyPrefix}
	e := &Engine{
		counter:   NewBucketCounter(opts.Store, keys, opts.AtomicBuckets),
		blockages: NewBlockageStore(opts.Store, keys),
		clientKey: opts.ClientKey,
		nowFn:     opts.Now,
	}
	e.registry.Store(registry)
	return e, nil
}

// Registry returns the registry currently evaluated.
func (e *Engine) Registry() *Registry {
	return e.registry.Load()
}

// SetRegistry swaps the evaluated registry. In-flight evaluations finish
// against the registry they started with.
func (e *Engine) SetRegistry(registry *Registry) {
	if registry == nil {
		registry = NewRegistry()
	}
	e.registry.Store(registry)
}

// Blockages exposes the blockage store for inspection and lifting.
func (e *Engine) Blockages() *BlockageStore {
	return e.blockages
}

// Buckets exposes the bucket counter for inspection.
func (e *Engine) Buckets() *BucketCounter {
	return e.counter
}

// ClientKey returns the client identity used for r.
func (e *Engine) ClientKey(r *http.Request) string {
	return e.clientKey(r)
}

// Evaluate decides the disposition of r. The blockage check, the hazard loop
// and the bucket/blockage writes run strictly in that order, and nothing is
// evaluated after the first terminal deflect.
func (e *Engine) Evaluate(ctx context.Context, r *http.Request) (Disposition, error) {
	registry := e.registry.Load()
	clientKey := e.clientKey(r)
	now := e.nowFn()

	blockage, blocked, errBlocked := e.blockages.IsBlocked(ctx, clientKey, now, registry)
	if errBlocked != nil {
		return Disposition{}, errBlocked
	}
	if blocked {
		hazard, _ := registry.Lookup(blockage.Name)
		// A whitelist deflect never rejects; evaluation carries on.
		if hazard.Type != HazardWhitelist {
			return Blocked(hazard.Name, hazard.Type), nil
		}
	}

	for _, hazard := range registry.All() {
		if !hazard.Rule(r) {
			continue
		}

		if hazard.Type == HazardWhitelist {
			return Allow(), nil
		}
		if hazard.Type == HazardBlacklist {
			return deflect(hazard, false), nil
		}

		if hazard.HasBucket() {
			hits, errHit := e.counter.Hit(ctx, hazard, clientKey, now)
			if errHit != nil {
				return Disposition{}, errHit
			}
			if hits != hazard.BucketSize {
				continue
			}
			if hazard.CanBlock() {
				if errBlock := e.blockages.Block(ctx, clientKey, hazard, now); errBlock != nil {
					return Disposition{}, errBlock
				}
				log.WithFields(log.Fields{
					"client":  clientKey,
					"hazard":  hazard.Name,
					"type":    hazard.Type,
					"timeout": hazard.Timeout.String(),
				}).Info("guard: client blocked")
				return deflect(hazard, true), nil
			}
			return deflect(hazard, false), nil
		}
	}
	return Allow(), nil
}
