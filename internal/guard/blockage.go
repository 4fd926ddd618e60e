package guard

import (
	"context"
	"time"
)

// Blockage is the persisted deny record for a client.
type Blockage struct {
	Name string  `json:"name"` // Hazard that caused the block.
	Time float64 `json:"time"` // Block time, fractional unix seconds.
}

// BlockedAt returns the time the blockage was created.
func (b Blockage) BlockedAt() time.Time {
	return fromUnixSeconds(b.Time)
}

// ExpiresAt returns the logical expiry for the given timeout.
func (b Blockage) ExpiresAt(timeout time.Duration) time.Time {
	return b.BlockedAt().Add(timeout)
}

// BlockageStore keeps at most one active blockage per client. Expiry is
// checked lazily on the client's next request; there is no sweeper.
type BlockageStore struct {
	store Store
	keys  KeyBuilder
}

// NewBlockageStore constructs a BlockageStore.
func NewBlockageStore(store Store, keys KeyBuilder) *BlockageStore {
	return &BlockageStore{store: store, keys: keys}
}

// IsBlocked returns the client's active blockage. An expired blockage, or
// one whose hazard is no longer registered, is purged and reported as absent.
func (s *BlockageStore) IsBlocked(ctx context.Context, clientKey string, now time.Time, registry *Registry) (Blockage, bool, error) {
	key := s.keys.Blockage(clientKey)

	exists, errExists := s.store.Exists(ctx, key)
	if errExists != nil {
		return Blockage{}, false, storeErr("exists", key, errExists)
	}
	if !exists {
		return Blockage{}, false, nil
	}

	var blockage Blockage
	found, errFetch := s.store.Fetch(ctx, key, &blockage)
	if errFetch != nil {
		return Blockage{}, false, storeErr("fetch", key, errFetch)
	}
	if !found {
		return Blockage{}, false, nil
	}

	hazard, registered := registry.Lookup(blockage.Name)
	if !registered || !now.Before(blockage.ExpiresAt(hazard.Timeout)) {
		if errPurge := s.store.Purge(ctx, key); errPurge != nil {
			return Blockage{}, false, storeErr("purge", key, errPurge)
		}
		return Blockage{}, false, nil
	}
	return blockage, true, nil
}

// Block records a blockage for the client caused by hazard.
func (s *BlockageStore) Block(ctx context.Context, clientKey string, hazard Hazard, now time.Time) error {
	if hazard.Timeout <= 0 {
		return &MissingTimeoutError{Hazard: hazard.Name}
	}
	key := s.keys.Blockage(clientKey)
	blockage := Blockage{Name: hazard.Name, Time: unixSeconds(now)}
	if errStore := s.store.Store(ctx, key, blockage, hazard.BlockageTTL()); errStore != nil {
		return storeErr("store", key, errStore)
	}
	return nil
}

// Lift removes the client's blockage regardless of expiry.
func (s *BlockageStore) Lift(ctx context.Context, clientKey string) error {
	key := s.keys.Blockage(clientKey)
	if errPurge := s.store.Purge(ctx, key); errPurge != nil {
		return storeErr("purge", key, errPurge)
	}
	return nil
}

// Peek returns the stored blockage without checking expiry.
func (s *BlockageStore) Peek(ctx context.Context, clientKey string) (Blockage, bool, error) {
	key := s.keys.Blockage(clientKey)
	var blockage Blockage
	found, errFetch := s.store.Fetch(ctx, key, &blockage)
	if errFetch != nil {
		return Blockage{}, false, storeErr("fetch", key, errFetch)
	}
	return blockage, found, nil
}
