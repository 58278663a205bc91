package cache

import (
	"context"
	"errors"
	"time"
)

// TieredStore keeps a short-lived local copy in front of a shared store.
// L1 entries never live longer than l1MaxTTL, so an eviction issued on another
// instance is observed here within that bound.
type TieredStore struct {
	l1       *MemoryStore
	l2       Store
	l1MaxTTL time.Duration
}

// NewTieredStore creates a tiered store
func NewTieredStore(l1 *MemoryStore, l2 Store, l1MaxTTL time.Duration) *TieredStore {
	if l1MaxTTL <= 0 {
		l1MaxTTL = 30 * time.Second
	}
	return &TieredStore{l1: l1, l2: l2, l1MaxTTL: l1MaxTTL}
}

// Get implements Store.Get
func (t *TieredStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, found, err := t.GetTier(ctx, key)
	return value, found, err
}

// GetTier implements TierReporter, reporting "l1" or "l2"
func (t *TieredStore) GetTier(ctx context.Context, key string) ([]byte, string, bool, error) {
	if value, found, err := t.l1.Get(ctx, key); err != nil {
		return nil, "", false, err
	} else if found {
		return value, "l1", true, nil
	}

	// Taken before the L2 read so a Delete racing the backfill wins.
	l1Version, err := t.l1.Version(ctx, key)
	if err != nil {
		return nil, "", false, err
	}

	var (
		value []byte
		ttl   time.Duration
		found bool
	)
	if r, ok := t.l2.(ttlReader); ok {
		value, ttl, found, err = r.GetWithTTL(ctx, key)
	} else {
		value, found, err = t.l2.Get(ctx, key)
	}
	if err != nil || !found {
		return nil, "", false, err
	}

	_, _ = t.l1.SetIfVersion(ctx, key, l1Version, value, t.capL1(ttl))
	return value, "l2", true, nil
}

func (t *TieredStore) capL1(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > t.l1MaxTTL {
		return t.l1MaxTTL
	}
	return ttl
}

// Version implements VersionedStore using the shared tier's counter. A shared
// tier without counters reports zero, leaving only the local guard.
func (t *TieredStore) Version(ctx context.Context, key string) (Version, error) {
	if vs, ok := t.l2.(VersionedStore); ok {
		return vs.Version(ctx, key)
	}
	return 0, nil
}

// SetIfVersion implements VersionedStore. L1 is filled only when neither tier
// saw an eviction.
func (t *TieredStore) SetIfVersion(ctx context.Context, key string, version Version, value []byte, ttl time.Duration) (bool, error) {
	l1Version, err := t.l1.Version(ctx, key)
	if err != nil {
		return false, err
	}

	if vs, ok := t.l2.(VersionedStore); ok {
		stored, err := vs.SetIfVersion(ctx, key, version, value, ttl)
		if err != nil || !stored {
			return false, err
		}
	} else if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		return false, err
	}

	return t.l1.SetIfVersion(ctx, key, l1Version, value, t.capL1(ttl))
}

// Set implements Store.Set. The shared tier is written first; on failure L1 is left untouched.
func (t *TieredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}

	return t.l1.Set(ctx, key, value, t.capL1(ttl))
}

// Delete implements Store.Delete. L1 is always cleared even when the shared tier fails.
func (t *TieredStore) Delete(ctx context.Context, keys ...string) error {
	l2Err := t.l2.Delete(ctx, keys...)
	l1Err := t.l1.Delete(ctx, keys...)
	return errors.Join(l2Err, l1Err)
}
