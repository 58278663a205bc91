package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process LRU with per-entry expiry.
// maxTTL caps every entry regardless of the TTL passed to Set.
type MemoryStore struct {
	cache  *lru.LRU[string, memoryEntry]
	maxTTL time.Duration
	now    func() time.Time

	// mu orders Delete against SetIfVersion. Keys whose counter was dropped
	// from versions report floor, which only grows.
	mu       sync.Mutex
	versions *lru.LRU[string, Version]
	clock    uint64
	floor    atomic.Uint64

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports hit and miss counts
type Stats struct {
	Hits      int64
	Misses    int64
	ItemCount int64
	HitRate   float64
}

// NewMemoryStore creates a memory store holding at most maxEntries.
// A zero maxTTL leaves TTL entirely to the callers.
func NewMemoryStore(maxEntries int, maxTTL time.Duration) *MemoryStore {
	if maxEntries < 10 {
		maxEntries = 10
	}

	m := &MemoryStore{
		cache:  lru.NewLRU[string, memoryEntry](maxEntries, nil, maxTTL),
		maxTTL: maxTTL,
		now:    time.Now,
	}
	m.versions = lru.NewLRU[string, Version](maxEntries, func(_ string, v Version) {
		m.raiseFloor(uint64(v))
	}, versionTTL)
	return m
}

func (m *MemoryStore) raiseFloor(v uint64) {
	for {
		cur := m.floor.Load()
		if v <= cur || m.floor.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Get implements Store.Get
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, found, err := m.GetWithTTL(ctx, key)
	return value, found, err
}

// GetTier implements TierReporter
func (m *MemoryStore) GetTier(ctx context.Context, key string) ([]byte, string, bool, error) {
	value, found, err := m.Get(ctx, key)
	return value, "memory", found, err
}

// GetWithTTL returns the value and how long it has left
func (m *MemoryStore) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	if key == "" {
		return nil, 0, false, ErrInvalidKey
	}

	entry, ok := m.cache.Get(key)
	if !ok {
		m.misses.Add(1)
		return nil, 0, false, nil
	}

	remaining := entry.expiresAt.Sub(m.now())
	if remaining <= 0 {
		m.cache.Remove(key)
		m.misses.Add(1)
		return nil, 0, false, nil
	}

	m.hits.Add(1)
	return cloneBytes(entry.value), remaining, true, nil
}

// Set implements Store.Set. A non-positive ttl means maxTTL.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.add(key, value, ttl)
	return nil
}

func (m *MemoryStore) add(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 || (m.maxTTL > 0 && ttl > m.maxTTL) {
		ttl = m.maxTTL
	}
	if ttl <= 0 {
		// Neither caller nor store bounds the entry; do not cache it.
		return
	}
	m.cache.Add(key, memoryEntry{value: cloneBytes(value), expiresAt: m.now().Add(ttl)})
}

// Version implements VersionedStore
func (m *MemoryStore) Version(ctx context.Context, key string) (Version, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versionLocked(key), nil
}

func (m *MemoryStore) versionLocked(key string) Version {
	if v, ok := m.versions.Get(key); ok {
		return v
	}
	return Version(m.floor.Load())
}

// SetIfVersion implements VersionedStore
func (m *MemoryStore) SetIfVersion(ctx context.Context, key string, version Version, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versionLocked(key) != version {
		return false, nil
	}
	m.add(key, value, ttl)
	return true, nil
}

// Delete implements Store.Delete and advances each key's version
func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		m.clock++
		m.versions.Add(key, Version(m.clock))
		m.cache.Remove(key)
	}
	return nil
}

// Stats returns cache statistics
func (m *MemoryStore) Stats() Stats {
	stats := Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		ItemCount: int64(m.cache.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Purge drops every entry. Fills that started before it are rejected.
func (m *MemoryStore) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions.Purge()
	m.clock++
	m.raiseFloor(m.clock)
	m.cache.Purge()
}
