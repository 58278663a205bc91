package cache

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidKey is returned for empty keys
var ErrInvalidKey = errors.New("cache key is required")

// Store is a key/value cache with per-key TTL
type Store interface {
	// Get returns found=false on a miss. Errors mean the backend could not answer.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Version counts the evictions of one key. Every Delete advances it.
type Version uint64

// VersionedStore lets a fill land only when no eviction happened since the
// filler read the key's version. A value loaded before an eviction therefore
// cannot be written back after it.
type VersionedStore interface {
	Store
	Version(ctx context.Context, key string) (Version, error)
	// SetIfVersion writes value only when the key's version still equals version.
	// stored=false with a nil error means an eviction won.
	SetIfVersion(ctx context.Context, key string, version Version, value []byte, ttl time.Duration) (stored bool, err error)
}

// versionTTL bounds how long a shared version counter outlives its last eviction.
// It must stay far above any load timeout.
const versionTTL = 15 * time.Minute

// TierReporter is implemented by stores that can name the tier serving a hit
type TierReporter interface {
	GetTier(ctx context.Context, key string) (value []byte, tier string, found bool, err error)
}

// ttlReader is implemented by stores that can report a key's remaining TTL
type ttlReader interface {
	GetWithTTL(ctx context.Context, key string) (value []byte, ttl time.Duration, found bool, err error)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
