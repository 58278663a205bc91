package grant

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/assetgate/pkg/entitlement"
)

var (
	// ErrInvalidHandle is returned for an empty storage handle
	ErrInvalidHandle = errors.New("storage handle is required")
	// ErrInvalidTTL is returned for a non-positive TTL
	ErrInvalidTTL = errors.New("grant ttl must be positive")
)

// Minter issues time-bounded retrieval credentials
type Minter interface {
	MintGrant(ctx context.Context, storageHandle string, ttl time.Duration) (*entitlement.AccessGrant, error)
}

func validate(storageHandle string, ttl time.Duration) error {
	if storageHandle == "" {
		return ErrInvalidHandle
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
