package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/grant"
	"github.com/platinummonkey/assetgate/pkg/observability"
)

// GrantIssuer shapes grant requests for the minter and translates its failures
type GrantIssuer struct {
	minter     grant.Minter
	defaultTTL time.Duration
	maxTTL     time.Duration
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewGrantIssuer creates a grant issuer
func NewGrantIssuer(minter grant.Minter, defaultTTL, maxTTL time.Duration, metrics *observability.Metrics) *GrantIssuer {
	return &GrantIssuer{
		minter:     minter,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		metrics:    metrics,
		now:        time.Now,
	}
}

// TTL clamps a requested lifetime into (0, maxTTL]
func (g *GrantIssuer) TTL(requested time.Duration) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = g.defaultTTL
	}
	if g.maxTTL > 0 && ttl > g.maxTTL {
		ttl = g.maxTTL
	}
	return ttl
}

// Issue mints a grant for the resource's storage handle
func (g *GrantIssuer) Issue(ctx context.Context, resource *entitlement.Resource, requested time.Duration) (*entitlement.AccessGrant, *Error) {
	if resource.StorageHandle == "" {
		return nil, newError(KindGrantIssuanceFailed, Detail{Reason: "resource has no storage handle"}, nil)
	}

	issued, err := g.minter.MintGrant(ctx, resource.StorageHandle, g.TTL(requested))
	if err != nil {
		return nil, newError(KindGrantIssuanceFailed, Detail{Reason: "grant could not be issued"}, err)
	}
	if issued == nil || issued.URL == "" {
		return nil, newError(KindGrantIssuanceFailed, Detail{Reason: "grant could not be issued"}, fmt.Errorf("minter returned an empty grant"))
	}
	if !issued.ExpiresAt.After(g.now()) {
		return nil, newError(KindGrantIssuanceFailed, Detail{Reason: "grant could not be issued"}, fmt.Errorf("minter returned a grant expiring at %s", issued.ExpiresAt))
	}

	g.metrics.GrantIssued()
	return issued, nil
}
