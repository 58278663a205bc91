package authz

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/assetgate/pkg/cache"
	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

// PermissionResolver establishes that an account holds an unexpired
// entitlement for a category. It does not look at payment.
type PermissionResolver struct {
	store             storage.Store
	loader            *cache.Loader
	distinguishExpiry bool
	now               func() time.Time
}

// NewPermissionResolver creates a permission resolver. With distinguishExpiry
// an expired permission is reported as PermissionExpired.
func NewPermissionResolver(store storage.Store, loader *cache.Loader, distinguishExpiry bool) *PermissionResolver {
	return &PermissionResolver{
		store:             store,
		loader:            loader,
		distinguishExpiry: distinguishExpiry,
		now:               time.Now,
	}
}

// Resolve returns the active permission for (accountID, category).
// Absence and expiry both deny; Detail.ExpiredAt tells them apart.
func (r *PermissionResolver) Resolve(ctx context.Context, accountID string, category *entitlement.ResourceCategory) (*entitlement.CategoryPermission, *Error) {
	perm, err := cache.Fetch(ctx, r.loader, cache.PermissionKey(accountID, category.ID), func(ctx context.Context) (*entitlement.CategoryPermission, error) {
		return r.store.GetCategoryPermission(ctx, accountID, category.ID)
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, newError(KindNoPermission, Detail{
			Reason:       "no entitlement for category",
			CategoryName: category.Name,
		}, nil)
	case err != nil:
		return nil, unavailable("permission lookup failed", err)
	}

	if !perm.IsActive(r.now()) {
		kind := KindNoPermission
		if r.distinguishExpiry {
			kind = KindPermissionExpired
		}
		return nil, newError(kind, Detail{
			Reason:       "entitlement for category has expired",
			CategoryName: category.Name,
			ExpiredAt:    perm.ExpiresAt,
		}, nil)
	}
	return perm, nil
}
