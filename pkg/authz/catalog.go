package authz

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/assetgate/pkg/cache"
	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

// CatalogResolver loads a resource together with its category
type CatalogResolver struct {
	store  storage.Store
	loader *cache.Loader
}

// NewCatalogResolver creates a catalog resolver
func NewCatalogResolver(store storage.Store, loader *cache.Loader) *CatalogResolver {
	return &CatalogResolver{store: store, loader: loader}
}

// Resolve returns the resource and its category. An unknown resource is
// NoPermission with a 404 hint; an orphaned one fails closed.
func (c *CatalogResolver) Resolve(ctx context.Context, resourceID string) (*entitlement.Resource, *entitlement.ResourceCategory, *Error) {
	if resourceID == "" {
		return nil, nil, notFound()
	}

	resource, err := cache.Fetch(ctx, c.loader, cache.ResourceKey(resourceID), func(ctx context.Context) (*entitlement.Resource, error) {
		return c.store.GetResource(ctx, resourceID)
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil, notFound()
	case err != nil:
		return nil, nil, unavailable("resource lookup failed", err)
	}

	if resource.CategoryID == "" {
		return nil, nil, unavailable("resource has no category", nil)
	}
	category, err := cache.Fetch(ctx, c.loader, cache.CategoryKey(resource.CategoryID), func(ctx context.Context) (*entitlement.ResourceCategory, error) {
		return c.store.GetCategory(ctx, resource.CategoryID)
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil, unavailable("resource category missing", nil)
	case err != nil:
		return nil, nil, unavailable("category lookup failed", err)
	}

	return resource, category, nil
}

func notFound() *Error {
	e := denied(KindNoPermission, "resource not found")
	e.HTTPStatusHint = http.StatusNotFound
	return e
}

func metadataFor(r *entitlement.Resource, c *entitlement.ResourceCategory) *ResourceMetadata {
	return &ResourceMetadata{
		ID:           r.ID,
		Name:         r.Name,
		Kind:         r.Kind,
		ContentType:  r.ContentType,
		SizeBytes:    r.SizeBytes,
		CategoryName: c.Name,
		Premium:      c.IsPremium,
	}
}
