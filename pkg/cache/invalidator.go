package cache

import (
	"context"
	"fmt"
)

// Invalidator evicts the keys an administrative mutation affects.
// With a nil store and no loader every method is a no-op.
type Invalidator struct {
	store  Store
	loader *Loader
}

// NewInvalidator creates an invalidator over the given store. Prefer
// Loader.Invalidator when a loader serves reads in the same process.
func NewInvalidator(store Store) *Invalidator {
	return &Invalidator{store: store}
}

func (i *Invalidator) evict(ctx context.Context, what string, keys ...string) error {
	if i == nil {
		return nil
	}
	if i.loader != nil {
		i.loader.Forget(keys...)
	}
	if i.store == nil {
		return nil
	}
	if err := i.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to evict %s: %w", what, err)
	}
	return nil
}

// Credential evicts a credential snapshot after revocation
func (i *Invalidator) Credential(ctx context.Context, tokenHash string) error {
	return i.evict(ctx, "credential", CredentialKey(tokenHash))
}

// Account evicts the account status snapshot. Every credential of the account
// reads status through this key, so one eviction covers all of them.
func (i *Invalidator) Account(ctx context.Context, accountID string) error {
	return i.evict(ctx, "account", AccountKey(accountID))
}

// Permission evicts an entitlement, including cached absence
func (i *Invalidator) Permission(ctx context.Context, accountID, categoryID string) error {
	return i.evict(ctx, "permission", PermissionKey(accountID, categoryID))
}

// Category evicts a category after a catalogue change
func (i *Invalidator) Category(ctx context.Context, categoryID string) error {
	return i.evict(ctx, "category", CategoryKey(categoryID))
}

// Resource evicts a resource after a catalogue change
func (i *Invalidator) Resource(ctx context.Context, resourceID string) error {
	return i.evict(ctx, "resource", ResourceKey(resourceID))
}
