package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/assetgate/pkg/auth"
	"github.com/platinummonkey/assetgate/pkg/cache"
	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

// credentialSnapshot is what gets cached under cred:<hash>. Account status is
// cached separately so one eviction covers every credential of an account.
type credentialSnapshot struct {
	CredentialID string                       `json:"credential_id"`
	TenantID     string                       `json:"tenant_id"`
	AccountID    string                       `json:"account_id"`
	Scopes       []string                     `json:"scopes"`
	Status       entitlement.CredentialStatus `json:"status"`
	ExpiresAt    *time.Time                   `json:"expires_at,omitempty"`
}

var errOrphanedCredential = errors.New("credential tenant does not exist")

// CredentialResolver maps a bearer credential to the principal it was issued for
type CredentialResolver struct {
	store      storage.Store
	loader     *cache.Loader
	bookkeeper Bookkeeper
	now        func() time.Time
}

// NewCredentialResolver creates a resolver. bookkeeper may be nil to skip last-used tracking.
func NewCredentialResolver(store storage.Store, loader *cache.Loader, bookkeeper Bookkeeper) *CredentialResolver {
	return &CredentialResolver{
		store:      store,
		loader:     loader,
		bookkeeper: bookkeeper,
		now:        time.Now,
	}
}

// Resolve validates the credential and returns its principal. The account
// status fields are left empty for the status gate to fill.
func (r *CredentialResolver) Resolve(ctx context.Context, credential string) (*Principal, *Error) {
	if err := auth.ValidateTokenFormat(credential); err != nil {
		return nil, newError(KindCredentialInvalid, Detail{Reason: err.Error()}, nil)
	}

	hash := auth.HashToken(credential)
	snap, err := cache.Fetch(ctx, r.loader, cache.CredentialKey(hash), func(ctx context.Context) (*credentialSnapshot, error) {
		return r.load(ctx, hash)
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, denied(KindCredentialInvalid, "unknown credential")
	case err != nil:
		return nil, unavailable("credential lookup failed", err)
	}

	now := r.now()
	switch {
	case snap.Status == entitlement.CredentialRevoked:
		return nil, denied(KindCredentialRevoked, "credential has been revoked")
	case snap.Status == entitlement.CredentialExpired:
		return nil, newError(KindCredentialExpired, Detail{Reason: "credential has expired", ExpiredAt: snap.ExpiresAt}, nil)
	case snap.ExpiresAt != nil && !snap.ExpiresAt.After(now):
		return nil, newError(KindCredentialExpired, Detail{Reason: "credential has expired", ExpiredAt: snap.ExpiresAt}, nil)
	case snap.Status != entitlement.CredentialActive:
		return nil, denied(KindCredentialInvalid, "credential is not active")
	}

	r.touch(snap.CredentialID, now)

	return &Principal{
		CredentialID:     snap.CredentialID,
		TenantID:         snap.TenantID,
		AccountID:        snap.AccountID,
		Scopes:           snap.Scopes,
		CredentialStatus: snap.Status,
	}, nil
}

func (r *CredentialResolver) load(ctx context.Context, hash string) (*credentialSnapshot, error) {
	cred, err := r.store.GetCredential(ctx, hash)
	if err != nil {
		return nil, err
	}
	tenant, err := r.store.GetTenant(ctx, cred.TenantID)
	if errors.Is(err, storage.ErrNotFound) {
		// Never cache an orphan as absence; report it as an inconsistency.
		return nil, errOrphanedCredential
	}
	if err != nil {
		return nil, err
	}
	return &credentialSnapshot{
		CredentialID: cred.ID,
		TenantID:     tenant.ID,
		AccountID:    tenant.AccountID,
		Scopes:       cred.Scopes,
		Status:       cred.Status,
		ExpiresAt:    cred.ExpiresAt,
	}, nil
}

// touch records last use in the background. It never affects the outcome.
func (r *CredentialResolver) touch(credentialID string, at time.Time) {
	if r.bookkeeper == nil {
		return
	}
	store := r.store
	r.bookkeeper.Dispatch("touch_credential", func(ctx context.Context) error {
		return store.TouchCredential(ctx, credentialID, at)
	})
}

// CheckScope reports a missing scope as NoPermission
func CheckScope(p *Principal, scope auth.Scope) *Error {
	if scope == "" || auth.HasScope(p.Scopes, scope) {
		return nil
	}
	return denied(KindNoPermission, fmt.Sprintf("credential lacks scope %s", scope))
}

// scopeFor returns the scope a download of kind requires
func scopeFor(kind entitlement.ResourceKind) auth.Scope {
	if kind == entitlement.ResourcePreset {
		return auth.ScopePresetsRead
	}
	return auth.ScopeAssetsDownload
}
