package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetgate/pkg/auth"
	"github.com/platinummonkey/assetgate/pkg/authz"
	"github.com/platinummonkey/assetgate/pkg/cache"
	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/grant"
	"github.com/platinummonkey/assetgate/pkg/observability"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

type brokenCache struct{ *cache.MemoryStore }

func (brokenCache) Delete(context.Context, ...string) error {
	return errors.New("redis: connection pool timeout")
}

type harness struct {
	store      *storage.MemoryStore
	cache      *cache.MemoryStore
	service    *Service
	authorizer *authz.Authorizer
	token      string
	tokenHash  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := storage.NewMemoryStore()
	token, hash, prefix, err := auth.GenerateToken()
	require.NoError(t, err)

	store.PutAccount(entitlement.Account{ID: "acc-1", Name: "Acme", Status: entitlement.AccountActive})
	store.PutTenant(entitlement.Tenant{ID: "ten-1", AccountID: "acc-1"})
	store.PutCredential(entitlement.Credential{
		ID: "cred-1", TokenHash: hash, TokenPrefix: prefix, TenantID: "ten-1",
		Scopes: []string{"*"}, Status: entitlement.CredentialActive,
	})
	store.PutQuota(entitlement.QuotaAccount{AccountID: "acc-1", Limit: 100})
	price := decimal.RequireFromString("9.99")
	store.PutCategory(entitlement.ResourceCategory{ID: "cat-pro", Name: "Pro Pack", IsPremium: true, Price: &price, Currency: "USD"})
	store.PutResource(entitlement.Resource{ID: "res-1", CategoryID: "cat-pro", Name: "Hero", Kind: entitlement.ResourceModel, StorageHandle: "models/hero.glb"})

	mem := cache.NewMemoryStore(100, time.Minute)
	loader := cache.NewLoader(mem, cache.DefaultLoaderConfig(storage.DefaultConfig()), nil, observability.NopLogger(), nil)
	minter, err := grant.NewStaticMinter("https://assets.example.com")
	require.NoError(t, err)
	authorizer, err := authz.NewAuthorizer(authz.Dependencies{
		Store:  store,
		Loader: loader,
		Minter: minter,
	}, authz.DefaultConfig())
	require.NoError(t, err)

	return &harness{
		store:      store,
		cache:      mem,
		service:    NewService(store, loader.Invalidator(), observability.NopLogger()),
		authorizer: authorizer,
		token:      token,
		tokenHash:  hash,
	}
}

func (h *harness) authorize() authz.Result {
	return h.authorizer.Authorize(context.Background(), h.token, "res-1")
}

func TestService_PermissionLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Cache the absence first so the grant has something to evict.
	result := h.authorize()
	require.NotNil(t, result.Err)
	assert.Equal(t, authz.KindNoPermission, result.Err.Kind)

	require.NoError(t, h.service.GrantPermission(ctx, "acc-1", "cat-pro", GrantOptions{}))
	result = h.authorize()
	require.NotNil(t, result.Err)
	assert.Equal(t, authz.KindPaymentRequired, result.Err.Kind)

	require.NoError(t, h.service.RecordPayment(ctx, "acc-1", "cat-pro", decimal.RequireFromString("9.99")))
	assert.True(t, h.authorize().Granted())

	perm, err := h.store.GetCategoryPermission(ctx, "acc-1", "cat-pro")
	require.NoError(t, err)
	assert.True(t, perm.IsPaid)
	assert.True(t, perm.PaidAmount.Equal(decimal.RequireFromString("9.99")))

	require.NoError(t, h.service.RevokePermission(ctx, "acc-1", "cat-pro"))
	result = h.authorize()
	require.NotNil(t, result.Err)
	assert.Equal(t, authz.KindNoPermission, result.Err.Kind)
}

func TestService_RevokeCredential(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.service.GrantPermission(ctx, "acc-1", "cat-pro", GrantOptions{Paid: true}))
	require.True(t, h.authorize().Granted())

	cred, err := h.service.RevokeCredential(ctx, h.token)
	require.NoError(t, err)
	assert.Equal(t, entitlement.CredentialRevoked, cred.Status)
	assert.NotNil(t, cred.RevokedAt)

	result := h.authorize()
	require.NotNil(t, result.Err)
	assert.Equal(t, authz.KindCredentialRevoked, result.Err.Kind)

	_, err = h.service.RevokeCredential(ctx, "not-a-token")
	assert.Error(t, err)

	unknown, _, _, err := auth.GenerateToken()
	require.NoError(t, err)
	_, err = h.service.RevokeCredential(ctx, unknown)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestService_AccountStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.service.GrantPermission(ctx, "acc-1", "cat-pro", GrantOptions{Paid: true}))
	require.True(t, h.authorize().Granted())

	require.NoError(t, h.service.SuspendAccount(ctx, "acc-1", "payment overdue"))
	result := h.authorize()
	require.NotNil(t, result.Err)
	assert.Equal(t, authz.KindAccountSuspended, result.Err.Kind)
	assert.Equal(t, "payment overdue", result.Err.Detail.Reason)

	require.NoError(t, h.service.DeactivateAccount(ctx, "acc-1"))
	result = h.authorize()
	require.NotNil(t, result.Err)
	assert.Equal(t, authz.KindAccountInactive, result.Err.Kind)

	require.NoError(t, h.service.ReactivateAccount(ctx, "acc-1"))
	assert.True(t, h.authorize().Granted())

	assert.ErrorIs(t, h.service.SuspendAccount(ctx, "acc-404", "x"), storage.ErrNotFound)
}

func TestService_SetQuotaLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.service.GrantPermission(ctx, "acc-1", "cat-pro", GrantOptions{Paid: true}))

	require.NoError(t, h.service.SetQuotaLimit(ctx, "acc-1", 1))
	require.True(t, h.authorize().Granted())
	result := h.authorize()
	require.NotNil(t, result.Err)
	assert.Equal(t, authz.KindQuotaExceeded, result.Err.Kind)

	require.NoError(t, h.service.SetQuotaLimit(ctx, "acc-1", 0))
	assert.True(t, h.authorize().Granted())

	q, err := h.service.Quota(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), q.Used)
	assert.True(t, q.Unlimited())
}

func TestService_GrantValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	past := time.Now().Add(-time.Hour)
	assert.Error(t, h.service.GrantPermission(ctx, "acc-1", "cat-pro", GrantOptions{ExpiresAt: &past}))
	assert.Error(t, h.service.GrantPermission(ctx, "", "cat-pro", GrantOptions{}))

	negative := decimal.NewFromInt(-1)
	assert.Error(t, h.service.GrantPermission(ctx, "acc-1", "cat-pro", GrantOptions{Paid: true, PaidAmount: &negative}))
	assert.Error(t, h.service.RecordPayment(ctx, "acc-1", "cat-pro", negative))
}

func TestService_EvictionFailureIsReported(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	store.PutAccount(entitlement.Account{ID: "acc-1", Status: entitlement.AccountActive})
	svc := NewService(store, cache.NewInvalidator(brokenCache{cache.NewMemoryStore(10, time.Minute)}), nil)

	err := svc.SuspendAccount(ctx, "acc-1", "review")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEviction)

	// The write still happened.
	acct, err := store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.AccountSuspended, acct.Status)
}

func TestService_CatalogueEviction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.cache.Set(ctx, cache.CategoryKey("cat-pro"), []byte("x"), time.Minute))
	require.NoError(t, h.cache.Set(ctx, cache.ResourceKey("res-1"), []byte("x"), time.Minute))

	require.NoError(t, h.service.EvictCategory(ctx, "cat-pro"))
	require.NoError(t, h.service.EvictResource(ctx, "res-1"))

	_, found, _ := h.cache.Get(ctx, cache.CategoryKey("cat-pro"))
	assert.False(t, found)
	_, found, _ = h.cache.Get(ctx, cache.ResourceKey("res-1"))
	assert.False(t, found)
}
