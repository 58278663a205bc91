package authz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetgate/pkg/auth"
	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

func TestAuthorize_FreeCategoryGrant(t *testing.T) {
	f := newFixture(t)

	result := f.authorize(resourceR1)

	require.Nil(t, result.Err)
	assert.True(t, result.Granted())
	assert.Equal(t, StateGrantIssued, result.State)
	require.NotNil(t, result.Grant)
	assert.True(t, result.Grant.ExpiresAt.After(time.Now()))
	assert.Contains(t, result.Grant.URL, "models/r1.glb")

	require.NotNil(t, result.Resource)
	assert.Equal(t, "Robot", result.Resource.Name)
	assert.Equal(t, "C1", result.Resource.CategoryName)
	assert.False(t, result.Resource.Premium)

	require.NotNil(t, result.Quota)
	assert.Equal(t, int64(6), result.Quota.Used)
	assert.Equal(t, int64(10), result.Quota.Limit)
	assert.Equal(t, int64(6), f.quota().Used)

	records := f.store.UsageRecords()
	require.Len(t, records, 1)
	assert.Equal(t, entitlement.UsageGranted, records[0].Outcome)
	assert.Equal(t, accountACC1, records[0].AccountID)
	assert.Equal(t, tenantT1, records[0].TenantID)
	assert.Equal(t, resourceR1, records[0].ResourceID)
	assert.Equal(t, int64(1), records[0].Units)
	assert.NotEmpty(t, records[0].ID)

	assert.ElementsMatch(t, []string{"touch_credential", "append_usage"}, f.bookkeeper.Tasks())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthzDecisionsTotal.WithLabelValues("granted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.GrantsIssuedTotal))
}

func TestAuthorize_PremiumUnpaidAfterFreeGrant(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.authorize(resourceR1).Granted())
	require.Equal(t, int64(6), f.quota().Used)

	result := f.authorize(resourceR2)

	require.NotNil(t, result.Err)
	assert.Equal(t, KindPaymentRequired, result.Err.Kind)
	assert.Equal(t, http.StatusPaymentRequired, result.Err.HTTPStatusHint)
	assert.Equal(t, StateFailedPayment, result.State)
	assert.Equal(t, "C2", result.Err.Detail.CategoryName)
	require.NotNil(t, result.Err.Detail.Price)
	assert.True(t, result.Err.Detail.Price.Equal(decimal.RequireFromString("4.99")))
	assert.Equal(t, "USD", result.Err.Detail.Currency)
	assert.Nil(t, result.Grant)

	assert.Equal(t, int64(6), f.quota().Used)
	assert.Len(t, f.store.UsageRecords(), 1)
	assert.True(t, errors.Is(result.Err, ErrPaymentRequired))
}

func TestAuthorize_AccountSuspendedMidSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.True(t, f.authorize(resourceR1).Granted())

	require.NoError(t, f.store.SetAccountStatus(ctx, accountACC1, entitlement.AccountSuspended, "chargeback"))
	require.NoError(t, f.invalidate.Account(ctx, accountACC1))

	result := f.authorize(resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindAccountSuspended, result.Err.Kind)
	assert.Equal(t, http.StatusForbidden, result.Err.HTTPStatusHint)
	assert.Equal(t, "chargeback", result.Err.Detail.Reason)
	assert.Equal(t, StateFailedAccountStatus, result.State)
	assert.Equal(t, int64(6), f.quota().Used)
}

func TestAuthorize_StaleAccountStatusUntilEvicted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.True(t, f.authorize(resourceR1).Granted())
	require.NoError(t, f.store.SetAccountStatus(ctx, accountACC1, entitlement.AccountInactive, ""))

	// Cached status stays valid for its TTL until the key is evicted.
	assert.True(t, f.authorize(resourceR1).Granted())

	require.NoError(t, f.invalidate.Account(ctx, accountACC1))
	result := f.authorize(resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindAccountInactive, result.Err.Kind)
}

func TestAuthorize_StrictAccountStatusBypassesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withConfig(func(c *Config) { c.StrictAccountStatus = true }))

	require.True(t, f.authorize(resourceR1).Granted())
	require.NoError(t, f.store.SetAccountStatus(ctx, accountACC1, entitlement.AccountSuspended, "fraud review"))

	result := f.authorize(resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindAccountSuspended, result.Err.Kind)
	assert.Equal(t, "fraud review", result.Err.Detail.Reason)
}

func TestAuthorize_FreeCategoryIgnoresPaidFlag(t *testing.T) {
	for _, paid := range []bool{true, false} {
		f := newFixture(t)
		f.permit(categoryC1, paid, nil)

		result := f.authorize(resourceR1)
		assert.True(t, result.Granted(), "paid=%v", paid)
	}
}

func TestAuthorize_PremiumRequiresPaidUnexpiredPermission(t *testing.T) {
	tests := []struct {
		name      string
		permitted bool
		paid      bool
		expired   bool
		wantKind  Kind
	}{
		{name: "paid and current", permitted: true, paid: true},
		{name: "unpaid", permitted: true, paid: false, wantKind: KindPaymentRequired},
		{name: "paid but expired", permitted: true, paid: true, expired: true, wantKind: KindNoPermission},
		{name: "no permission", permitted: false, wantKind: KindNoPermission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.permitted {
				var expiresAt *time.Time
				if tt.expired {
					expiresAt = timeRef(f.now.Add(-time.Minute))
				} else {
					expiresAt = timeRef(f.now.Add(time.Hour))
				}
				f.permit(categoryC2, tt.paid, expiresAt)
			} else {
				require.NoError(t, f.store.DeleteCategoryPermission(context.Background(), accountACC1, categoryC2))
				require.NoError(t, f.invalidate.Permission(context.Background(), accountACC1, categoryC2))
			}

			result := f.authorize(resourceR2)
			if tt.wantKind == "" {
				require.Nil(t, result.Err)
				assert.True(t, result.Granted())
				assert.True(t, result.Resource.Premium)
				return
			}
			require.NotNil(t, result.Err)
			assert.Equal(t, tt.wantKind, result.Err.Kind)
			assert.Equal(t, int64(5), f.quota().Used)
		})
	}
}

func TestAuthorize_ExpiredPermissionBehavesAsAbsent(t *testing.T) {
	ctx := context.Background()

	expired := newFixture(t)
	expiredAt := expired.now.Add(-time.Second)
	expired.permit(categoryC1, true, &expiredAt)
	expiredResult := expired.authorize(resourceR1)

	absent := newFixture(t)
	require.NoError(t, absent.store.DeleteCategoryPermission(ctx, accountACC1, categoryC1))
	require.NoError(t, absent.invalidate.Permission(ctx, accountACC1, categoryC1))
	absentResult := absent.authorize(resourceR1)

	require.NotNil(t, expiredResult.Err)
	require.NotNil(t, absentResult.Err)
	assert.Equal(t, absentResult.Err.Kind, expiredResult.Err.Kind)
	assert.Equal(t, KindNoPermission, expiredResult.Err.Kind)
	assert.Equal(t, absentResult.Err.HTTPStatusHint, expiredResult.Err.HTTPStatusHint)
	assert.Equal(t, absentResult.State, expiredResult.State)
	assert.Equal(t, StateFailedPermission, expiredResult.State)
	assert.Equal(t, "C1", expiredResult.Err.Detail.CategoryName)

	require.NotNil(t, expiredResult.Err.Detail.ExpiredAt)
	assert.True(t, expiredResult.Err.Detail.ExpiredAt.Equal(expiredAt))
	assert.Nil(t, absentResult.Err.Detail.ExpiredAt)
}

func TestAuthorize_DistinguishExpiredPermission(t *testing.T) {
	f := newFixture(t, withConfig(func(c *Config) { c.DistinguishExpiredPermission = true }))
	f.permit(categoryC1, false, timeRef(f.now.Add(-time.Hour)))

	result := f.authorize(resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindPermissionExpired, result.Err.Kind)
	assert.Equal(t, http.StatusForbidden, result.Err.HTTPStatusHint)
}

func TestAuthorize_ConcurrentQuotaNeverOverAdmits(t *testing.T) {
	const (
		limit    = 20
		requests = 60
	)
	f := newFixture(t)
	f.setQuota(0, limit)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  int
		exceeded int
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := f.authorize(resourceR1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case result.Granted():
				granted++
			case result.Err != nil && result.Err.Kind == KindQuotaExceeded:
				exceeded++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, granted)
	assert.Equal(t, requests-limit, exceeded)
	assert.Equal(t, int64(limit), f.quota().Used)
	assert.Len(t, f.store.UsageRecords(), limit)
	assert.Equal(t, float64(requests-limit), testutil.ToFloat64(f.metrics.QuotaRejectionsTotal))
}

func TestAuthorize_QuotaExceededDetail(t *testing.T) {
	f := newFixture(t)
	f.setQuota(10, 10)

	result := f.authorize(resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindQuotaExceeded, result.Err.Kind)
	assert.Equal(t, http.StatusTooManyRequests, result.Err.HTTPStatusHint)
	assert.Equal(t, StateFailedQuota, result.State)
	assert.Equal(t, int64(10), result.Err.Detail.Used)
	assert.Equal(t, int64(10), result.Err.Detail.Limit)
	assert.Empty(t, f.store.UsageRecords())
	assert.Equal(t, int64(10), f.quota().Used)
}

func TestAuthorize_UnlimitedQuota(t *testing.T) {
	for _, limit := range []int64{0, -1} {
		f := newFixture(t)
		f.setQuota(1_000_000, limit)

		for i := 0; i < 5; i++ {
			result := f.authorize(resourceR1)
			require.True(t, result.Granted(), "limit=%d attempt=%d", limit, i)
		}
		assert.Equal(t, int64(1_000_005), f.quota().Used)
		assert.Len(t, f.store.UsageRecords(), 5)
	}
}

func TestAuthorize_BytesQuotaUnit(t *testing.T) {
	f := newFixture(t, withConfig(func(c *Config) { c.QuotaUnit = QuotaUnitBytes }))
	f.setQuota(0, 5000)

	require.True(t, f.authorize(resourceR1).Granted())
	require.True(t, f.authorize(resourceR1).Granted())
	assert.Equal(t, int64(4096), f.quota().Used)

	result := f.authorize(resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindQuotaExceeded, result.Err.Kind)

	records := f.store.UsageRecords()
	require.Len(t, records, 2)
	assert.Equal(t, int64(2048), records[0].Units)
}

func TestAuthorize_RequestUnitsOverride(t *testing.T) {
	f := newFixture(t)

	result := f.authorizer.AuthorizeRequest(context.Background(), Request{
		Credential: f.token,
		ResourceID: resourceR1,
		Units:      3,
	})
	require.True(t, result.Granted())
	assert.Equal(t, int64(8), f.quota().Used)
}

func TestAuthorize_RevokeThenEvict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.True(t, f.authorize(resourceR1).Granted())

	_, err := f.store.RevokeCredential(ctx, f.tokenHash, time.Now())
	require.NoError(t, err)

	// Within the TTL the cached snapshot still answers.
	assert.True(t, f.authorize(resourceR1).Granted())

	require.NoError(t, f.invalidate.Credential(ctx, f.tokenHash))
	result := f.authorize(resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindCredentialRevoked, result.Err.Kind)
	assert.Equal(t, http.StatusUnauthorized, result.Err.HTTPStatusHint)
	assert.Equal(t, StateFailedCredential, result.State)
	assert.Nil(t, result.Principal)
}

func TestAuthorize_CredentialFailures(t *testing.T) {
	f := newFixture(t)
	unknown, _, _, err := auth.GenerateToken()
	require.NoError(t, err)

	tests := []struct {
		name       string
		credential string
		wantKind   Kind
	}{
		{name: "empty", credential: "", wantKind: KindCredentialInvalid},
		{name: "wrong prefix", credential: "sk_" + f.token[len(auth.TokenPrefix):], wantKind: KindCredentialInvalid},
		{name: "too short", credential: "ag_abc", wantKind: KindCredentialInvalid},
		{name: "unknown", credential: unknown, wantKind: KindCredentialInvalid},
		{name: "expired", credential: f.addCredential("cred_old", entitlement.CredentialActive, []string{"*"}, timeRef(f.now.Add(-time.Hour))), wantKind: KindCredentialExpired},
		{name: "expired status", credential: f.addCredential("cred_exp", entitlement.CredentialExpired, []string{"*"}, nil), wantKind: KindCredentialExpired},
		{name: "revoked", credential: f.addCredential("cred_rev", entitlement.CredentialRevoked, []string{"*"}, nil), wantKind: KindCredentialRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.authorizer.Authorize(context.Background(), tt.credential, resourceR1)
			require.NotNil(t, result.Err)
			assert.Equal(t, tt.wantKind, result.Err.Kind)
			assert.Equal(t, http.StatusUnauthorized, result.Err.HTTPStatusHint)
			assert.Equal(t, StateFailedCredential, result.State)
			assert.NotContains(t, result.Err.Error(), f.tokenHash)
		})
	}
	assert.Equal(t, int64(5), f.quota().Used)
}

func TestAuthorize_UnknownResource(t *testing.T) {
	f := newFixture(t)

	result := f.authorize("R404")
	require.NotNil(t, result.Err)
	assert.Equal(t, KindNoPermission, result.Err.Kind)
	assert.Equal(t, http.StatusNotFound, result.Err.HTTPStatusHint)
	assert.Equal(t, StateFailedResource, result.State)
}

func TestAuthorize_OrphanedResourceFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.store.PutResource(entitlement.Resource{ID: "R9", CategoryID: "C404", StorageHandle: "models/r9.glb"})

	result := f.authorize("R9")
	require.NotNil(t, result.Err)
	assert.Equal(t, KindStoreUnavailable, result.Err.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, result.Err.HTTPStatusHint)
	assert.Equal(t, int64(5), f.quota().Used)
}

func TestAuthorize_OrphanedCredentialFailsClosed(t *testing.T) {
	f := newFixture(t)
	token, hash, prefix, err := auth.GenerateToken()
	require.NoError(t, err)
	f.store.PutCredential(entitlement.Credential{ID: "cred_orphan", TokenHash: hash, TokenPrefix: prefix, TenantID: "T404", Status: entitlement.CredentialActive})

	result := f.authorizer.Authorize(context.Background(), token, resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindStoreUnavailable, result.Err.Kind)
	assert.ErrorIs(t, result.Err, errOrphanedCredential)
	assert.NotContains(t, result.Err.Error(), "cred_orphan")
	assert.NotContains(t, result.Err.Error(), "T404")
	assert.NotContains(t, fmt.Sprintf("%+v", result.Err.Detail), "cred_orphan")
}

func TestAuthorize_StoreFailureFailsClosed(t *testing.T) {
	f := newFixture(t, withStore(func(m *storage.MemoryStore) storage.Store {
		return &faultyStore{MemoryStore: m, permissionErr: errors.New("connection reset")}
	}))

	result := f.authorize(resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindStoreUnavailable, result.Err.Kind)
	assert.Equal(t, StateFailedPermission, result.State)
	assert.Nil(t, result.Grant)
	assert.Equal(t, int64(5), f.quota().Used)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StoreRetriesTotal.WithLabelValues("permission")))
}

func TestAuthorize_CacheReadFailureFailsClosed(t *testing.T) {
	f := newFixture(t, withCache(unreadableCache{}))

	result := f.authorize(resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindStoreUnavailable, result.Err.Kind)
	assert.Equal(t, StateFailedCredential, result.State)
	assert.Equal(t, int64(5), f.quota().Used)
}

func TestAuthorize_GrantFailureKeepsQuotaAndRecordsUsage(t *testing.T) {
	f := newFixture(t, withMinter(failingMinter{err: errors.New("s3 unavailable")}))

	result := f.authorize(resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindGrantIssuanceFailed, result.Err.Kind)
	assert.Equal(t, http.StatusBadGateway, result.Err.HTTPStatusHint)
	assert.Equal(t, StateFailedGrant, result.State)
	assert.NotContains(t, result.Err.Detail.Reason, "s3")

	assert.Equal(t, int64(6), f.quota().Used)
	records := f.store.UsageRecords()
	require.Len(t, records, 1)
	assert.Equal(t, entitlement.UsageGrantFailed, records[0].Outcome)
}

func TestAuthorize_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.authorizer.Authorize(ctx, f.token, resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindStoreUnavailable, result.Err.Kind)
	assert.Equal(t, StateFailedCredential, result.State)
	assert.True(t, errors.Is(result.Err, context.Canceled))
	assert.Equal(t, int64(5), f.quota().Used)
	assert.Empty(t, f.store.UsageRecords())
}

func TestAuthorize_CancelledAfterQuotaReservation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, withStore(func(m *storage.MemoryStore) storage.Store {
		return &faultyStore{MemoryStore: m, afterIncrement: cancel}
	}))

	result := f.authorizer.Authorize(ctx, f.token, resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindGrantIssuanceFailed, result.Err.Kind)
	assert.Equal(t, StateFailedGrant, result.State)
	assert.True(t, errors.Is(result.Err, context.Canceled))
	assert.Nil(t, result.Grant)

	// The increment is not undone.
	assert.Equal(t, int64(6), f.quota().Used)
	records := f.store.UsageRecords()
	require.Len(t, records, 1)
	assert.Equal(t, entitlement.UsageCancelled, records[0].Outcome)
}

func TestAuthorize_GrantTTL(t *testing.T) {
	f := newFixture(t)

	result := f.authorizer.AuthorizeRequest(context.Background(), Request{
		Credential: f.token,
		ResourceID: resourceR1,
		GrantTTL:   24 * time.Hour,
	})
	require.True(t, result.Granted())
	assert.WithinDuration(t, time.Now().Add(time.Hour), result.Grant.ExpiresAt, 5*time.Second)

	result = f.authorize(resourceR1)
	require.True(t, result.Granted())
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), result.Grant.ExpiresAt, 5*time.Second)
}

func TestAuthorize_RequiredScope(t *testing.T) {
	f := newFixture(t)
	token := f.addCredential("cred_ro", entitlement.CredentialActive, []string{string(auth.ScopeAssetsRead)}, nil)

	result := f.authorizer.AuthorizeRequest(context.Background(), Request{
		Credential:    token,
		ResourceID:    resourceR1,
		RequiredScope: auth.ScopeAssetsDownload,
	})
	require.NotNil(t, result.Err)
	assert.Equal(t, KindNoPermission, result.Err.Kind)
	assert.Equal(t, StateFailedCredential, result.State)

	result = f.authorizer.AuthorizeRequest(context.Background(), Request{
		Credential:    token,
		ResourceID:    resourceR1,
		RequiredScope: auth.ScopeAssetsRead,
	})
	assert.True(t, result.Granted())
}

func TestAuthorize_ResourceScopes(t *testing.T) {
	f := newFixture(t, withConfig(func(c *Config) { c.EnforceResourceScopes = true }))
	f.store.PutResource(entitlement.Resource{
		ID: "P1", CategoryID: categoryC1, Name: "Studio light", Kind: entitlement.ResourcePreset,
		StorageHandle: "presets/p1.json",
	})
	token := f.addCredential("cred_dl", entitlement.CredentialActive, []string{string(auth.ScopeAssetsDownload)}, nil)

	assert.True(t, f.authorizer.Authorize(context.Background(), token, resourceR1).Granted())

	result := f.authorizer.Authorize(context.Background(), token, "P1")
	require.NotNil(t, result.Err)
	assert.Equal(t, KindNoPermission, result.Err.Kind)
	assert.Equal(t, StateFailedResource, result.State)
}

func TestCheck_DoesNotConsumeQuota(t *testing.T) {
	f := newFixture(t)

	result := f.authorizer.Check(context.Background(), f.token, resourceR1)
	require.Nil(t, result.Err)
	assert.Equal(t, StatePaymentValidated, result.State)
	assert.False(t, result.Granted())
	assert.Nil(t, result.Grant)
	require.NotNil(t, result.Quota)
	assert.Equal(t, int64(5), result.Quota.Used)
	assert.Equal(t, int64(5), f.quota().Used)
	assert.Empty(t, f.store.UsageRecords())

	f.setQuota(10, 10)
	result = f.authorizer.Check(context.Background(), f.token, resourceR1)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindQuotaExceeded, result.Err.Kind)
	assert.Equal(t, StateFailedQuota, result.State)
	assert.Equal(t, int64(10), f.quota().Used)
}

func TestAuthorize_RequestIDPropagates(t *testing.T) {
	f := newFixture(t)

	result := f.authorizer.AuthorizeRequest(context.Background(), Request{
		Credential: f.token,
		ResourceID: resourceR1,
		RequestID:  "req-123",
	})
	assert.Equal(t, "req-123", result.RequestID)

	result = f.authorize(resourceR1)
	assert.NotEmpty(t, result.RequestID)
}

func TestNewAuthorizer_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := NewAuthorizer(Dependencies{Minter: failingMinter{}}, DefaultConfig())
	assert.Error(t, err)

	_, err = NewAuthorizer(Dependencies{Store: f.store}, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.QuotaUnit = "parsecs"
	_, err = NewAuthorizer(Dependencies{Store: f.store, Minter: failingMinter{}}, cfg)
	assert.Error(t, err)

	a, err := NewAuthorizer(Dependencies{Store: f.store, Minter: failingMinter{}}, DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, a)
}
