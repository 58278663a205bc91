package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetgate/pkg/auth"
	"github.com/platinummonkey/assetgate/pkg/cache"
	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/grant"
	"github.com/platinummonkey/assetgate/pkg/observability"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

const (
	tenantT1    = "T1"
	accountACC1 = "ACC1"
	categoryC1  = "C1"
	categoryC2  = "C2"
	resourceR1  = "R1"
	resourceR2  = "R2"
)

// inlineBookkeeper runs dispatched work synchronously so tests can observe it
type inlineBookkeeper struct {
	mu    sync.Mutex
	tasks []string
}

func (b *inlineBookkeeper) Dispatch(name string, fn func(context.Context) error) bool {
	b.mu.Lock()
	b.tasks = append(b.tasks, name)
	b.mu.Unlock()
	_ = fn(context.Background())
	return true
}

func (b *inlineBookkeeper) Tasks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tasks...)
}

// faultyStore injects failures around the in-memory store
type faultyStore struct {
	*storage.MemoryStore
	permissionErr  error
	afterIncrement func()
}

func (f *faultyStore) GetCategoryPermission(ctx context.Context, accountID, categoryID string) (*entitlement.CategoryPermission, error) {
	if f.permissionErr != nil {
		return nil, f.permissionErr
	}
	return f.MemoryStore.GetCategoryPermission(ctx, accountID, categoryID)
}

func (f *faultyStore) IncrementQuotaIfBelowLimit(ctx context.Context, accountID string, amount int64) (*entitlement.QuotaAccount, error) {
	q, err := f.MemoryStore.IncrementQuotaIfBelowLimit(ctx, accountID, amount)
	if f.afterIncrement != nil {
		f.afterIncrement()
	}
	return q, err
}

type failingMinter struct{ err error }

func (m failingMinter) MintGrant(context.Context, string, time.Duration) (*entitlement.AccessGrant, error) {
	return nil, m.err
}

type unreadableCache struct{}

func (unreadableCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (unreadableCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (unreadableCache) Delete(context.Context, ...string) error                  { return nil }

type fixtureOptions struct {
	config Config
	store  func(*storage.MemoryStore) storage.Store
	minter grant.Minter
	cache  cache.Store
}

type fixtureOption func(*fixtureOptions)

func withConfig(fn func(*Config)) fixtureOption {
	return func(o *fixtureOptions) { fn(&o.config) }
}

func withStore(wrap func(*storage.MemoryStore) storage.Store) fixtureOption {
	return func(o *fixtureOptions) { o.store = wrap }
}

func withMinter(m grant.Minter) fixtureOption {
	return func(o *fixtureOptions) { o.minter = m }
}

func withCache(c cache.Store) fixtureOption {
	return func(o *fixtureOptions) { o.cache = c }
}

type fixture struct {
	t          *testing.T
	store      *storage.MemoryStore
	cache      cache.Store
	invalidate *cache.Invalidator
	metrics    *observability.Metrics
	bookkeeper *inlineBookkeeper
	authorizer *Authorizer
	token      string
	tokenHash  string
	now        time.Time
}

func testRetry() *storage.RetryPolicy {
	return storage.NewRetryPolicy(storage.RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	})
}

// newFixture seeds cred_A -> T1 -> ACC1 (active, quota 5/10) with R1 in free
// category C1 and R2 in premium category C2, both permitted and unpaid.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	o := fixtureOptions{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now()
	store := storage.NewMemoryStore()
	token, hash, prefix, err := auth.GenerateToken()
	require.NoError(t, err)

	store.PutAccount(entitlement.Account{ID: accountACC1, Name: "Acme", Status: entitlement.AccountActive, UpdatedAt: now})
	store.PutTenant(entitlement.Tenant{ID: tenantT1, AccountID: accountACC1, Name: "Acme Studio", CreatedAt: now})
	store.PutCredential(entitlement.Credential{
		ID:          "cred_A",
		TokenHash:   hash,
		TokenPrefix: prefix,
		TenantID:    tenantT1,
		Scopes:      []string{string(auth.ScopeAll)},
		Status:      entitlement.CredentialActive,
		CreatedAt:   now,
	})
	store.PutQuota(entitlement.QuotaAccount{AccountID: accountACC1, Used: 5, Limit: 10})

	price := decimal.RequireFromString("4.99")
	store.PutCategory(entitlement.ResourceCategory{ID: categoryC1, Name: "C1"})
	store.PutCategory(entitlement.ResourceCategory{ID: categoryC2, Name: "C2", IsPremium: true, Price: &price, Currency: "USD"})
	store.PutResource(entitlement.Resource{
		ID: resourceR1, CategoryID: categoryC1, Name: "Robot", Kind: entitlement.ResourceModel,
		StorageHandle: "models/r1.glb", ContentType: "model/gltf-binary", SizeBytes: 2048,
	})
	store.PutResource(entitlement.Resource{
		ID: resourceR2, CategoryID: categoryC2, Name: "Dragon", Kind: entitlement.ResourceModel,
		StorageHandle: "models/r2.glb", ContentType: "model/gltf-binary", SizeBytes: 4096,
	})

	f := &fixture{
		t:          t,
		store:      store,
		bookkeeper: &inlineBookkeeper{},
		metrics:    observability.NewMetrics(prometheus.NewRegistry()),
		token:      token,
		tokenHash:  hash,
		now:        now,
	}
	f.permit(categoryC1, false, nil)
	f.permit(categoryC2, false, nil)

	f.cache = o.cache
	if f.cache == nil {
		f.cache = cache.NewMemoryStore(1000, time.Minute)
	}
	loader := cache.NewLoader(f.cache, cache.LoaderConfig{
		TTL:         storage.DefaultConfig().CacheTTL,
		NegativeTTL: time.Minute,
		LoadTimeout: time.Second,
	}, testRetry(), observability.NopLogger(), f.metrics)
	f.invalidate = loader.Invalidator()

	var backing storage.Store = store
	if o.store != nil {
		backing = o.store(store)
	}
	minter := o.minter
	if minter == nil {
		minter, err = grant.NewStaticMinter("https://assets.example.com")
		require.NoError(t, err)
	}

	f.authorizer, err = NewAuthorizer(Dependencies{
		Store:      backing,
		Loader:     loader,
		Minter:     minter,
		Bookkeeper: f.bookkeeper,
		Retry:      testRetry(),
		Logger:     observability.NopLogger(),
		Metrics:    f.metrics,
	}, o.config)
	require.NoError(t, err)
	return f
}

func (f *fixture) permit(categoryID string, paid bool, expiresAt *time.Time) {
	f.t.Helper()
	require.NoError(f.t, f.store.UpsertCategoryPermission(context.Background(), &entitlement.CategoryPermission{
		AccountID:  accountACC1,
		CategoryID: categoryID,
		IsPaid:     paid,
		GrantedAt:  f.now.Add(-24 * time.Hour),
		ExpiresAt:  expiresAt,
	}))
	require.NoError(f.t, f.invalidate.Permission(context.Background(), accountACC1, categoryID))
}

func (f *fixture) setQuota(used, limit int64) {
	f.store.PutQuota(entitlement.QuotaAccount{AccountID: accountACC1, Used: used, Limit: limit})
}

func (f *fixture) quota() entitlement.QuotaAccount {
	f.t.Helper()
	q, err := f.store.GetQuota(context.Background(), accountACC1)
	require.NoError(f.t, err)
	return *q
}

func (f *fixture) authorize(resourceID string) Result {
	return f.authorizer.Authorize(context.Background(), f.token, resourceID)
}

// addCredential registers another credential for T1 and returns its raw token
func (f *fixture) addCredential(id string, status entitlement.CredentialStatus, scopes []string, expiresAt *time.Time) string {
	f.t.Helper()
	token, hash, prefix, err := auth.GenerateToken()
	require.NoError(f.t, err)
	f.store.PutCredential(entitlement.Credential{
		ID:          id,
		TokenHash:   hash,
		TokenPrefix: prefix,
		TenantID:    tenantT1,
		Scopes:      scopes,
		Status:      status,
		ExpiresAt:   expiresAt,
		CreatedAt:   f.now,
	})
	return token
}

func timeRef(t time.Time) *time.Time {
	return &t
}
