package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/assetgate/pkg/entitlement"
)

// MemoryStore implements AdminStore in process memory.
// All methods return copies so callers can never mutate stored state.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]entitlement.Credential // by token hash
	tenants     map[string]entitlement.Tenant
	accounts    map[string]entitlement.Account
	resources   map[string]entitlement.Resource
	categories  map[string]entitlement.ResourceCategory
	permissions map[string]entitlement.CategoryPermission // by account/category
	quotas      map[string]entitlement.QuotaAccount
	usage       []entitlement.UsageRecord
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]entitlement.Credential),
		tenants:     make(map[string]entitlement.Tenant),
		accounts:    make(map[string]entitlement.Account),
		resources:   make(map[string]entitlement.Resource),
		categories:  make(map[string]entitlement.ResourceCategory),
		permissions: make(map[string]entitlement.CategoryPermission),
		quotas:      make(map[string]entitlement.QuotaAccount),
		now:         time.Now,
	}
}

func permissionKey(accountID, categoryID string) string {
	return accountID + "/" + categoryID
}

// PutCredential stores a credential keyed by its token hash
func (s *MemoryStore) PutCredential(c entitlement.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Scopes = append([]string(nil), c.Scopes...)
	s.credentials[c.TokenHash] = c
}

// PutTenant stores a tenant
func (s *MemoryStore) PutTenant(t entitlement.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// PutAccount stores an account
func (s *MemoryStore) PutAccount(a entitlement.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// PutResource stores a resource
func (s *MemoryStore) PutResource(r entitlement.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.ID] = r
}

// PutCategory stores a resource category
func (s *MemoryStore) PutCategory(c entitlement.ResourceCategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

// PutQuota stores a quota account
func (s *MemoryStore) PutQuota(q entitlement.QuotaAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[q.AccountID] = q
}

// UsageRecords returns a copy of the usage log
func (s *MemoryStore) UsageRecords() []entitlement.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entitlement.UsageRecord(nil), s.usage...)
}

// GetCredential implements Store.GetCredential
func (s *MemoryStore) GetCredential(ctx context.Context, tokenHash string) (*entitlement.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[tokenHash]
	if !ok {
		return nil, fmt.Errorf("credential: %w", ErrNotFound)
	}
	c.Scopes = append([]string(nil), c.Scopes...)
	return &c, nil
}

// GetTenant implements Store.GetTenant
func (s *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*entitlement.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	return &t, nil
}

// GetAccount implements Store.GetAccount
func (s *MemoryStore) GetAccount(ctx context.Context, accountID string) (*entitlement.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return &a, nil
}

// GetResource implements Store.GetResource
func (s *MemoryStore) GetResource(ctx context.Context, resourceID string) (*entitlement.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[resourceID]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", resourceID, ErrNotFound)
	}
	return &r, nil
}

// GetCategory implements Store.GetCategory
func (s *MemoryStore) GetCategory(ctx context.Context, categoryID string) (*entitlement.ResourceCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[categoryID]
	if !ok {
		return nil, fmt.Errorf("category %s: %w", categoryID, ErrNotFound)
	}
	return &c, nil
}

// GetCategoryPermission implements Store.GetCategoryPermission
func (s *MemoryStore) GetCategoryPermission(ctx context.Context, accountID, categoryID string) (*entitlement.CategoryPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.permissions[permissionKey(accountID, categoryID)]
	if !ok {
		return nil, fmt.Errorf("permission: %w", ErrNotFound)
	}
	return &p, nil
}

// GetQuota implements Store.GetQuota
func (s *MemoryStore) GetQuota(ctx context.Context, accountID string) (*entitlement.QuotaAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotas[accountID]
	if !ok {
		return nil, fmt.Errorf("quota %s: %w", accountID, ErrNotFound)
	}
	return &q, nil
}

// IncrementQuotaIfBelowLimit implements Store.IncrementQuotaIfBelowLimit
func (s *MemoryStore) IncrementQuotaIfBelowLimit(ctx context.Context, accountID string, amount int64) (*entitlement.QuotaAccount, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("increment amount must be positive, got %d", amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[accountID]
	if !ok {
		return nil, fmt.Errorf("quota %s: %w", accountID, ErrNotFound)
	}
	if q.Limit > 0 && q.Used+amount > q.Limit {
		return &q, ErrQuotaExhausted
	}

	q.Used += amount
	q.UpdatedAt = s.now()
	s.quotas[accountID] = q
	return &q, nil
}

// AppendUsage implements Store.AppendUsage
func (s *MemoryStore) AppendUsage(ctx context.Context, record *entitlement.UsageRecord) error {
	if record == nil {
		return fmt.Errorf("usage record is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, *record)
	return nil
}

// TouchCredential implements Store.TouchCredential
func (s *MemoryStore) TouchCredential(ctx context.Context, credentialID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, c := range s.credentials {
		if c.ID == credentialID {
			c.LastUsedAt = &at
			s.credentials[hash] = c
			return nil
		}
	}
	return fmt.Errorf("credential %s: %w", credentialID, ErrNotFound)
}

// Ping implements Store.Ping
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// RevokeCredential implements AdminStore.RevokeCredential
func (s *MemoryStore) RevokeCredential(ctx context.Context, tokenHash string, at time.Time) (*entitlement.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[tokenHash]
	if !ok {
		return nil, fmt.Errorf("credential: %w", ErrNotFound)
	}
	c.Status = entitlement.CredentialRevoked
	c.RevokedAt = &at
	s.credentials[tokenHash] = c
	return &c, nil
}

// SetAccountStatus implements AdminStore.SetAccountStatus
func (s *MemoryStore) SetAccountStatus(ctx context.Context, accountID string, status entitlement.AccountStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	a.Status = status
	a.SuspensionReason = reason
	a.UpdatedAt = s.now()
	s.accounts[accountID] = a
	return nil
}

// UpsertCategoryPermission implements AdminStore.UpsertCategoryPermission
func (s *MemoryStore) UpsertCategoryPermission(ctx context.Context, perm *entitlement.CategoryPermission) error {
	if perm == nil {
		return fmt.Errorf("permission is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[permissionKey(perm.AccountID, perm.CategoryID)] = *perm
	return nil
}

// DeleteCategoryPermission implements AdminStore.DeleteCategoryPermission
func (s *MemoryStore) DeleteCategoryPermission(ctx context.Context, accountID, categoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := permissionKey(accountID, categoryID)
	if _, ok := s.permissions[key]; !ok {
		return fmt.Errorf("permission: %w", ErrNotFound)
	}
	delete(s.permissions, key)
	return nil
}

// MarkPermissionPaid implements AdminStore.MarkPermissionPaid
func (s *MemoryStore) MarkPermissionPaid(ctx context.Context, accountID, categoryID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := permissionKey(accountID, categoryID)
	p, ok := s.permissions[key]
	if !ok {
		return fmt.Errorf("permission: %w", ErrNotFound)
	}
	p.IsPaid = true
	p.PaidAmount = &amount
	s.permissions[key] = p
	return nil
}

// SetQuotaLimit implements AdminStore.SetQuotaLimit
func (s *MemoryStore) SetQuotaLimit(ctx context.Context, accountID string, limit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[accountID]
	if !ok {
		q = entitlement.QuotaAccount{AccountID: accountID}
	}
	q.Limit = limit
	q.UpdatedAt = s.now()
	s.quotas[accountID] = q
	return nil
}
