package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/assetgate/pkg/auth"
	"github.com/platinummonkey/assetgate/pkg/cache"
	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/observability"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

// ErrEviction marks a mutation that was written but whose cache keys could not be evicted.
// Retrying the same call is safe.
var ErrEviction = errors.New("cache eviction failed")

// Service performs administrative mutations. Each one writes the source of
// truth first and then evicts the cache keys that could serve the old state.
type Service struct {
	store      storage.AdminStore
	invalidate *cache.Invalidator
	logger     *observability.Logger
	now        func() time.Time
}

// NewService creates an administrative service
func NewService(store storage.AdminStore, invalidator *cache.Invalidator, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		store:      store,
		invalidate: invalidator,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) evicted(err error, action string) error {
	if err == nil {
		return nil
	}
	s.logger.WithError(err).WithField("action", action).Error("Cache eviction failed after write")
	return fmt.Errorf("%s: %w: %w", action, ErrEviction, err)
}

// RevokeCredential revokes a credential by its raw token
func (s *Service) RevokeCredential(ctx context.Context, token string) (*entitlement.Credential, error) {
	if err := auth.ValidateTokenFormat(token); err != nil {
		return nil, fmt.Errorf("invalid credential: %w", err)
	}
	return s.RevokeCredentialByHash(ctx, auth.HashToken(token))
}

// RevokeCredentialByHash revokes a credential by its lookup hash
func (s *Service) RevokeCredentialByHash(ctx context.Context, tokenHash string) (*entitlement.Credential, error) {
	cred, err := s.store.RevokeCredential(ctx, tokenHash, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to revoke credential: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"credential_id": cred.ID,
		"tenant_id":     cred.TenantID,
	}).Info("Credential revoked")

	return cred, s.evicted(s.invalidate.Credential(ctx, tokenHash), "revoke credential")
}

// SuspendAccount suspends an account. The reason is shown to callers.
func (s *Service) SuspendAccount(ctx context.Context, accountID, reason string) error {
	return s.setAccountStatus(ctx, accountID, entitlement.AccountSuspended, reason)
}

// ReactivateAccount returns an account to active
func (s *Service) ReactivateAccount(ctx context.Context, accountID string) error {
	return s.setAccountStatus(ctx, accountID, entitlement.AccountActive, "")
}

// DeactivateAccount marks an account inactive
func (s *Service) DeactivateAccount(ctx context.Context, accountID string) error {
	return s.setAccountStatus(ctx, accountID, entitlement.AccountInactive, "")
}

func (s *Service) setAccountStatus(ctx context.Context, accountID string, status entitlement.AccountStatus, reason string) error {
	if err := s.store.SetAccountStatus(ctx, accountID, status, reason); err != nil {
		return fmt.Errorf("failed to set account status: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"status":     string(status),
	}).Info("Account status changed")

	return s.evicted(s.invalidate.Account(ctx, accountID), "set account status")
}

// GrantOptions shape a new entitlement
type GrantOptions struct {
	Paid       bool
	PaidAmount *decimal.Decimal
	ExpiresAt  *time.Time
}

// GrantPermission creates or replaces an account's entitlement to a category
func (s *Service) GrantPermission(ctx context.Context, accountID, categoryID string, opts GrantOptions) error {
	if accountID == "" || categoryID == "" {
		return fmt.Errorf("account and category are required")
	}
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(s.now()) {
		return fmt.Errorf("expiry %s is not in the future", opts.ExpiresAt.Format(time.RFC3339))
	}
	if opts.PaidAmount != nil && opts.PaidAmount.IsNegative() {
		return fmt.Errorf("paid amount cannot be negative")
	}

	perm := &entitlement.CategoryPermission{
		AccountID:  accountID,
		CategoryID: categoryID,
		IsPaid:     opts.Paid,
		PaidAmount: opts.PaidAmount,
		GrantedAt:  s.now(),
		ExpiresAt:  opts.ExpiresAt,
	}
	if err := s.store.UpsertCategoryPermission(ctx, perm); err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"account_id":  accountID,
		"category_id": categoryID,
		"paid":        opts.Paid,
	}).Info("Permission granted")

	return s.evicted(s.invalidate.Permission(ctx, accountID, categoryID), "grant permission")
}

// RevokePermission removes an account's entitlement to a category
func (s *Service) RevokePermission(ctx context.Context, accountID, categoryID string) error {
	if err := s.store.DeleteCategoryPermission(ctx, accountID, categoryID); err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"account_id":  accountID,
		"category_id": categoryID,
	}).Info("Permission revoked")

	return s.evicted(s.invalidate.Permission(ctx, accountID, categoryID), "revoke permission")
}

// RecordPayment marks an existing entitlement as paid. Capturing the payment
// itself happens elsewhere.
func (s *Service) RecordPayment(ctx context.Context, accountID, categoryID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("payment amount cannot be negative")
	}
	if err := s.store.MarkPermissionPaid(ctx, accountID, categoryID, amount); err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"account_id":  accountID,
		"category_id": categoryID,
		"amount":      amount.String(),
	}).Info("Payment recorded")

	return s.evicted(s.invalidate.Permission(ctx, accountID, categoryID), "record payment")
}

// SetQuotaLimit changes an account's quota limit. Limit <= 0 means unlimited.
// Quota is never cached, so nothing is evicted.
func (s *Service) SetQuotaLimit(ctx context.Context, accountID string, limit int64) error {
	if err := s.store.SetQuotaLimit(ctx, accountID, limit); err != nil {
		return fmt.Errorf("failed to set quota limit: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"limit":      limit,
	}).Info("Quota limit changed")
	return nil
}

// Quota returns the current quota state of an account
func (s *Service) Quota(ctx context.Context, accountID string) (*entitlement.QuotaAccount, error) {
	q, err := s.store.GetQuota(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}
	return q, nil
}

// EvictCategory drops a cached category after a catalogue change
func (s *Service) EvictCategory(ctx context.Context, categoryID string) error {
	return s.evicted(s.invalidate.Category(ctx, categoryID), "evict category")
}

// EvictResource drops a cached resource after a catalogue change
func (s *Service) EvictResource(ctx context.Context, resourceID string) error {
	return s.evicted(s.invalidate.Resource(ctx, resourceID), "evict resource")
}
