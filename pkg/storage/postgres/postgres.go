package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

var tracer = otel.Tracer("github.com/platinummonkey/assetgate/pkg/storage/postgres")

// Store implements storage.AdminStore on PostgreSQL
type Store struct {
	db      *sql.DB
	catalog func() *sql.DB
	now     func() time.Time
}

// NewStore creates a store on top of a connection manager.
// Catalogue reads go to replicas, everything else to the primary.
func NewStore(cm *ConnectionManager) *Store {
	return &Store{
		db:      cm.Primary(),
		catalog: cm.Replica,
		now:     time.Now,
	}
}

// NewStoreWithDB creates a store on a single pool
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{
		db:      db,
		catalog: func() *sql.DB { return db },
		now:     time.Now,
	}
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// GetCredential implements storage.Store.GetCredential
func (s *Store) GetCredential(ctx context.Context, tokenHash string) (*entitlement.Credential, error) {
	query := `
		SELECT id, token_prefix, tenant_id, scopes, status, expires_at, last_used_at, created_at, revoked_at
		FROM credentials
		WHERE token_hash = $1
	`

	var c entitlement.Credential
	var expiresAt, lastUsedAt, revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&c.ID,
		&c.TokenPrefix,
		&c.TenantID,
		pq.Array(&c.Scopes),
		&c.Status,
		&expiresAt,
		&lastUsedAt,
		&c.CreatedAt,
		&revokedAt,
	)
	if err != nil {
		return nil, notFound(err, "credential")
	}

	c.TokenHash = tokenHash
	c.ExpiresAt = timePtr(expiresAt)
	c.LastUsedAt = timePtr(lastUsedAt)
	c.RevokedAt = timePtr(revokedAt)
	return &c, nil
}

// GetTenant implements storage.Store.GetTenant
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*entitlement.Tenant, error) {
	query := `SELECT id, account_id, name, created_at FROM tenants WHERE id = $1`

	var t entitlement.Tenant
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&t.ID, &t.AccountID, &t.Name, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err, "tenant")
	}
	return &t, nil
}

// GetAccount implements storage.Store.GetAccount
func (s *Store) GetAccount(ctx context.Context, accountID string) (*entitlement.Account, error) {
	query := `SELECT id, name, status, suspension_reason, updated_at FROM accounts WHERE id = $1`

	var a entitlement.Account
	var reason sql.NullString
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&a.ID, &a.Name, &a.Status, &reason, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "account")
	}
	a.SuspensionReason = reason.String
	return &a, nil
}

// GetResource implements storage.Store.GetResource
func (s *Store) GetResource(ctx context.Context, resourceID string) (*entitlement.Resource, error) {
	query := `
		SELECT id, category_id, name, kind, storage_handle, content_type, size_bytes
		FROM resources
		WHERE id = $1
	`

	var r entitlement.Resource
	var contentType sql.NullString
	err := s.catalog().QueryRowContext(ctx, query, resourceID).Scan(
		&r.ID, &r.CategoryID, &r.Name, &r.Kind, &r.StorageHandle, &contentType, &r.SizeBytes,
	)
	if err != nil {
		return nil, notFound(err, "resource")
	}
	r.ContentType = contentType.String
	return &r, nil
}

// GetCategory implements storage.Store.GetCategory
func (s *Store) GetCategory(ctx context.Context, categoryID string) (*entitlement.ResourceCategory, error) {
	query := `SELECT id, name, is_premium, price, currency FROM resource_categories WHERE id = $1`

	var c entitlement.ResourceCategory
	var price decimal.NullDecimal
	var currency sql.NullString
	err := s.catalog().QueryRowContext(ctx, query, categoryID).Scan(&c.ID, &c.Name, &c.IsPremium, &price, &currency)
	if err != nil {
		return nil, notFound(err, "category")
	}
	c.Price = decimalPtr(price)
	c.Currency = currency.String
	return &c, nil
}

// GetCategoryPermission implements storage.Store.GetCategoryPermission
func (s *Store) GetCategoryPermission(ctx context.Context, accountID, categoryID string) (*entitlement.CategoryPermission, error) {
	query := `
		SELECT account_id, category_id, is_paid, paid_amount, granted_at, expires_at
		FROM category_permissions
		WHERE account_id = $1 AND category_id = $2
	`

	var p entitlement.CategoryPermission
	var paid decimal.NullDecimal
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, accountID, categoryID).Scan(
		&p.AccountID, &p.CategoryID, &p.IsPaid, &paid, &p.GrantedAt, &expiresAt,
	)
	if err != nil {
		return nil, notFound(err, "permission")
	}
	p.PaidAmount = decimalPtr(paid)
	p.ExpiresAt = timePtr(expiresAt)
	return &p, nil
}

// GetQuota implements storage.Store.GetQuota
func (s *Store) GetQuota(ctx context.Context, accountID string) (*entitlement.QuotaAccount, error) {
	query := `SELECT account_id, used, quota_limit, updated_at FROM quota_accounts WHERE account_id = $1`

	var q entitlement.QuotaAccount
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&q.AccountID, &q.Used, &q.Limit, &q.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "quota")
	}
	return &q, nil
}

// IncrementQuotaIfBelowLimit implements storage.Store.IncrementQuotaIfBelowLimit.
// The limit check and the increment happen in one UPDATE so concurrent requests
// on the same account can never over-admit.
func (s *Store) IncrementQuotaIfBelowLimit(ctx context.Context, accountID string, amount int64) (*entitlement.QuotaAccount, error) {
	ctx, span := tracer.Start(ctx, "Postgres.IncrementQuotaIfBelowLimit",
		trace.WithAttributes(
			attribute.String("db.operation", "UPDATE"),
			attribute.String("db.table", "quota_accounts"),
			attribute.Int64("quota.amount", amount),
		),
	)
	defer span.End()

	if amount <= 0 {
		return nil, fmt.Errorf("increment amount must be positive, got %d", amount)
	}

	query := `
		UPDATE quota_accounts
		SET used = used + $2, updated_at = $3
		WHERE account_id = $1 AND (quota_limit <= 0 OR used + $2 <= quota_limit)
		RETURNING account_id, used, quota_limit, updated_at
	`

	var q entitlement.QuotaAccount
	err := s.db.QueryRowContext(ctx, query, accountID, amount, s.now()).Scan(&q.AccountID, &q.Used, &q.Limit, &q.UpdatedAt)
	if err == nil {
		span.SetStatus(codes.Ok, "quota reserved")
		return &q, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quota update failed")
		return nil, fmt.Errorf("failed to increment quota: %w", err)
	}

	// No row updated: the account is missing or the limit was reached.
	current, lookupErr := s.GetQuota(ctx, accountID)
	if lookupErr != nil {
		span.RecordError(lookupErr)
		span.SetStatus(codes.Error, "quota lookup failed")
		return nil, lookupErr
	}
	span.SetAttributes(attribute.Bool("quota.exhausted", true))
	span.SetStatus(codes.Ok, "quota exhausted")
	return current, storage.ErrQuotaExhausted
}

// AppendUsage implements storage.Store.AppendUsage
func (s *Store) AppendUsage(ctx context.Context, record *entitlement.UsageRecord) error {
	if record == nil {
		return fmt.Errorf("usage record is required")
	}

	query := `
		INSERT INTO usage_records (id, account_id, tenant_id, resource_id, units, outcome, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.AccountID,
		record.TenantID,
		record.ResourceID,
		record.Units,
		string(record.Outcome),
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

// TouchCredential implements storage.Store.TouchCredential.
// Only ever moves last_used_at forward.
func (s *Store) TouchCredential(ctx context.Context, credentialID string, at time.Time) error {
	query := `
		UPDATE credentials
		SET last_used_at = $2
		WHERE id = $1 AND (last_used_at IS NULL OR last_used_at < $2)
	`

	if _, err := s.db.ExecContext(ctx, query, credentialID, at); err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}
	return nil
}

// Ping implements storage.Store.Ping
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RevokeCredential implements storage.AdminStore.RevokeCredential
func (s *Store) RevokeCredential(ctx context.Context, tokenHash string, at time.Time) (*entitlement.Credential, error) {
	query := `
		UPDATE credentials
		SET status = 'revoked', revoked_at = $2
		WHERE token_hash = $1
		RETURNING id, tenant_id
	`

	c := entitlement.Credential{TokenHash: tokenHash, Status: entitlement.CredentialRevoked, RevokedAt: &at}
	err := s.db.QueryRowContext(ctx, query, tokenHash, at).Scan(&c.ID, &c.TenantID)
	if err != nil {
		return nil, notFound(err, "credential")
	}
	return &c, nil
}

// SetAccountStatus implements storage.AdminStore.SetAccountStatus
func (s *Store) SetAccountStatus(ctx context.Context, accountID string, status entitlement.AccountStatus, reason string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid account status %q", status)
	}

	query := `
		UPDATE accounts
		SET status = $2, suspension_reason = NULLIF($3, ''), updated_at = $4
		WHERE id = $1
	`
	return s.execOne(ctx, "account", query, accountID, string(status), reason, s.now())
}

// UpsertCategoryPermission implements storage.AdminStore.UpsertCategoryPermission
func (s *Store) UpsertCategoryPermission(ctx context.Context, perm *entitlement.CategoryPermission) error {
	if perm == nil {
		return fmt.Errorf("permission is required")
	}

	query := `
		INSERT INTO category_permissions (account_id, category_id, is_paid, paid_amount, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, category_id) DO UPDATE
		SET is_paid = EXCLUDED.is_paid,
		    paid_amount = EXCLUDED.paid_amount,
		    granted_at = EXCLUDED.granted_at,
		    expires_at = EXCLUDED.expires_at
	`

	var paid decimal.NullDecimal
	if perm.PaidAmount != nil {
		paid = decimal.NewNullDecimal(*perm.PaidAmount)
	}
	var expiresAt sql.NullTime
	if perm.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *perm.ExpiresAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		perm.AccountID, perm.CategoryID, perm.IsPaid, paid, perm.GrantedAt, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}
	return nil
}

// DeleteCategoryPermission implements storage.AdminStore.DeleteCategoryPermission
func (s *Store) DeleteCategoryPermission(ctx context.Context, accountID, categoryID string) error {
	query := `DELETE FROM category_permissions WHERE account_id = $1 AND category_id = $2`
	return s.execOne(ctx, "permission", query, accountID, categoryID)
}

// MarkPermissionPaid implements storage.AdminStore.MarkPermissionPaid
func (s *Store) MarkPermissionPaid(ctx context.Context, accountID, categoryID string, amount decimal.Decimal) error {
	query := `
		UPDATE category_permissions
		SET is_paid = TRUE, paid_amount = $3
		WHERE account_id = $1 AND category_id = $2
	`
	return s.execOne(ctx, "permission", query, accountID, categoryID, amount)
}

// SetQuotaLimit implements storage.AdminStore.SetQuotaLimit
func (s *Store) SetQuotaLimit(ctx context.Context, accountID string, limit int64) error {
	query := `
		INSERT INTO quota_accounts (account_id, used, quota_limit, updated_at)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (account_id) DO UPDATE
		SET quota_limit = EXCLUDED.quota_limit, updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, accountID, limit, s.now()); err != nil {
		return fmt.Errorf("failed to set quota limit: %w", err)
	}
	return nil
}

// execOne runs a mutation that must affect exactly one row
func (s *Store) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}
