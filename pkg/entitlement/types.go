package entitlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// CredentialStatus represents the lifecycle state of a credential
type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialRevoked CredentialStatus = "revoked"
	CredentialExpired CredentialStatus = "expired"
)

// AccountStatus represents the billing state of an account
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountInactive  AccountStatus = "inactive"
)

// Valid reports whether s is one of the known account states
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountSuspended, AccountInactive:
		return true
	}
	return false
}

// Credential is an opaque bearer credential issued against a tenant.
// Only the SHA-256 hash of the token is stored.
type Credential struct {
	ID          string           `json:"id"`
	TokenHash   string           `json:"-"`
	TokenPrefix string           `json:"token_prefix"`
	TenantID    string           `json:"tenant_id"`
	Scopes      []string         `json:"scopes"`
	Status      CredentialStatus `json:"status"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time       `json:"last_used_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	RevokedAt   *time.Time       `json:"revoked_at,omitempty"`
}

// IsExpired reports whether the credential's absolute expiry has passed at now
func (c *Credential) IsExpired(now time.Time) bool {
	if c.Status == CredentialExpired {
		return true
	}
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Tenant is the project-scoped unit a credential is issued against
type Tenant struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is the billable entity owning tenants and a quota
type Account struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Status           AccountStatus `json:"status"`
	SuspensionReason string        `json:"suspension_reason,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// ResourceCategory groups resources under a single entitlement
type ResourceCategory struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	IsPremium bool             `json:"is_premium"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Currency  string           `json:"currency,omitempty"`
}

// ResourceKind identifies what a downloadable resource contains
type ResourceKind string

const (
	ResourceModel      ResourceKind = "model"
	ResourceAvatarPart ResourceKind = "avatar_part"
	ResourcePreset     ResourceKind = "preset_manifest"
)

// Resource is a downloadable asset. It always belongs to exactly one category.
type Resource struct {
	ID            string       `json:"id"`
	CategoryID    string       `json:"category_id"`
	Name          string       `json:"name"`
	Kind          ResourceKind `json:"kind"`
	StorageHandle string       `json:"storage_handle"`
	ContentType   string       `json:"content_type,omitempty"`
	SizeBytes     int64        `json:"size_bytes"`
}

// CategoryPermission is an account's entitlement to every resource in a category.
// It is unique per (AccountID, CategoryID).
type CategoryPermission struct {
	AccountID  string           `json:"account_id"`
	CategoryID string           `json:"category_id"`
	IsPaid     bool             `json:"is_paid"`
	PaidAmount *decimal.Decimal `json:"paid_amount,omitempty"`
	GrantedAt  time.Time        `json:"granted_at"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
}

// IsActive reports whether the permission is unexpired at now.
// A permission with ExpiresAt at or before now is treated as absent.
func (p *CategoryPermission) IsActive(now time.Time) bool {
	if p == nil {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// QuotaAccount tracks usage against a limit. Limit <= 0 means unlimited.
type QuotaAccount struct {
	AccountID string    `json:"account_id"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Unlimited reports whether the quota has no upper bound
func (q *QuotaAccount) Unlimited() bool {
	return q.Limit <= 0
}

// Remaining returns the units left before the limit, or -1 when unlimited
func (q *QuotaAccount) Remaining() int64 {
	if q.Unlimited() {
		return -1
	}
	if r := q.Limit - q.Used; r > 0 {
		return r
	}
	return 0
}

// UsageOutcome records what happened to a request that consumed quota
type UsageOutcome string

const (
	UsageGranted     UsageOutcome = "granted"
	UsageGrantFailed UsageOutcome = "grant_failed"
	UsageCancelled   UsageOutcome = "cancelled"
)

// UsageRecord is an append-only log entry written after a quota increment
type UsageRecord struct {
	ID         string       `json:"id"`
	AccountID  string       `json:"account_id"`
	TenantID   string       `json:"tenant_id"`
	ResourceID string       `json:"resource_id"`
	Units      int64        `json:"units"`
	Outcome    UsageOutcome `json:"outcome"`
	Timestamp  time.Time    `json:"timestamp"`
}

// AccessGrant is a short-lived retrieval credential minted by object storage
type AccessGrant struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
