package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/assetgate/pkg/auth"
	"github.com/platinummonkey/assetgate/pkg/entitlement"
)

// State is a position in the authorization state machine
type State string

const (
	StateStart                = State("start")
	StateCredentialResolved   = State("credential_resolved")
	StateAccountStatusChecked = State("account_status_checked")
	StateResourceResolved     = State("resource_resolved")
	StatePermissionResolved   = State("permission_resolved")
	StatePaymentValidated     = State("payment_validated")
	StateQuotaReserved        = State("quota_reserved")
	StateGrantIssued          = State("grant_issued")

	StateFailedCredential    = State("failed_credential")
	StateFailedAccountStatus = State("failed_account_status")
	StateFailedResource      = State("failed_resource")
	StateFailedPermission    = State("failed_permission")
	StateFailedPayment       = State("failed_payment")
	StateFailedQuota         = State("failed_quota")
	StateFailedGrant         = State("failed_grant")
)

// Terminal reports whether no further transition is possible from s
func (s State) Terminal() bool {
	switch s {
	case StateGrantIssued, StateFailedCredential, StateFailedAccountStatus, StateFailedResource,
		StateFailedPermission, StateFailedPayment, StateFailedQuota, StateFailedGrant:
		return true
	}
	return false
}

// QuotaUnit selects what one quota increment measures
type QuotaUnit string

const (
	QuotaUnitRequests QuotaUnit = "requests"
	QuotaUnitBytes    QuotaUnit = "bytes"
)

// Config tunes the authorization pipeline
type Config struct {
	// StageTimeout bounds every stage's I/O
	StageTimeout time.Duration `yaml:"stage_timeout"`
	// DefaultGrantTTL applies when a request does not ask for a TTL
	DefaultGrantTTL time.Duration `yaml:"default_grant_ttl"`
	// MaxGrantTTL caps any requested TTL
	MaxGrantTTL time.Duration `yaml:"max_grant_ttl"`
	// StrictAccountStatus reads account status from the source of truth on every request
	StrictAccountStatus bool `yaml:"strict_account_status"`
	// DistinguishExpiredPermission reports expired permissions as PermissionExpired
	// instead of NoPermission
	DistinguishExpiredPermission bool `yaml:"distinguish_expired_permission"`
	// EnforceResourceScopes requires presets:read for preset manifests and
	// assets:download for every other resource kind
	EnforceResourceScopes bool `yaml:"enforce_resource_scopes"`
	// QuotaUnit decides how much one grant consumes
	QuotaUnit QuotaUnit `yaml:"quota_unit"`
}

// DefaultConfig returns the default pipeline settings
func DefaultConfig() Config {
	return Config{
		StageTimeout:    2 * time.Second,
		DefaultGrantTTL: 5 * time.Minute,
		MaxGrantTTL:     time.Hour,
		QuotaUnit:       QuotaUnitRequests,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage timeout must be positive")
	}
	if c.DefaultGrantTTL <= 0 {
		return fmt.Errorf("default grant TTL must be positive")
	}
	if c.MaxGrantTTL < c.DefaultGrantTTL {
		return fmt.Errorf("max grant TTL %s is below default grant TTL %s", c.MaxGrantTTL, c.DefaultGrantTTL)
	}
	switch c.QuotaUnit {
	case QuotaUnitRequests, QuotaUnitBytes:
	default:
		return fmt.Errorf("unknown quota unit %q", c.QuotaUnit)
	}
	return nil
}

// Request is one authorization attempt
type Request struct {
	Credential string
	ResourceID string

	// Units overrides the configured quota increment when positive
	Units int64
	// GrantTTL requests a grant lifetime; zero uses the default
	GrantTTL time.Duration
	// RequiredScope, when set, must be held by the credential
	RequiredScope auth.Scope
	// RequestID correlates logs; generated when empty
	RequestID string
	// DryRun evaluates every gate up to payment and stops before consuming quota
	DryRun bool
}

// Principal is the resolved identity behind a credential
type Principal struct {
	CredentialID     string                       `json:"credential_id"`
	TenantID         string                       `json:"tenant_id"`
	AccountID        string                       `json:"account_id"`
	Scopes           []string                     `json:"scopes"`
	CredentialStatus entitlement.CredentialStatus `json:"credential_status"`
	AccountStatus    entitlement.AccountStatus    `json:"account_status"`
	SuspensionReason string                       `json:"suspension_reason,omitempty"`
}

// ResourceMetadata is the caller-visible description of an authorized resource
type ResourceMetadata struct {
	ID           string                   `json:"id"`
	Name         string                   `json:"name"`
	Kind         entitlement.ResourceKind `json:"kind"`
	ContentType  string                   `json:"content_type,omitempty"`
	SizeBytes    int64                    `json:"size_bytes"`
	CategoryName string                   `json:"category_name"`
	Premium      bool                     `json:"premium"`
}

// Result is the outcome of one authorization. Err is nil exactly when every
// evaluated gate passed; State is then GrantIssued, or PaymentValidated for a dry run.
type Result struct {
	RequestID string                    `json:"request_id"`
	State     State                     `json:"state"`
	Grant     *entitlement.AccessGrant  `json:"grant,omitempty"`
	Resource  *ResourceMetadata         `json:"resource,omitempty"`
	Quota     *entitlement.QuotaAccount `json:"quota,omitempty"`
	Principal *Principal                `json:"-"`
	Err       *Error                    `json:"error,omitempty"`
}

// Granted reports whether a grant was issued
func (r Result) Granted() bool {
	return r.Err == nil && r.State == StateGrantIssued && r.Grant != nil
}

// Bookkeeper runs fire-and-forget work off the request path.
// *async.Dispatcher implements it.
type Bookkeeper interface {
	Dispatch(name string, fn func(context.Context) error) bool
}
