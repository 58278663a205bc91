package authz

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies every non-success authorization outcome
type Kind string

const (
	KindCredentialInvalid   Kind = "credential_invalid"
	KindCredentialRevoked   Kind = "credential_revoked"
	KindCredentialExpired   Kind = "credential_expired"
	KindAccountSuspended    Kind = "account_suspended"
	KindAccountInactive     Kind = "account_inactive"
	KindNoPermission        Kind = "no_permission"
	KindPermissionExpired   Kind = "permission_expired"
	KindPaymentRequired     Kind = "payment_required"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindGrantIssuanceFailed Kind = "grant_issuance_failed"
	KindStoreUnavailable    Kind = "store_unavailable"
)

// Sentinels for errors.Is matching on kind
var (
	ErrCredentialInvalid   = &Error{Kind: KindCredentialInvalid}
	ErrCredentialRevoked   = &Error{Kind: KindCredentialRevoked}
	ErrCredentialExpired   = &Error{Kind: KindCredentialExpired}
	ErrAccountSuspended    = &Error{Kind: KindAccountSuspended}
	ErrAccountInactive     = &Error{Kind: KindAccountInactive}
	ErrNoPermission        = &Error{Kind: KindNoPermission}
	ErrPermissionExpired   = &Error{Kind: KindPermissionExpired}
	ErrPaymentRequired     = &Error{Kind: KindPaymentRequired}
	ErrQuotaExceeded       = &Error{Kind: KindQuotaExceeded}
	ErrGrantIssuanceFailed = &Error{Kind: KindGrantIssuanceFailed}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable}
)

// StatusHint returns the protocol status a caller would normally map kind to
func (k Kind) StatusHint() int {
	switch k {
	case KindCredentialInvalid, KindCredentialRevoked, KindCredentialExpired:
		return http.StatusUnauthorized
	case KindAccountSuspended, KindAccountInactive, KindNoPermission, KindPermissionExpired:
		return http.StatusForbidden
	case KindPaymentRequired:
		return http.StatusPaymentRequired
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindGrantIssuanceFailed:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

// Detail carries the caller-presentable context of a failure.
// It never holds store identifiers.
type Detail struct {
	Reason       string           `json:"reason,omitempty"`
	CategoryName string           `json:"category_name,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	ExpiredAt    *time.Time       `json:"expired_at,omitempty"`
	Used         int64            `json:"used,omitempty"`
	Limit        int64            `json:"limit,omitempty"`
}

// Error is a structured authorization failure
type Error struct {
	Kind           Kind   `json:"kind"`
	HTTPStatusHint int    `json:"http_status_hint"`
	Detail         Detail `json:"detail"`

	cause error
}

func newError(kind Kind, detail Detail, cause error) *Error {
	return &Error{
		Kind:           kind,
		HTTPStatusHint: kind.StatusHint(),
		Detail:         detail,
		cause:          cause,
	}
}

func denied(kind Kind, reason string) *Error {
	return newError(kind, Detail{Reason: reason}, nil)
}

func unavailable(reason string, cause error) *Error {
	return newError(KindStoreUnavailable, Detail{Reason: reason}, cause)
}

// Error renders the kind and reason only. The cause can name store rows or
// backends, so it is reachable through Unwrap and never part of the message.
func (e *Error) Error() string {
	if e.Detail.Reason != "" {
		return string(e.Kind) + ": " + e.Detail.Reason
	}
	return string(e.Kind)
}

// Unwrap returns the underlying store, cache or collaborator error
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind from err, or "" when err is not an authorization error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
