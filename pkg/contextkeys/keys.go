// Package contextkeys provides centralized context key definitions
//
// All context keys used across assetgate are defined here so that
// producers and consumers agree on the key and the value type.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/assetgate/pkg/contextkeys"
//	ctx = contextkeys.WithRequestID(ctx, id)
//	id := contextkeys.GetRequestID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: observability.RequestMiddleware, or authz.Authorizer when absent
	// Used by: Logger, usage records, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// AccountIDKey contains the resolved account ID
	// Set by: authz.Authorizer after the credential resolves
	// Used by: Logger, usage bookkeeping
	// Type: string
	AccountIDKey Key = "account_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability.RequestMiddleware, authz.Authorizer (fallback only)
	// Used by: observability.FromContext
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithAccountID adds the resolved account ID to the context
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetAccountID retrieves account ID from context
func GetAccountID(ctx context.Context) string {
	if accountID, ok := ctx.Value(AccountIDKey).(string); ok {
		return accountID
	}
	return ""
}
