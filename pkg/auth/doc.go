// Package auth handles the opaque bearer credentials presented by tenants.
//
// # Credential format
//
// Credentials look like:
//
//	ag_<base64url(32 random bytes)>
//
// ValidateTokenFormat rejects anything without the "ag_" prefix, shorter than
// MinTokenLength, or with a body that is not valid base64url. It performs no I/O,
// which makes it the cheap first check of every authorization request.
//
// # Storage
//
// The raw token is shown once at creation time. Stores and caches only ever see
// HashToken(token), a hex-encoded SHA-256 digest, and DisplayPrefix(token) for logs.
//
// # Scopes
//
// Scopes are carried through to the resolved tenant context so that callers can make
// finer-grained decisions; ScopeAll matches every scope.
package auth
