// Package entitlement defines the data model shared by the authorization core:
// credentials, tenants, accounts, resource categories, category permissions,
// quota accounts, usage records and access grants.
//
// # Ownership
//
// Every type here is owned by the Source-of-Truth store (see pkg/storage).
// The authorization core only reads them, with two exceptions:
//
//   - QuotaAccount.Used is advanced by the store's atomic increment-if-below-limit
//     operation and is never decremented.
//   - UsageRecord values are appended, never updated or deleted.
//
// AccessGrant is ephemeral and never persisted; it is passed through from the
// object-storage collaborator to the caller.
//
// # Time-dependent state
//
// Expiry is always evaluated against a caller-supplied clock (see Credential.IsExpired
// and CategoryPermission.IsActive) so that cached copies are evaluated at use time
// rather than at population time.
package entitlement
