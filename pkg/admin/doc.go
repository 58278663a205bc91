// Package admin implements the administrative mutations of the entitlement
// model: revoking credentials, changing account status, granting and revoking
// category permissions, recording payments and changing quota limits.
//
// Every mutation writes the source of truth and then evicts the cache keys
// that could still serve the previous state, so the next authorization
// observes the change instead of waiting for a TTL. When the eviction fails
// the write has already happened; the returned error wraps ErrEviction and the
// call can be retried.
package admin
