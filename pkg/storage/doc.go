// Package storage defines the Source-of-Truth contract for the authorization core.
//
// # Overview
//
// The Source-of-Truth holds tenants, credentials, accounts, resource categories,
// category permissions, quota counters and the usage log. The authorization core
// only issues point lookups against it plus two writes:
//
//   - IncrementQuotaIfBelowLimit: a single compare-and-increment, never a
//     read-then-write from application code
//   - AppendUsage: a write-once log append
//
// Administrative flows (revocation, suspension, granting, payment) use the wider
// AdminStore interface and are responsible for evicting the matching cache keys
// afterwards (see pkg/admin).
//
// # Backends
//
//   - MemoryStore: mutex-guarded in-process store for development and tests
//   - postgres.Store: PostgreSQL via database/sql and lib/pq (pkg/storage/postgres)
//
// # Errors
//
// Lookups that find nothing return ErrNotFound. An increment that would push
// usage past a positive limit returns ErrQuotaExhausted and changes nothing.
// Any other error means the store could not answer; callers must fail closed.
//
// # Retries
//
// RetryPolicy describes the bounded retry applied to reads. Writes that are not
// idempotent (the quota increment) must never be retried through it.
package storage
