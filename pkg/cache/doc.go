// Package cache is the read-through cache in front of the source-of-truth store.
//
// # Contract
//
// Store is a byte-oriented key/value cache with per-key TTL and explicit
// deletion. MemoryStore (in-process LRU), RedisStore (shared), and TieredStore
// (memory in front of Redis) implement it.
//
// # Keys
//
//	cred:<sha256 of credential>
//	acct:<account id>
//	perm:<account id>:<category id>
//	cat:<category id>
//	res:<resource id>
//
// Raw credentials never appear in keys.
//
// # Read-through
//
// Fetch loads a typed value through a Loader: cache first, then the loader
// function on a miss. Concurrent misses on one key collapse into a single load.
// Explicit absence (storage.ErrNotFound) is cached too, so repeated lookups of
// a missing permission do not hit the database.
//
// A cache miss always reflects current truth; a hit may be stale by up to the
// kind's TTL. Mutations that must be seen sooner evict through Invalidator.
package cache
