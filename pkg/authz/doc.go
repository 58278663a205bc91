// Package authz decides whether a credential may retrieve a resource and, if
// so, issues a short-lived retrieval grant.
//
// The pipeline runs a fixed sequence of stages, each over an immutable
// request state and each either continuing or ending the request:
//
//	credential -> account status -> resource -> permission -> payment -> quota -> grant
//
// Cheap checks come first so a denied request never consumes quota, and the
// grant, the only externally visible side effect, is issued last. Reads go
// through the read-through cache in package cache; the quota increment and
// the usage log go straight to the source of truth.
//
// Every failure is an *Error whose Kind belongs to a closed taxonomy, so the
// calling layer can map outcomes to protocol responses deterministically.
// Failures to read the cache or the store are reported as StoreUnavailable;
// the pipeline never treats an unanswered question as entitlement.
//
// Usage:
//
//	authorizer, err := authz.NewAuthorizer(authz.Dependencies{
//		Store:      store,
//		Loader:     loader,
//		Minter:     presigner,
//		Bookkeeper: dispatcher,
//		Retry:      storage.NewRetryPolicy(storage.DefaultRetryConfig()),
//		Logger:     logger,
//		Metrics:    metrics,
//	}, authz.DefaultConfig())
//
//	result := authorizer.Authorize(ctx, credential, resourceID)
//	if result.Err != nil {
//		// result.Err.Kind, result.Err.HTTPStatusHint, result.Err.Detail
//	}
package authz
