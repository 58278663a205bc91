// Package grant mints short-lived retrieval credentials for stored assets.
//
// A Minter turns a resource's storage handle into an AccessGrant: a URL that
// is valid until ExpiresAt. S3Presigner signs S3 GET requests (AWS or any
// S3-compatible endpoint such as MinIO); StaticMinter produces unsigned,
// deterministic URLs for development and tests.
//
// Minters own no state and never check entitlement. Callers must only ask for
// a grant after every authorization gate has passed.
package grant
