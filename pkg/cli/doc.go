// Package cli provides the assetgate-admin command-line interface for entitlement administration.
//
// # Overview
//
// Every mutating command writes the source of truth and then evicts the cache
// keys that could still serve the old state, so the change is visible to the
// next authorization request.
//
// # Commands
//
// revoke-credential: Revoke a credential
//
//	assetgate-admin revoke-credential -token ag_...
//	assetgate-admin revoke-credential -hash 5e88...
//
// suspend / reactivate / deactivate: Change an account's status
//
//	assetgate-admin suspend -account acc-42 -reason "chargeback"
//	assetgate-admin reactivate -account acc-42
//
// grant / revoke / record-payment: Manage category entitlements
//
//	assetgate-admin grant -account acc-42 -category pro-pack -amount 4.99 -expires 720h
//	assetgate-admin record-payment -account acc-42 -category pro-pack -amount 4.99
//	assetgate-admin revoke -account acc-42 -category pro-pack
//
// set-quota / quota: Manage quota
//
//	assetgate-admin set-quota -account acc-42 -limit 5000
//	assetgate-admin quota -account acc-42
//
// evict: Drop cached catalogue entries after editing categories or resources
//
//	assetgate-admin evict -category pro-pack -resource res-7
//
// check: Dry-run an authorization. Prints the result and exits non-zero on denial.
//
//	assetgate-admin check -token ag_... -resource res-7
package cli
