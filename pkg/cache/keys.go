package cache

import (
	"strings"

	"github.com/platinummonkey/assetgate/pkg/storage"
)

const (
	prefixCredential = "cred:"
	prefixAccount    = "acct:"
	prefixPermission = "perm:"
	prefixCategory   = "cat:"
	prefixResource   = "res:"
)

// CredentialKey is keyed by the credential's SHA-256 hash, never the raw token
func CredentialKey(tokenHash string) string {
	return prefixCredential + tokenHash
}

// AccountKey holds the account status snapshot
func AccountKey(accountID string) string {
	return prefixAccount + accountID
}

// PermissionKey holds the (account, category) entitlement or its absence
func PermissionKey(accountID, categoryID string) string {
	return prefixPermission + accountID + ":" + categoryID
}

// CategoryKey holds a resource category
func CategoryKey(categoryID string) string {
	return prefixCategory + categoryID
}

// ResourceKey holds a resource's catalogue entry
func ResourceKey(resourceID string) string {
	return prefixResource + resourceID
}

// KindOf maps a key to its storage kind, used for TTL lookup and metric labels
func KindOf(key string) string {
	switch {
	case strings.HasPrefix(key, prefixCredential):
		return storage.KindCredential
	case strings.HasPrefix(key, prefixAccount):
		return storage.KindAccount
	case strings.HasPrefix(key, prefixPermission):
		return storage.KindPermission
	case strings.HasPrefix(key, prefixCategory):
		return storage.KindCategory
	case strings.HasPrefix(key, prefixResource):
		return storage.KindResource
	default:
		return "unknown"
	}
}
