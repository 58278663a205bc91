package auth

// Scope represents a permission granted to a credential
type Scope string

const (
	ScopeAssetsRead     Scope = "assets:read"
	ScopeAssetsDownload Scope = "assets:download"
	ScopePresetsRead    Scope = "presets:read"
	ScopeAll            Scope = "*"
)

// HasScope reports whether scopes contains scope or the wildcard
func HasScope(scopes []string, scope Scope) bool {
	for _, s := range scopes {
		if Scope(s) == ScopeAll || Scope(s) == scope {
			return true
		}
	}
	return false
}
