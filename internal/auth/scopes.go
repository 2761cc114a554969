package auth

const (
	ScopeOpenID       = "openid"
	ScopeProfile      = "profile"
	ScopeEmail        = "email"
	ScopeTenantsRead  = "tenants:read"
	ScopeTenantsAdmin = "tenants:admin"
)

// AllScopes is every scope the service understands.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeTenantsRead,
	ScopeTenantsAdmin,
}

// LoginScopes are requested by interactive logins. Admin access is granted by
// configuration or by tokens minted for it, never by a browser login.
var LoginScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeTenantsRead,
}

// hasScope reports whether scope is present in granted.
func hasScope(granted []string, scope string) bool {
	for _, s := range granted {
		if s == scope {
			return true
		}
	}
	return false
}
