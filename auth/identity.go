package auth

import (
	"net/url"
	"time"
)

// Identity represents an authenticated principal.
type Identity struct {
	// Principal is the unique identifier (e.g., user ID, email).
	Principal string

	// TenantID is the tenant this identity belongs to (multi-tenancy).
	TenantID string

	// Claims contains the raw claims from the token.
	Claims map[string]any

	// ExpiresAt is when this identity expires.
	ExpiresAt time.Time

	// IssuedAt is when this identity was created.
	IssuedAt time.Time
}

// IsExpired reports whether the identity expired before now.
func (id *Identity) IsExpired(now time.Time) bool {
	if id.ExpiresAt.IsZero() {
		return false
	}
	return now.After(id.ExpiresAt)
}

// IsAnonymous returns true if the identity carries no principal.
func (id *Identity) IsAnonymous() bool {
	return id == nil || id.Principal == ""
}

// ScopePrefix returns the cache key prefix owned by this identity.
//
// The format is "<tenant>/<principal>/", or "<principal>/" without a tenant.
// Segments are path-escaped so a "/" inside a principal cannot collide with
// another identity's scope. Anonymous identities have no scope.
func (id *Identity) ScopePrefix() string {
	if id.IsAnonymous() {
		return ""
	}
	prefix := url.PathEscape(id.Principal) + "/"
	if id.TenantID != "" {
		prefix = url.PathEscape(id.TenantID) + "/" + prefix
	}
	return prefix
}
