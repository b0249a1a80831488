package query

import (
	"context"

	"github.com/jonwraymond/querycache/auth"
	"github.com/jonwraymond/querycache/cache"
)

var defaultKeyer = cache.NewDefaultKeyer()

// Key derives a cache key from composite parts with cache.DefaultKeyer.
// A single string part is returned unchanged.
func Key(parts ...any) (string, error) {
	return defaultKeyer.Key(parts...)
}

// ScopedKey prefixes key with the scope of the identity carried by ctx.
// Without an identity the key is returned unchanged.
func ScopedKey(ctx context.Context, key string) string {
	return auth.ScopeFromContext(ctx) + key
}

// InvalidateScope invalidates every key owned by the identity in ctx, for
// example on sign-out.
func (c *Client) InvalidateScope(ctx context.Context) error {
	scope := auth.ScopeFromContext(ctx)
	if scope == "" {
		return ErrEmptyScope
	}
	return c.InvalidatePrefix(ctx, scope)
}
