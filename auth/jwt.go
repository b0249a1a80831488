package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenConfig configures the TokenParser.
type TokenConfig struct {
	// Issuer is the expected token issuer (iss claim).
	Issuer string

	// Audience is the expected token audience (aud claim).
	Audience string

	// TokenPrefix is stripped from raw tokens before parsing.
	// Default: "Bearer "
	TokenPrefix string

	// PrincipalClaim is the claim containing the user principal.
	// Default: "sub"
	PrincipalClaim string

	// TenantClaim is the claim containing the tenant ID.
	TenantClaim string

	// Now is the clock used for exp/nbf/iat validation.
	// Default: time.Now
	Now func() time.Time
}

// KeyProvider retrieves signing keys for JWT validation.
type KeyProvider interface {
	// GetKey returns the key for the given key ID.
	GetKey(ctx context.Context, keyID string) (any, error)
}

// StaticKeyProvider provides a static signing key.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider creates a static key provider.
func NewStaticKeyProvider(key []byte) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

// GetKey returns the static key.
func (p *StaticKeyProvider) GetKey(_ context.Context, _ string) (any, error) {
	return p.key, nil
}

// TokenParser validates JWTs and converts their claims into an Identity.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: every failure wraps one of ErrMissingCredentials,
//     ErrInvalidCredentials, ErrTokenExpired or ErrTokenMalformed.
type TokenParser struct {
	config      TokenConfig
	keyProvider KeyProvider
}

// NewTokenParser creates a new TokenParser.
func NewTokenParser(config TokenConfig, keyProvider KeyProvider) (*TokenParser, error) {
	if keyProvider == nil {
		return nil, ErrNilKeyProvider
	}
	if config.TokenPrefix == "" {
		config.TokenPrefix = "Bearer "
	}
	if config.PrincipalClaim == "" {
		config.PrincipalClaim = "sub"
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &TokenParser{
		config:      config,
		keyProvider: keyProvider,
	}, nil
}

// Parse validates raw (with or without the token prefix) and returns the
// identity it carries.
func (p *TokenParser) Parse(ctx context.Context, raw string) (*Identity, error) {
	tokenString := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), p.config.TokenPrefix))
	if tokenString == "" {
		return nil, ErrMissingCredentials
	}

	opts := []jwt.ParserOption{jwt.WithTimeFunc(p.config.Now)}
	if p.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.config.Issuer))
	}
	if p.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(p.config.Audience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return p.keyProvider.GetKey(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	return p.buildIdentity(claims), nil
}

// Authenticate parses raw and attaches the resulting identity to ctx.
func (p *TokenParser) Authenticate(ctx context.Context, raw string) (context.Context, *Identity, error) {
	id, err := p.Parse(ctx, raw)
	if err != nil {
		return ctx, nil, err
	}
	return WithIdentity(ctx, id), id, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
}

func (p *TokenParser) buildIdentity(claims jwt.MapClaims) *Identity {
	identity := &Identity{
		Claims: make(map[string]any, len(claims)),
	}

	for k, v := range claims {
		identity.Claims[k] = v
	}

	if principal, ok := claims[p.config.PrincipalClaim].(string); ok {
		identity.Principal = principal
	}

	if p.config.TenantClaim != "" {
		if tenant, ok := claims[p.config.TenantClaim].(string); ok {
			identity.TenantID = tenant
		}
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		identity.IssuedAt = iat.Time
	}

	return identity
}

var _ KeyProvider = (*StaticKeyProvider)(nil)
