package auth

import "errors"

// Sentinel errors for token parsing.
var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrNilKeyProvider     = errors.New("auth: key provider is nil")
)
