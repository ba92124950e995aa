// Package auth turns connection credentials into verified identities.
package auth

import "errors"

// Token verification failures.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrClaimsInvalid    = errors.New("token claims invalid")
	ErrClaimMissing     = errors.New("identity claim missing")
)

// Session resolution failures.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrTokenInvalid     = errors.New("session token invalid")
	ErrCacheUnavailable = errors.New("session cache unavailable")
)

// ErrCacheMiss is returned by a SessionCache when no record exists for a handle.
var ErrCacheMiss = errors.New("cache miss")

// ErrNoCredential is returned when a request carries no identity credential at all.
var ErrNoCredential = errors.New("no credential")

// Reason classifies an authentication error for logs and metrics. It is never
// sent to clients.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoCredential):
		return "no_credential"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrCacheUnavailable):
		return "cache_unavailable"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	default:
		return "unknown"
	}
}
