package auth

import (
	"context"
	"fmt"
	"net/http"
)

// DefaultCookieName is the cookie carrying the session handle.
const DefaultCookieName = "CHAT_APP_SID"

// Credential is the identity material presented when a connection opens.
type Credential struct {
	SessionHandle string
	BearerToken   string
}

// Empty reports whether the credential carries nothing to authenticate with.
func (c Credential) Empty() bool {
	return c.SessionHandle == "" && c.BearerToken == ""
}

// CredentialFromRequest collects the session cookie named cookieName and any
// bearer token. Browsers cannot set headers on WebSocket upgrades, so the bearer
// token may also arrive as the access_token query parameter.
func CredentialFromRequest(r *http.Request, cookieName string) Credential {
	var cred Credential

	if cookie, err := r.Cookie(cookieName); err == nil {
		cred.SessionHandle = cookie.Value
	}

	if token, ok := BearerFromHeader(r); ok {
		cred.BearerToken = token
	} else if token := r.URL.Query().Get("access_token"); token != "" {
		cred.BearerToken = token
	}

	return cred
}

// SessionResolver resolves session handles.
type SessionResolver interface {
	Resolve(ctx context.Context, handle string) (Identity, error)
}

// AuthenticatorConfig configures an Authenticator.
type AuthenticatorConfig struct {
	// BearerSecret enables the trusted-principal path when non-empty.
	BearerSecret string
}

// Authenticator selects how a credential is verified: the session path when a
// session handle is present, otherwise the platform bearer token.
type Authenticator struct {
	sessions     SessionResolver
	bearerSecret string
}

// NewAuthenticator creates an authenticator. sessions may be nil when no session
// cache is configured, in which case session handles are rejected.
func NewAuthenticator(sessions SessionResolver, cfg AuthenticatorConfig) *Authenticator {
	return &Authenticator{
		sessions:     sessions,
		bearerSecret: cfg.BearerSecret,
	}
}

// Authenticate returns the identity behind cred.
func (a *Authenticator) Authenticate(ctx context.Context, cred Credential) (Identity, error) {
	switch {
	case cred.SessionHandle != "":
		if a.sessions == nil {
			return Identity{}, fmt.Errorf("%w: session authentication is not configured", ErrCacheUnavailable)
		}
		return a.sessions.Resolve(ctx, cred.SessionHandle)

	case cred.BearerToken != "" && a.bearerSecret != "":
		claims, err := ParseBearer(a.bearerSecret, cred.BearerToken)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
		return Identity{Username: claims.Subject, Subject: claims.Subject}, nil

	default:
		return Identity{}, ErrNoCredential
	}
}
