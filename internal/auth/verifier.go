package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultIdentityClaim is the claim holding the username in session tokens.
const DefaultIdentityClaim = "email"

// Identity is a verified user identity.
type Identity struct {
	Username string
	Subject  string
}

// Verifier validates signed identity tokens against a trusted key set.
// It holds no per-call state and is safe for concurrent use.
type Verifier struct {
	keys          oidc.KeySet
	identityClaim string
	parser        *jwt.Parser
	validator     *jwt.Validator
}

// VerifierOption configures a Verifier.
type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	identityClaim string
	issuer        string
	audience      string
	leeway        time.Duration
}

// WithIdentityClaim sets the claim the username is read from.
func WithIdentityClaim(claim string) VerifierOption {
	return func(o *verifierOptions) {
		if claim != "" {
			o.identityClaim = claim
		}
	}
}

// WithIssuer requires the token's iss claim to equal issuer.
func WithIssuer(issuer string) VerifierOption {
	return func(o *verifierOptions) { o.issuer = issuer }
}

// WithAudience requires the token's aud claim to contain audience.
func WithAudience(audience string) VerifierOption {
	return func(o *verifierOptions) { o.audience = audience }
}

// WithLeeway allows for clock skew when checking time-based claims.
func WithLeeway(leeway time.Duration) VerifierOption {
	return func(o *verifierOptions) { o.leeway = leeway }
}

// NewVerifier creates a verifier backed by keys. In production keys is an
// oidc.RemoteKeySet, which fetches and caches the JWKS document.
func NewVerifier(keys oidc.KeySet, opts ...VerifierOption) *Verifier {
	o := verifierOptions{identityClaim: DefaultIdentityClaim}
	for _, opt := range opts {
		opt(&o)
	}

	var validatorOpts []jwt.ParserOption
	if o.leeway > 0 {
		validatorOpts = append(validatorOpts, jwt.WithLeeway(o.leeway))
	}
	if o.issuer != "" {
		validatorOpts = append(validatorOpts, jwt.WithIssuer(o.issuer))
	}
	if o.audience != "" {
		validatorOpts = append(validatorOpts, jwt.WithAudience(o.audience))
	}

	return &Verifier{
		keys:          keys,
		identityClaim: o.identityClaim,
		parser:        jwt.NewParser(),
		validator:     jwt.NewValidator(validatorOpts...),
	}
}

// Verify checks token's signature and claims and returns the identity it carries.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	if _, _, err := v.parser.ParseUnverified(token, jwt.MapClaims{}); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	payload, err := v.keys.VerifySignature(ctx, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	// Claims are read from the verified payload only.
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if err := v.validator.Validate(claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrClaimsInvalid, err)
	}

	username, _ := claims[v.identityClaim].(string)
	if username == "" {
		return Identity{}, fmt.Errorf("%w: %s", ErrClaimMissing, v.identityClaim)
	}

	subject, _ := claims.GetSubject()

	return Identity{Username: username, Subject: subject}, nil
}
