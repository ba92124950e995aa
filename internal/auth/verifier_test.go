package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce    sync.Once
	trustedKey *rsa.PrivateKey
	rogueKey   *rsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		trustedKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		rogueKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return trustedKey, rogueKey
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newTestVerifier(t *testing.T, opts ...VerifierOption) *Verifier {
	t.Helper()
	trusted, _ := testKeys(t)
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&trusted.PublicKey}}
	return NewVerifier(keys, opts...)
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   "test",
		"sub":   "test-subject",
		"aud":   "test",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Minute).Unix(),
		"email": "test@test.com",
	}
}

func TestVerifier_Verify(t *testing.T) {
	trusted, rogue := testKeys(t)
	ctx := context.Background()

	t.Run("should return identity from the email claim", func(t *testing.T) {
		req := require.New(t)
		v := newTestVerifier(t)

		id, err := v.Verify(ctx, signRS256(t, trusted, validClaims()))

		req.NoError(err)
		req.Equal("test@test.com", id.Username)
		req.Equal("test-subject", id.Subject)
	})

	t.Run("should read a configured identity claim", func(t *testing.T) {
		req := require.New(t)
		v := newTestVerifier(t, WithIdentityClaim("sub"))

		id, err := v.Verify(ctx, signRS256(t, trusted, validClaims()))

		req.NoError(err)
		req.Equal("test-subject", id.Username)
	})

	t.Run("should fail on a token that cannot be parsed", func(t *testing.T) {
		v := newTestVerifier(t)

		_, err := v.Verify(ctx, "not-a-token")

		require.ErrorIs(t, err, ErrMalformedToken)
	})

	t.Run("should fail when signed by an unknown key", func(t *testing.T) {
		v := newTestVerifier(t)

		_, err := v.Verify(ctx, signRS256(t, rogue, validClaims()))

		require.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("should fail when the identity claim is absent", func(t *testing.T) {
		v := newTestVerifier(t)
		claims := validClaims()
		delete(claims, "email")

		_, err := v.Verify(ctx, signRS256(t, trusted, claims))

		require.ErrorIs(t, err, ErrClaimMissing)
	})

	t.Run("should fail when the identity claim is not a string", func(t *testing.T) {
		v := newTestVerifier(t)
		claims := validClaims()
		claims["email"] = 42

		_, err := v.Verify(ctx, signRS256(t, trusted, claims))

		require.ErrorIs(t, err, ErrClaimMissing)
	})

	t.Run("should fail on an expired token", func(t *testing.T) {
		v := newTestVerifier(t)
		claims := validClaims()
		claims["exp"] = time.Now().Add(-time.Hour).Unix()

		_, err := v.Verify(ctx, signRS256(t, trusted, claims))

		require.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("should enforce the configured issuer", func(t *testing.T) {
		v := newTestVerifier(t, WithIssuer("https://issuer.example"))

		_, err := v.Verify(ctx, signRS256(t, trusted, validClaims()))

		require.ErrorIs(t, err, ErrClaimsInvalid)
	})

	t.Run("should accept a matching audience", func(t *testing.T) {
		v := newTestVerifier(t, WithAudience("test"), WithIssuer("test"))

		_, err := v.Verify(ctx, signRS256(t, trusted, validClaims()))

		require.NoError(t, err)
	})
}

func TestVerifier_ConcurrentUse(t *testing.T) {
	trusted, _ := testKeys(t)
	v := newTestVerifier(t)
	token := signRS256(t, trusted, validClaims())

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(context.Background(), token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}
