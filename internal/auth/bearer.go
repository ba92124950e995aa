package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrBearerInvalid is returned for bearer tokens that fail validation.
var ErrBearerInvalid = errors.New("bearer token invalid")

// Claims are the claims of platform-issued bearer tokens.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scope"`
}

// ParseBearer validates an HMAC-signed bearer token issued by the platform.
func ParseBearer(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrBearerInvalid
	}
	if claims.Subject == "" {
		return nil, ErrBearerInvalid
	}
	return claims, nil
}

// BearerFromHeader extracts the token from an "Authorization: Bearer" header.
func BearerFromHeader(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
