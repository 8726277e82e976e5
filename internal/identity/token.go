package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSubject = errors.New("token has no subject claim")

// The IdP is external and the backend verifies signatures; the client only
// reads claims.
func parseClaims(token string) (jwt.MapClaims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("parse token: unexpected claims type")
	}
	return claims, nil
}

// SubjectFromToken returns the token's "sub" claim.
func SubjectFromToken(token string) (string, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("token subject: %w", err)
	}
	if sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}

// Expired reports whether the token's "exp" claim is in the past. Tokens
// without an expiry never expire.
func Expired(token string) (bool, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return false, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return false, fmt.Errorf("token expiry: %w", err)
	}
	if exp == nil {
		return false, nil
	}
	return exp.Before(time.Now()), nil
}
