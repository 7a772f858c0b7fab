package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed = errors.New("jwtx: malformed token")
	ErrNoExpiry  = errors.New("jwtx: token has no exp claim")
)

// Expiry reads the "exp" claim of a device JWT without verifying the
// signature. The SDK only carries the token to the reader; the backend that
// issued it is the party that verifies it.
func Expiry(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims

	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, ErrMalformed
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}

	return claims.ExpiresAt.Time, nil
}
