// Package tokens inspects access tokens issued by the backend. The terminal
// never holds the signing key, so claims are read without verification and
// used only to decide when to refresh.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoExpiry = errors.New("token has no exp claim")

type Claims struct {
	StoreCode string `json:"storeCode,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func Parse(tokenStr string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &claims, nil
}

func ExpiresAt(tokenStr string) (time.Time, error) {
	claims, err := Parse(tokenStr)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired treats unparsable tokens as expired.
func IsExpired(tokenStr string, now time.Time) bool {
	exp, err := ExpiresAt(tokenStr)
	if err != nil {
		return true
	}
	return !now.Before(exp)
}

// RefreshDelay is how long to wait before refreshing so that the refresh
// lands lead ahead of expiry. It is never negative.
func RefreshDelay(tokenStr string, now time.Time, lead time.Duration) (time.Duration, error) {
	exp, err := ExpiresAt(tokenStr)
	if err != nil {
		return 0, err
	}
	d := exp.Sub(now) - lead
	if d < 0 {
		d = 0
	}
	return d, nil
}
