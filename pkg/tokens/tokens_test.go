package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return s
}

func TestExpiresAt(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)
	tok := sign(t, Claims{
		StoreCode: "S001",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	got, err := ExpiresAt(tok)
	require.NoError(t, err)
	assert.WithinDuration(t, exp, got, time.Second)

	claims, err := Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "S001", claims.StoreCode)
	assert.Equal(t, "42", claims.Subject)
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	live := sign(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))})
	dead := sign(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour))})
	noExp := sign(t, jwt.RegisteredClaims{Subject: "1"})

	assert.False(t, IsExpired(live, now))
	assert.True(t, IsExpired(dead, now))
	assert.True(t, IsExpired(noExp, now))
	assert.True(t, IsExpired("not-a-jwt", now))
}

func TestRefreshDelay(t *testing.T) {
	now := time.Now()
	tok := sign(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute))})

	d, err := RefreshDelay(tok, now, time.Minute)
	require.NoError(t, err)
	assert.InDelta(t, (9 * time.Minute).Seconds(), d.Seconds(), 1)

	d, err = RefreshDelay(tok, now, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = RefreshDelay("garbage", now, time.Minute)
	assert.Error(t, err)
}
