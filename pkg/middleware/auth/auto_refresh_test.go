package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	access    string
	refreshed int
	err       error
}

func (f *fakeSession) AccessToken() string { return f.access }

func (f *fakeSession) Refresh(context.Context) (string, error) {
	f.refreshed++
	if f.err != nil {
		return "", f.err
	}
	f.access = token(time.Now().Add(time.Hour))
	return f.access, nil
}

func token(exp time.Time) string {
	s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}).
		SignedString([]byte("k"))
	return s
}

func serve(t *testing.T, sess *fakeSession) int {
	t.Helper()
	mw := NewAutoRefreshMiddleware(func(echo.Context) TokenSession { return sess })
	h := mw.RequireFreshToken(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	err := h(c)
	if err != nil {
		var he *echo.HTTPError
		require.True(t, errors.As(err, &he))
		return he.Code
	}
	return rec.Code
}

func TestRequireFreshToken(t *testing.T) {
	t.Run("valid token passes untouched", func(t *testing.T) {
		sess := &fakeSession{access: token(time.Now().Add(10 * time.Minute))}
		assert.Equal(t, http.StatusOK, serve(t, sess))
		assert.Zero(t, sess.refreshed)
	})
	t.Run("token inside the lead is refreshed", func(t *testing.T) {
		sess := &fakeSession{access: token(time.Now().Add(5 * time.Second))}
		assert.Equal(t, http.StatusOK, serve(t, sess))
		assert.Equal(t, 1, sess.refreshed)
	})
	t.Run("failed refresh is unauthorized", func(t *testing.T) {
		sess := &fakeSession{access: token(time.Now().Add(-time.Minute)), err: errors.New("refresh token revoked")}
		assert.Equal(t, http.StatusUnauthorized, serve(t, sess))
	})
	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(t, &fakeSession{}))
	})
}
