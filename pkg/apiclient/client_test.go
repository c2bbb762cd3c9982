package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCreds struct {
	token string
	store string
}

func (s *staticCreds) AccessToken() string { return s.token }
func (s *staticCreds) StoreCode() string   { return s.store }

type refresherFunc func(ctx context.Context) (string, error)

func (f refresherFunc) Refresh(ctx context.Context) (string, error) { return f(ctx) }

func writeEnvelope(w http.ResponseWriter, status int, env map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func TestDoUnwrapsEnvelopeAndSetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pos/cart/c1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "S001", r.Header.Get("X-Store-Code"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"cartId": "c1"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/", srv.Client())
	c.Credentials = &staticCreds{token: "tok", store: "S001"}

	var out struct {
		CartID string `json:"cartId"`
	}
	require.NoError(t, c.Get(context.Background(), "pos.get_cart", "/pos/cart/c1", nil, &out))
	assert.Equal(t, "c1", out.CartID)
}

func TestDoRejections(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    map[string]any
		message string
	}{
		{"success false on 200", http.StatusOK, map[string]any{"success": false, "message": "Invalid discount code"}, "Invalid discount code"},
		{"400 with message", http.StatusBadRequest, map[string]any{"success": false, "message": "Payment total mismatch"}, "Payment total mismatch"},
		{"error field", http.StatusUnprocessableEntity, map[string]any{"success": false, "error": "bad barcode"}, "bad barcode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, tt.status, tt.body)
			}))
			defer srv.Close()

			c := New(srv.URL, srv.Client())
			err := c.Post(context.Background(), "op", "/x", map[string]any{"a": 1}, nil)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.message, MessageOf(err, "fallback"))
		})
	}
}

func TestDoNonJSONErrorUsesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL, srv.Client()).Get(context.Background(), "op", "/x", nil, nil)
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	assert.Equal(t, "Transaction failed", MessageOf(err, "Transaction failed"))
}

func TestDoNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := New(url, nil).Get(context.Background(), "op", "/x", nil, nil)
	assert.True(t, IsNetwork(err))
	assert.Equal(t, "Cannot reach server", MessageOf(err, "fallback"))
}

func TestDoRefreshesOnceAndRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeEnvelope(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "expired"})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "data": 7})
	}))
	defer srv.Close()

	var refreshed, loggedOut atomic.Int32
	c := New(srv.URL, srv.Client())
	c.Credentials = &staticCreds{token: "stale"}
	c.Refresher = refresherFunc(func(ctx context.Context) (string, error) {
		refreshed.Add(1)
		return "fresh", nil
	})
	c.OnUnauthorized = func(ctx context.Context) { loggedOut.Add(1) }

	var n int
	require.NoError(t, c.Get(context.Background(), "op", "/x", nil, &n))
	assert.Equal(t, 7, n)
	assert.EqualValues(t, 1, refreshed.Load())
	assert.EqualValues(t, 2, calls.Load())
	assert.Zero(t, loggedOut.Load())
}

func TestDoSecond401ForcesLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, map[string]any{"success": false})
	}))
	defer srv.Close()

	var refreshed, loggedOut atomic.Int32
	c := New(srv.URL, srv.Client())
	c.Refresher = refresherFunc(func(ctx context.Context) (string, error) {
		refreshed.Add(1)
		return "fresh", nil
	})
	c.OnUnauthorized = func(ctx context.Context) { loggedOut.Add(1) }

	err := c.Get(context.Background(), "op", "/x", nil, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualValues(t, 1, refreshed.Load())
	assert.EqualValues(t, 1, loggedOut.Load())
}

func TestDoRefreshFailureForcesLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, map[string]any{"success": false})
	}))
	defer srv.Close()

	var loggedOut atomic.Int32
	c := New(srv.URL, srv.Client())
	c.Refresher = refresherFunc(func(ctx context.Context) (string, error) {
		return "", errors.New("refresh denied")
	})
	c.OnUnauthorized = func(ctx context.Context) { loggedOut.Add(1) }

	err := c.Get(context.Background(), "op", "/x", nil, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualValues(t, 1, loggedOut.Load())
}

func TestDoAuthEndpoint401NeverRefreshes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, map[string]any{"success": false})
	}))
	defer srv.Close()

	var refreshed, loggedOut atomic.Int32
	c := New(srv.URL, srv.Client())
	c.Refresher = refresherFunc(func(ctx context.Context) (string, error) {
		refreshed.Add(1)
		return "fresh", nil
	})
	c.OnUnauthorized = func(ctx context.Context) { loggedOut.Add(1) }

	err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/auth/refresh", SkipAuthRefresh: true}, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, refreshed.Load())
	assert.EqualValues(t, 1, loggedOut.Load())
}

func TestExplicitAuthorizationHeaderWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer refresh-token", r.Header.Get("Authorization"))
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	c.Credentials = &staticCreds{token: "access"}
	err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/auth/refresh",
		Header: http.Header{"Authorization": []string{"Bearer refresh-token"}},
	}, nil)
	require.NoError(t, err)
}
