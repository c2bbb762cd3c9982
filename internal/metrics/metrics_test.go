package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()

	m.ObserveBackend("pos.checkout", 200, 40*time.Millisecond)
	m.ObserveBackend("pos.checkout", 0, time.Second)
	assert.Equal(t, 2, testutil.CollectAndCount(m.backendDuration))

	m.SetQueueSize("lane-1", 3)
	m.SetQueueSize("lane-1", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueSize.WithLabelValues("lane-1")))

	m.ObserveSync("lane-1", "synced")
	m.ObserveSync("lane-1", "synced")
	m.ObserveSync("lane-1", "dropped")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.syncOutcomes.WithLabelValues("lane-1", "synced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncOutcomes.WithLabelValues("lane-1", "dropped")))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.online))
	m.SetOnline(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.online))
}

func TestHandlerAndMiddleware(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/terminal/cart/:id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/terminal/cart/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/terminal/cart/:id", "200")))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "pos_terminal_http_requests_total"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
