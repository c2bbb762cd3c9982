package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reports struct {
	mu  sync.Mutex
	got []bool
}

func (r *reports) report(_ context.Context, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, online)
}

func (r *reports) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestCheckReportsEveryProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)

	rep := &reports{}
	var changes []bool
	m := New(srv.URL+"/api/", srv.Client(), rep.report)
	m.OnChange = func(online bool) { changes = append(changes, online) }
	ctx := context.Background()

	assert.True(t, m.Check(ctx))
	assert.True(t, m.Check(ctx))

	status.Store(http.StatusServiceUnavailable)
	assert.False(t, m.Check(ctx))
	assert.False(t, m.Online())

	status.Store(http.StatusNotFound)
	assert.True(t, m.Check(ctx), "any answer below 500 means the backend is up")

	assert.Equal(t, []bool{true, true, false, true}, rep.got)
	assert.Equal(t, []bool{true, false, true}, changes)
}

func TestCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := New(url, nil, nil)
	m.Timeout = time.Second
	assert.False(t, m.Check(context.Background()))
	assert.False(t, m.Online())
}

func TestRunStopsWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	rep := &reports{}
	m := New(srv.URL, srv.Client(), rep.report)
	m.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return rep.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
