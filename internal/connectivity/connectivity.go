// Package connectivity decides whether the POS backend is reachable by
// probing its health endpoint on an interval.
package connectivity

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Reporter receives the result of every probe.
type Reporter func(ctx context.Context, online bool)

type Monitor struct {
	HealthURL string
	Client    *http.Client
	Interval  time.Duration
	Timeout   time.Duration
	Report    Reporter
	// OnChange runs only on transitions.
	OnChange func(online bool)

	mu     sync.Mutex
	online bool
	probed bool
}

// New probes {baseURL}/health.
func New(baseURL string, client *http.Client, report Reporter) *Monitor {
	return &Monitor{
		HealthURL: strings.TrimRight(baseURL, "/") + "/health",
		Client:    client,
		Report:    report,
		online:    true,
	}
}

func (m *Monitor) interval() time.Duration {
	if m.Interval > 0 {
		return m.Interval
	}
	return DefaultInterval
}

func (m *Monitor) timeout() time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	return DefaultTimeout
}

// Probe reports whether the backend answered below 500.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.HealthURL, nil)
	if err != nil {
		return false
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}

// Check probes once and reports the result.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.Probe(ctx)
	if ctx.Err() != nil {
		return m.Online()
	}

	m.mu.Lock()
	changed := !m.probed || m.online != online
	m.online, m.probed = online, true
	m.mu.Unlock()

	l := logging.FromContext(ctx).With("svc", "connectivity.check", "url", m.HealthURL)
	if changed {
		if online {
			l.Info("backend reachable")
		} else {
			l.Warn("backend unreachable")
		}
		if m.OnChange != nil {
			m.OnChange(online)
		}
	}
	if m.Report != nil {
		m.Report(ctx, online)
	}
	return online
}

// Run checks immediately and then every Interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval())
	defer t.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
