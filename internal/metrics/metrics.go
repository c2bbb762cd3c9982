// Package metrics exposes the agent's prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pos_terminal"

type Metrics struct {
	Registry *prometheus.Registry

	backendDuration *prometheus.HistogramVec
	queueSize       *prometheus.GaugeVec
	syncOutcomes    *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	online          prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Latency of calls to the POS backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_size",
			Help:      "Transactions waiting to be replayed.",
		}, []string{"terminal_id"}),
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_sync_total",
			Help:      "Replay attempts by outcome.",
		}, []string{"terminal_id", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Requests served by the kiosk API.",
		}, []string{"method", "route", "code"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_online",
			Help:      "1 when the last connectivity probe succeeded.",
		}),
	}
	m.online.Set(1)
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.backendDuration,
		m.queueSize,
		m.syncOutcomes,
		m.httpRequests,
		m.online,
	)
	return m
}

// ObserveBackend records one backend call. status is 0 for network failures.
func (m *Metrics) ObserveBackend(op string, status int, d time.Duration) {
	m.backendDuration.WithLabelValues(op, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) SetQueueSize(terminalID string, n int) {
	m.queueSize.WithLabelValues(terminalID).Set(float64(n))
}

func (m *Metrics) ObserveSync(terminalID, outcome string) {
	m.syncOutcomes.WithLabelValues(terminalID, outcome).Inc()
}

func (m *Metrics) SetOnline(online bool) {
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Middleware counts kiosk API requests by route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			code := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				code = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(code)).Inc()
			return err
		}
	}
}
