// Package metrics exposes Prometheus counters for logins and handoffs
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Metrics holds the Prometheus collectors. Each instance owns its registry
// so tests and multiple apps in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	LoginsStarted   *prometheus.CounterVec
	LoginsCompleted *prometheus.CounterVec
	HandoffsIssued  prometheus.Counter
	Redemptions     *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	ExpiredRemoved  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"code", "method", "route"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "handoff_http_request_duration_seconds",
				Help:    "Histogram of latencies for HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LoginsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_logins_started_total",
				Help: "Provider logins started from the login page.",
			},
			[]string{"provider"},
		),
		LoginsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_logins_completed_total",
				Help: "Provider callbacks by outcome.",
			},
			[]string{"provider", "outcome"},
		),
		HandoffsIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "handoff_callback_keys_issued_total",
				Help: "One-time callback keys handed to the native app.",
			},
		),
		Redemptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_callback_key_redemptions_total",
				Help: "Callback key redemptions by outcome.",
			},
			[]string{"outcome"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_rate_limited_total",
				Help: "Requests rejected by the rate limiter.",
			},
			[]string{"route"},
		),
		ExpiredRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_expired_records_removed_total",
				Help: "Expired records removed by the cleanup loop.",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.LoginsStarted,
		m.LoginsCompleted,
		m.HandoffsIssued,
		m.Redemptions,
		m.RateLimited,
		m.ExpiredRemoved,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one served request. route is the mux pattern,
// never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(strconv.Itoa(code), method, route).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
