// Package metrics exposes the gateway's prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	latencyMs     *prometheus.HistogramVec
	tokensTotal   *prometheus.CounterVec
	refreshTotal  *prometheus.CounterVec
	eventsDropped prometheus.Counter
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_requests_total",
			Help: "Total number of /v1/messages requests processed by the gateway.",
		}, []string{"provider", "mode", "status"}),
		latencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_request_latency_ms",
			Help:    "Request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 120000},
		}, []string{"provider", "mode", "status"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_tokens_total",
			Help: "Tokens reported by upstream providers.",
		}, []string{"provider", "direction"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_oauth_refresh_total",
			Help: "OAuth token refresh attempts by outcome.",
		}, []string{"provider", "result"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_events_dropped_total",
			Help: "Interaction events dropped because the notifier queue was full.",
		}),
	}
	r.MustRegister(m.requestsTotal, m.latencyMs, m.tokensTotal, m.refreshTotal, m.eventsDropped)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts one request and its latency.
func (m *Metrics) ObserveRequest(provider string, streaming bool, status int, dur time.Duration) {
	mode := "json"
	if streaming {
		mode = "stream"
	}
	s := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(provider, mode, s).Inc()
	m.latencyMs.WithLabelValues(provider, mode, s).Observe(float64(dur.Milliseconds()))
}

// ObserveTokens adds the usage reported for one response.
func (m *Metrics) ObserveTokens(provider string, input, output int) {
	if input > 0 {
		m.tokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokensTotal.WithLabelValues(provider, "output").Add(float64(output))
	}
}

// ObserveRefresh counts one token refresh attempt.
func (m *Metrics) ObserveRefresh(provider string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshTotal.WithLabelValues(provider, result).Inc()
}

// EventDropped counts one interaction event lost to a full queue.
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}
