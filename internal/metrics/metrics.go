// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cors_proxy"

// ProxiedLabel is the path label for every request forwarded to a target.
const ProxiedLabel = "proxied"

// Latency buckets in seconds. The top bucket matches the default upstream timeout.
var latencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

var inboundLabels = []string{"method", "status_code", "path_prefix"}

// Metrics holds the collectors, all registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamFailures  *prometheus.CounterVec

	knownPaths map[string]bool
}

// New registers every collector on a fresh registry. metricsPath is the
// route the registry is served on and gets its own path label.
func New(metricsPath string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		Registry: reg,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Inbound HTTP requests by method, status and route.",
		}, inboundLabels),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time from receiving a request to writing its response.",
			Buckets:   latencyBuckets,
		}, inboundLabels),
		RequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Inbound requests currently being served.",
		}),
		UpstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Time spent waiting on the target, body read included.",
			Buckets:   latencyBuckets,
		}, []string{"method"}),
		UpstreamResponses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "responses_total",
			Help:      "Responses received from targets by method and status.",
		}, []string{"method", "status_code"}),
		UpstreamFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "failures_total",
			Help:      "Forwarded calls that produced no response.",
		}, []string{"method"}),
		knownPaths: map[string]bool{"/": true, "/proxy/status": true, "/iscorsneeded": true},
	}
	if metricsPath != "" {
		m.knownPaths[metricsPath] = true
	}
	return m
}

var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true, "CONNECT": true,
}

// NormalizeMethod maps anything outside the standard methods to "other".
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// NormalizePath returns a bounded path label. Every path the proxy forwards
// collapses into ProxiedLabel; target URLs never become label values.
func (m *Metrics) NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if m.knownPaths[path] {
		return path
	}
	return ProxiedLabel
}
