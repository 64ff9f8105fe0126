// Package metrics exposes Prometheus collectors for the HTTP surfaces and
// the upstream provider calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Provider metrics
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	ProviderHealth   *prometheus.GaugeVec

	// Settings metrics
	SettingsSaves *prometheus.CounterVec

	// System metrics
	FastAPIRunning prometheus.Gauge
}

// New creates a collector set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freegpt_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"server", "method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "freegpt_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"server", "method", "route"},
		),

		ProviderCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freegpt_provider_calls_total",
				Help: "Total number of upstream provider calls",
			},
			[]string{"provider", "status"},
		),
		ProviderDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "freegpt_provider_call_duration_seconds",
				Help:    "Upstream provider call duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),
		ProviderHealth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "freegpt_provider_health",
				Help: "Provider health status (0 unknown, 1 healthy, 2 degraded, 3 unhealthy)",
			},
			[]string{"provider"},
		),

		SettingsSaves: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freegpt_settings_saves_total",
				Help: "Total number of settings save attempts",
			},
			[]string{"result"},
		),

		FastAPIRunning: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "freegpt_fast_api_running",
				Help: "Whether the OpenAI-compatible server is running",
			},
		),
	}
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one handled request.
func (m *Metrics) RecordHTTPRequest(server, method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(server, method, route, status).Inc()
	m.RequestDuration.WithLabelValues(server, method, route).Observe(duration.Seconds())
}

// RecordProviderCall records one upstream attempt against provider.
func (m *Metrics) RecordProviderCall(provider string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.ProviderCalls.WithLabelValues(provider, status).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// SetProviderHealth publishes the numeric health code of provider.
func (m *Metrics) SetProviderHealth(provider string, code float64) {
	if m == nil {
		return
	}
	m.ProviderHealth.WithLabelValues(provider).Set(code)
}

// RecordSettingsSave counts a save attempt by outcome.
func (m *Metrics) RecordSettingsSave(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SettingsSaves.WithLabelValues(result).Inc()
}

// SetFastAPIRunning flips the Fast API gauge.
func (m *Metrics) SetFastAPIRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.FastAPIRunning.Set(1)
	} else {
		m.FastAPIRunning.Set(0)
	}
}
