// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/entropybridge/qrngd/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Push admission metrics (Gateway)
	PushPacketsTotal     *prometheus.CounterVec
	PushAdmitDuration    prometheus.Histogram
	BufferOverflowTotal  *prometheus.CounterVec
	BufferFillPercent    prometheus.Gauge
	BufferFreshnessSecs  prometheus.Gauge
	BytesServedTotal     prometheus.Counter

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Push admission metrics (Gateway)
		PushPacketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_packets_total",
				Help: "Total number of pushed packets by admission outcome",
			},
			[]string{"service", "result"}, // result: admitted|bad_packet|bad_auth|stale|replay
		),
		PushAdmitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "push_admission_duration_seconds",
				Help:    "Push receiver admission-check latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
			},
		),
		BufferOverflowTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "distribution_buffer_overflow_bytes_total",
				Help: "Total bytes discarded or evicted on distribution buffer overflow",
			},
			[]string{"service", "reason"}, // reason: discarded|evicted
		),
		BufferFillPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "distribution_buffer_fill_percent",
				Help: "Distribution buffer fill percentage",
			},
		),
		BufferFreshnessSecs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "distribution_buffer_freshness_seconds",
				Help: "Age in seconds of the oldest byte in the distribution buffer",
			},
		),
		BytesServedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entropy_bytes_served_total",
				Help: "Total entropy bytes served to API and MCP clients",
			},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.PushPacketsTotal,
			m.PushAdmitDuration,
			m.BufferOverflowTotal,
			m.BufferFillPercent,
			m.BufferFreshnessSecs,
			m.BytesServedTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordPushAdmission records a push receiver admission outcome.
func (m *Metrics) RecordPushAdmission(service, result string, duration time.Duration) {
	m.PushPacketsTotal.WithLabelValues(service, result).Inc()
	m.PushAdmitDuration.Observe(duration.Seconds())
}

// RecordBufferOverflow records bytes discarded or evicted on buffer overflow.
func (m *Metrics) RecordBufferOverflow(service, reason string, n int) {
	m.BufferOverflowTotal.WithLabelValues(service, reason).Add(float64(n))
}

// SetBufferState updates the buffer fill/freshness gauges.
func (m *Metrics) SetBufferState(fillPercent, freshnessSeconds float64) {
	m.BufferFillPercent.Set(fillPercent)
	m.BufferFreshnessSecs.Set(freshnessSeconds)
}

// RecordBytesServed adds n to the total bytes served counter.
func (m *Metrics) RecordBytesServed(n int) {
	m.BytesServedTotal.Add(float64(n))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
