// Package metrics provides Prometheus metrics for the karma transfer agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector the agent exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Feed and dispatch
	eventsReceived  prometheus.Counter
	eventsDuplicate prometheus.Counter
	commands        *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
	dispatchErrors  prometheus.Counter

	// Recovery loop
	reconnects     *prometheus.CounterVec
	backoffAttempt prometheus.Gauge
	backoffDelay   prometheus.Gauge

	// Ledger
	ledgerLatency *prometheus.HistogramVec
	ledgerErrors  *prometheus.CounterVec
	ledgerRecords prometheus.Gauge

	// Alerting
	faultQueueSize    prometheus.Gauge
	faultQueueDropped prometheus.Counter
	alertsSent        prometheus.Counter
	alertsFailed      prometheus.Counter

	// Upstream API
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  prometheus.Histogram
	roleCache        *prometheus.CounterVec

	// HTTP ops server
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// Process
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // private registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "xferkarma",
		subsystem:        "agent",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.eventsReceived = m.counter("events_received_total", "Total number of feed events received")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Total number of re-delivered feed events skipped")
	m.commands = m.counterVec("commands_total", "Recognised commands by kind", "kind")
	m.outcomes = m.counterVec("outcomes_total", "Command outcomes by kind", "kind")
	m.dispatchLatency = m.histogram("dispatch_latency_seconds", "Time spent dispatching a single event")
	m.dispatchErrors = m.counter("dispatch_errors_total", "Dispatches that ended in a fault")

	m.reconnects = m.counterVec("reconnects_total", "Stream reconnects by fault severity", "severity")
	m.backoffAttempt = m.gauge("backoff_attempt", "Current consecutive failure count of the recovery loop")
	m.backoffDelay = m.gauge("backoff_delay_seconds", "Delay applied before the latest reconnect")

	m.ledgerLatency = m.histogramVec("ledger_latency_seconds", "Ledger operation latency", "op")
	m.ledgerErrors = m.counterVec("ledger_errors_total", "Ledger operation failures", "op")
	m.ledgerRecords = m.gauge("ledger_records", "Number of transfer records in the ledger")

	m.faultQueueSize = m.gauge("fault_queue_size", "Faults waiting to be alerted")
	m.faultQueueDropped = m.counter("fault_queue_dropped_total", "Faults dropped because the queue was full")
	m.alertsSent = m.counter("alerts_sent_total", "Alerts delivered to the alert sink")
	m.alertsFailed = m.counter("alerts_failed_total", "Alerts the sink rejected")

	m.upstreamRequests = m.counterVec("upstream_requests_total", "Upstream API requests by endpoint and status", "endpoint", "status")
	m.upstreamLatency = m.histogram("upstream_latency_seconds", "Upstream API request latency")
	m.roleCache = m.counterVec("role_cache_total", "Role lookups by cache result", "result")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause in milliseconds")
}

// Feed and dispatch.

func RecordEventReceived() { globalManager.eventsReceived.Inc() }
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }
func RecordCommand(kind string) { globalManager.commands.WithLabelValues(kind).Inc() }
func RecordOutcome(kind string) { globalManager.outcomes.WithLabelValues(kind).Inc() }
func RecordDispatchError() { globalManager.dispatchErrors.Inc() }
func RecordDispatchLatency(seconds float64) {
	globalManager.dispatchLatency.Observe(seconds)
}

// Recovery loop.

// RecordReconnect counts a transition into the reconnecting state.
func RecordReconnect(severity string) {
	globalManager.reconnects.WithLabelValues(severity).Inc()
}

// UpdateBackoff publishes the current attempt counter and the delay it produced.
func UpdateBackoff(attempt int, delaySeconds float64) {
	globalManager.backoffAttempt.Set(float64(attempt))
	globalManager.backoffDelay.Set(delaySeconds)
}

// Ledger.

func RecordLedgerLatency(op string, seconds float64) {
	globalManager.ledgerLatency.WithLabelValues(op).Observe(seconds)
}
func RecordLedgerError(op string) { globalManager.ledgerErrors.WithLabelValues(op).Inc() }
func UpdateLedgerRecords(count int64) { globalManager.ledgerRecords.Set(float64(count)) }

// Alerting.

func UpdateFaultQueueSize(size int) { globalManager.faultQueueSize.Set(float64(size)) }
func RecordFaultDropped() { globalManager.faultQueueDropped.Inc() }
func RecordAlertSent() { globalManager.alertsSent.Inc() }
func RecordAlertFailed() { globalManager.alertsFailed.Inc() }

// Upstream API.

func RecordUpstreamRequest(endpoint, status string, seconds float64) {
	globalManager.upstreamRequests.WithLabelValues(endpoint, status).Inc()
	globalManager.upstreamLatency.Observe(seconds)
}

// RecordRoleCache counts a role lookup as "hit" or "miss".
func RecordRoleCache(result string) { globalManager.roleCache.WithLabelValues(result).Inc() }

// HTTP ops server.

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// Process.

func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the private registry the global manager registers on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
