// Package metrics provides Prometheus instrumentation for the connection
// core, grounded on infrastructure/metrics/metrics.go's New/NewWithRegistry
// shape but scoped to dispatcher, breaker, broadcast, and connection
// registry concerns instead of HTTP/blockchain ones.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/pmserver/internal/core/breaker"
)

// Metrics holds every collector the connection core reports against.
type Metrics struct {
	service string

	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	BroadcastDelivered *prometheus.CounterVec
	BroadcastDropped   *prometheus.CounterVec

	ConnectionsOpen    prometheus.Gauge
	ConnectionsByTenant *prometheus.GaugeVec
	ConnectionsRejected prometheus.Counter

	RateLimitWarnings prometheus.Counter
	RateLimitCloses   prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector against the default Prometheus registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry registers every collector against registerer, or leaves
// them unregistered (still usable, just unexported to /metrics) when
// registerer is nil — used by tests that don't want to touch the global
// default registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pm_dispatch_total",
				Help: "Total number of dispatched messages by kind and outcome.",
			},
			[]string{"service", "kind", "outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pm_dispatch_duration_seconds",
				Help:    "Handler execution duration in seconds.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service", "kind"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pm_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"service"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pm_breaker_transitions_total",
				Help: "Total number of circuit breaker state transitions.",
			},
			[]string{"service", "from", "to"},
		),

		BroadcastDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pm_broadcast_delivered_total",
				Help: "Total number of events delivered to a subscriber channel.",
			},
			[]string{"service", "tenant"},
		),
		BroadcastDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pm_broadcast_dropped_total",
				Help: "Total number of events dropped because a subscriber's channel was full.",
			},
			[]string{"service", "tenant"},
		),

		ConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pm_connections_open",
				Help: "Current number of registered connections.",
			},
		),
		ConnectionsByTenant: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pm_connections_by_tenant",
				Help: "Current number of registered connections per tenant.",
			},
			[]string{"tenant"},
		),
		ConnectionsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pm_connections_rejected_total",
				Help: "Total number of connection attempts rejected at the registry cap.",
			},
		),

		RateLimitWarnings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pm_rate_limit_warnings_total",
				Help: "Total number of rate limit warnings issued.",
			},
		),
		RateLimitCloses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pm_rate_limit_closes_total",
				Help: "Total number of connections closed for sustained rate limit violations.",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pm_http_requests_total",
				Help: "Total number of HTTP requests served by the REST mirror.",
			},
			[]string{"service", "method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "method", "path"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.DispatchTotal,
			m.DispatchDuration,
			m.BreakerState,
			m.BreakerTransitions,
			m.BroadcastDelivered,
			m.BroadcastDropped,
			m.ConnectionsOpen,
			m.ConnectionsByTenant,
			m.ConnectionsRejected,
			m.RateLimitWarnings,
			m.RateLimitCloses,
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
		)
	}

	m.service = serviceName
	return m
}

// RecordDispatch records one dispatched message's outcome and duration.
func (m *Metrics) RecordDispatch(kind, outcome string, elapsed time.Duration) {
	m.DispatchTotal.WithLabelValues(m.service, kind, outcome).Inc()
	m.DispatchDuration.WithLabelValues(m.service, kind).Observe(elapsed.Seconds())
}

// OnBreakerStateChange is passed as breaker.Config.OnStateChange.
func (m *Metrics) OnBreakerStateChange(from, to breaker.State) {
	m.BreakerState.WithLabelValues(m.service).Set(float64(to))
	m.BreakerTransitions.WithLabelValues(m.service, from.String(), to.String()).Inc()
}

// RecordBroadcast records a single Broadcast call's delivered and dropped
// counts for one tenant.
func (m *Metrics) RecordBroadcast(tenant string, delivered, dropped int) {
	if delivered > 0 {
		m.BroadcastDelivered.WithLabelValues(m.service, tenant).Add(float64(delivered))
	}
	if dropped > 0 {
		m.BroadcastDropped.WithLabelValues(m.service, tenant).Add(float64(dropped))
	}
}

// SetConnections reports the registry's current totals.
func (m *Metrics) SetConnections(total int, perTenant map[string]int) {
	m.ConnectionsOpen.Set(float64(total))
	for tenant, count := range perTenant {
		m.ConnectionsByTenant.WithLabelValues(tenant).Set(float64(count))
	}
}

// RecordConnectionRejected records a connection refused at the registry cap.
func (m *Metrics) RecordConnectionRejected() {
	m.ConnectionsRejected.Inc()
}

// RecordRateLimitWarning records a single rate-limit warning outcome.
func (m *Metrics) RecordRateLimitWarning() {
	m.RateLimitWarnings.Inc()
}

// RecordRateLimitClose records a connection closed for sustained violations.
func (m *Metrics) RecordRateLimitClose() {
	m.RateLimitCloses.Inc()
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(m.service, method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.service, method, path).Observe(elapsed.Seconds())
}
