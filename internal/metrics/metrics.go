package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the coordination core.
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Fan-out Metrics
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	Connections     prometheus.Gauge
	Subscriptions   prometheus.Gauge

	// Telemetry Metrics
	TelemetryIngested *prometheus.CounterVec

	// Command Metrics
	CommandsIssued     *prometheus.CounterVec
	CommandTransitions *prometheus.CounterVec
	CommandsPending    prometheus.Gauge

	// Conflict Metrics
	ConflictTicks        *prometheus.CounterVec
	ConflictTickDuration prometheus.Histogram
	ConflictsOpen        prometheus.Gauge

	// Audit Metrics
	AuditDropped prometheus.Counter
}

// NewRegistry initializes and returns a new Registry with all metrics
// registered on a private prometheus registry
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Registry{
		reg: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "utm_http_requests_total",
				Help: "Total HTTP requests processed by route, method, and status code",
			},
			[]string{"route", "method", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "utm_http_request_duration_seconds",
				Help:    "HTTP request latency distribution in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"route", "method"},
		),

		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "utm_events_published_total",
				Help: "Events enqueued to subscriber connections by event kind",
			},
			[]string{"kind"},
		),
		EventsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "utm_events_dropped_total",
				Help: "Events dropped because a subscriber queue was full, by event kind",
			},
			[]string{"kind"},
		),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "utm_connections",
			Help: "Currently registered subscriber connections",
		}),
		Subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "utm_subscriptions",
			Help: "Currently active (connection, topic) subscriptions",
		}),

		TelemetryIngested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "utm_telemetry_ingested_total",
				Help: "Telemetry points received by result (accepted, stale, rejected, invalid)",
			},
			[]string{"result"},
		),

		CommandsIssued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "utm_commands_issued_total",
				Help: "Drone commands issued by command type",
			},
			[]string{"type"},
		),
		CommandTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "utm_command_transitions_total",
				Help: "Accepted command status transitions by target status",
			},
			[]string{"status"},
		),
		CommandsPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "utm_commands_pending",
			Help: "Commands in pending, sent or executing status",
		}),

		ConflictTicks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "utm_conflict_ticks_total",
				Help: "Conflict evaluation ticks by outcome (ok, skipped, error)",
			},
			[]string{"outcome"},
		),
		ConflictTickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "utm_conflict_tick_duration_seconds",
			Help:    "Conflict evaluation tick duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		ConflictsOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "utm_conflicts_open",
			Help: "Conflicts not yet resolved",
		}),

		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "utm_audit_records_dropped_total",
			Help: "Audit records dropped because the writer queue was full",
		}),
	}
}

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests and custom exporters
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) ObserveHTTP(route, method, status string, seconds float64) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(route, method).Observe(seconds)
}

func (r *Registry) EventPublished(kind string) {
	if r == nil {
		return
	}
	r.EventsPublished.WithLabelValues(kind).Inc()
}

func (r *Registry) EventDropped(kind string) {
	if r == nil {
		return
	}
	r.EventsDropped.WithLabelValues(kind).Inc()
}

func (r *Registry) SetConnections(n int) {
	if r == nil {
		return
	}
	r.Connections.Set(float64(n))
}

func (r *Registry) SetSubscriptions(n int) {
	if r == nil {
		return
	}
	r.Subscriptions.Set(float64(n))
}

func (r *Registry) TelemetryResult(result string) {
	if r == nil {
		return
	}
	r.TelemetryIngested.WithLabelValues(result).Inc()
}

func (r *Registry) CommandIssued(commandType string) {
	if r == nil {
		return
	}
	r.CommandsIssued.WithLabelValues(commandType).Inc()
}

func (r *Registry) CommandTransition(status string) {
	if r == nil {
		return
	}
	r.CommandTransitions.WithLabelValues(status).Inc()
}

func (r *Registry) SetCommandsPending(n int) {
	if r == nil {
		return
	}
	r.CommandsPending.Set(float64(n))
}

func (r *Registry) ConflictTick(outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.ConflictTicks.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		r.ConflictTickDuration.Observe(seconds)
	}
}

func (r *Registry) SetConflictsOpen(n int) {
	if r == nil {
		return
	}
	r.ConflictsOpen.Set(float64(n))
}

func (r *Registry) AuditRecordDropped() {
	if r == nil {
		return
	}
	r.AuditDropped.Inc()
}
