package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the router's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Routing metrics
	RouteDecisions *prometheus.CounterVec
	RouteDuration  *prometheus.HistogramVec

	// Cache metrics
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheEntries prometheus.Gauge

	// Connection metrics
	ConnectionsEstablished prometheus.Counter
	ConnectionsReleased    *prometheus.CounterVec

	// Audit metrics
	AuditEventsDropped prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RouteDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenant_router_decisions_total",
				Help: "Total number of routing decisions by outcome",
			},
			[]string{"outcome"},
		),

		RouteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenant_router_decision_duration_seconds",
				Help:    "Duration of routing decisions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "tenant_router_cache_hits_total",
			Help: "Total number of connection cache hits",
		}),

		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "tenant_router_cache_misses_total",
			Help: "Total number of connection cache misses",
		}),

		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tenant_router_cache_entries",
			Help: "Number of cached tenant connections",
		}),

		ConnectionsEstablished: factory.NewCounter(prometheus.CounterOpts{
			Name: "tenant_router_connections_established_total",
			Help: "Total number of tenant backend connections established",
		}),

		ConnectionsReleased: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenant_router_connections_released_total",
				Help: "Total number of tenant backend connections released by reason",
			},
			[]string{"reason"},
		),

		AuditEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tenant_router_audit_events_dropped_total",
			Help: "Total number of audit events dropped because the sink buffer was full",
		}),
	}
}

func (m *Metrics) ObserveRoute(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RouteDecisions.WithLabelValues(outcome).Inc()
	m.RouteDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) SetCacheEntries(n int) {
	if m != nil {
		m.CacheEntries.Set(float64(n))
	}
}

func (m *Metrics) ConnectionEstablished() {
	if m != nil {
		m.ConnectionsEstablished.Inc()
	}
}

func (m *Metrics) ConnectionReleased(reason string) {
	if m != nil {
		m.ConnectionsReleased.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AuditDropped() {
	if m != nil {
		m.AuditEventsDropped.Inc()
	}
}
