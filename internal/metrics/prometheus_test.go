package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRoute("ok", 5*time.Millisecond)
	m.ObserveRoute("ok", 5*time.Millisecond)
	m.ObserveRoute("tenant_inactive", time.Millisecond)
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.SetCacheEntries(3)
	m.ConnectionReleased("replaced")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RouteDecisions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RouteDecisions.WithLabelValues("tenant_inactive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CacheEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsReleased.WithLabelValues("replaced")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRoute("ok", time.Second)
		m.CacheHit()
		m.CacheMiss()
		m.SetCacheEntries(1)
		m.ConnectionEstablished()
		m.ConnectionReleased("expired")
		m.AuditDropped()
	})
}
