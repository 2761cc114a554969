package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"casevault/backend/internal/metrics"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestAsyncSink_DeliversAndDrains(t *testing.T) {
	rec := &recorder{}
	sink := NewAsyncSink(rec, 16, nil)

	for i := 0; i < 10; i++ {
		sink.Record(Event{TenantID: "acme", Outcome: "ok"})
	}
	sink.Close()

	assert.Len(t, rec.Events(), 10)

	// Recording after close is ignored rather than panicking.
	assert.NotPanics(t, func() { sink.Record(Event{TenantID: "acme"}) })
}

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	blocking := SinkFunc(func(Event) { <-release })

	var dropped atomic.Int32
	sink := NewAsyncSink(blocking, 1, func() { dropped.Add(1) })

	// The first event is picked up by the delivery goroutine and blocks it,
	// the second fills the buffer, the rest must be dropped without blocking.
	sink.Record(Event{ID: "1"})
	require.Eventually(t, func() bool { return len(sink.events) == 0 }, time.Second, time.Millisecond)
	sink.Record(Event{ID: "2"})

	done := make(chan struct{})
	go func() {
		sink.Record(Event{ID: "3"})
		sink.Record(Event{ID: "4"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
	assert.Equal(t, int32(2), dropped.Load())

	close(release)
	sink.Close()
}

func TestLogSink_WritesStructuredFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	sink.Record(Event{TenantID: "acme", PrincipalID: "u1", Outcome: "access_denied", Reason: "not_a_member"})

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "acme", fields["tenant_id"])
	assert.Equal(t, "access_denied", fields["outcome"])
	assert.Equal(t, "not_a_member", fields["reason"])
}

func TestFanout_MetricsAndMeter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	meterSink, err := NewMeterSink(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	rec := &recorder{}
	sink := Fanout{NewMetricsSink(m), meterSink, rec}
	sink.Record(Event{TenantID: "acme", Outcome: "ok", Latency: time.Millisecond})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RouteDecisions.WithLabelValues("ok")))
	assert.Len(t, rec.Events(), 1)
}

func TestMeterSink_RecordsOnInstalledProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background()) //nolint:errcheck

	sink, err := NewMeterSink(provider.Meter("test"))
	require.NoError(t, err)
	sink.Record(Event{TenantID: "acme", Outcome: "ok", CacheHit: true, Latency: 2 * time.Millisecond})
	sink.Record(Event{TenantID: "acme", Outcome: "tenant_inactive", Latency: time.Millisecond})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := make(map[string]metricdata.Metrics)
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	decisions, ok := byName["tenant.route.decisions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range decisions.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
	assert.Len(t, decisions.DataPoints, 2, "one series per outcome")

	latency, ok := byName["tenant.route.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range latency.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}
