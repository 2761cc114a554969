// Package audit carries routing decision events to logging and metrics
// collectors. Recording is fire-and-forget: the router never waits on a sink.
package audit

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"casevault/backend/internal/metrics"
)

// Event describes one routing decision.
type Event struct {
	ID          string
	TenantID    string
	PrincipalID string
	Outcome     string
	Reason      string
	CacheHit    bool
	Latency     time.Duration
	At          time.Time
}

// Sink receives routing events.
type Sink interface {
	Record(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Record(e Event) { f(e) }

// Fanout delivers each event to every sink in order.
type Fanout []Sink

func (f Fanout) Record(e Event) {
	for _, s := range f {
		s.Record(e)
	}
}

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(e Event) {
	s.logger.Info("Routing decision",
		zap.String("event_id", e.ID),
		zap.String("tenant_id", e.TenantID),
		zap.String("principal_id", e.PrincipalID),
		zap.String("outcome", e.Outcome),
		zap.String("reason", e.Reason),
		zap.Bool("cache_hit", e.CacheHit),
		zap.Duration("latency", e.Latency),
		zap.Time("at", e.At))
}

// MetricsSink feeds events into the Prometheus collectors.
type MetricsSink struct {
	metrics *metrics.Metrics
}

func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

func (s *MetricsSink) Record(e Event) {
	s.metrics.ObserveRoute(e.Outcome, e.Latency)
}

// MeterSink records events on OpenTelemetry instruments.
type MeterSink struct {
	decisions metric.Int64Counter
	latency   metric.Float64Histogram
}

func NewMeterSink(meter metric.Meter) (*MeterSink, error) {
	decisions, err := meter.Int64Counter("tenant.route.decisions",
		metric.WithDescription("Routing decisions by outcome"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("tenant.route.duration",
		metric.WithDescription("Routing decision latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &MeterSink{decisions: decisions, latency: latency}, nil
}

func (s *MeterSink) Record(e Event) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", e.Outcome),
		attribute.Bool("cache_hit", e.CacheHit),
	)
	ctx := context.Background()
	s.decisions.Add(ctx, 1, attrs)
	s.latency.Record(ctx, e.Latency.Seconds(), attrs)
}

// AsyncSink buffers events for a downstream sink on its own goroutine. When
// the buffer is full the event is dropped and onDrop is called.
type AsyncSink struct {
	next   Sink
	events chan Event
	onDrop func()

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncSink starts the delivery goroutine.
func NewAsyncSink(next Sink, buffer int, onDrop func()) *AsyncSink {
	if buffer <= 0 {
		buffer = 1
	}
	s := &AsyncSink{
		next:   next,
		events: make(chan Event, buffer),
		onDrop: onDrop,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for e := range s.events {
		s.next.Record(e)
	}
}

// Record enqueues e without blocking.
func (s *AsyncSink) Record(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- e:
	default:
		if s.onDrop != nil {
			s.onDrop()
		}
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	<-s.done
}
