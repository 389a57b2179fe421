package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "shardline"

// Metrics holds the collectors shared by the orchestrator and dispatcher.
type Metrics struct {
	ShardsConnected prometheus.Gauge
	ShardLatency    *prometheus.GaugeVec
	Reconnects      *prometheus.CounterVec
	Dispatches      *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	SessionStarts   *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg when non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ShardsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "shards_connected",
			Help:      "Number of owned shards with a ready session.",
		}),
		ShardLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "shard_latency_seconds",
			Help:      "Last heartbeat round trip per shard.",
		}, []string{"shard"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Shard reconnect attempts by outcome.",
		}, []string{"shard", "result"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Events handed to at least one handler.",
		}, []string{"event"}),
		HandlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "handler_failures_total",
			Help:      "Handler invocations that returned an error or panicked.",
		}, []string{"event", "handler"}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "handler_duration_seconds",
			Help:      "Handler invocation duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		SessionStarts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "session_starts",
			Help:      "Identify quota reported by the platform.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ShardsConnected,
			m.ShardLatency,
			m.Reconnects,
			m.Dispatches,
			m.HandlerFailures,
			m.HandlerDuration,
			m.SessionStarts,
		)
	}

	return m
}

// NewRegistry returns a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// SetShardsConnected records how many shards are ready.
func (m *Metrics) SetShardsConnected(n int) {
	if m == nil {
		return
	}
	m.ShardsConnected.Set(float64(n))
}

// ObserveLatency records a shard's heartbeat latency.
func (m *Metrics) ObserveLatency(shardID int, d time.Duration) {
	if m == nil {
		return
	}
	m.ShardLatency.WithLabelValues(strconv.Itoa(shardID)).Set(d.Seconds())
}

// Reconnect counts a reconnect attempt.
func (m *Metrics) Reconnect(shardID int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Reconnects.WithLabelValues(strconv.Itoa(shardID), result).Inc()
}

// Dispatch counts an event delivered to handlers.
func (m *Metrics) Dispatch(eventType string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(eventType).Inc()
}

// HandlerDone records one handler invocation.
func (m *Metrics) HandlerDone(eventType, handler string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(eventType).Observe(d.Seconds())
	if failed {
		m.HandlerFailures.WithLabelValues(eventType, handler).Inc()
	}
}

// SetSessionStarts records the identify quota.
func (m *Metrics) SetSessionStarts(remaining, total, maxConcurrency int) {
	if m == nil {
		return
	}
	m.SessionStarts.WithLabelValues("remaining").Set(float64(remaining))
	m.SessionStarts.WithLabelValues("total").Set(float64(total))
	m.SessionStarts.WithLabelValues("max_concurrency").Set(float64(maxConcurrency))
}
