// Package metrics provides Prometheus metrics for the bridge server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	SnapshotDuration prometheus.Histogram
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CollabFailures   *prometheus.CounterVec
	BroadcastsTotal  *prometheus.CounterVec
	ClientsConnected prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_requests_total",
				Help: "Total HTTP requests by method and status.",
			},
			[]string{"method", "status"},
		),
		SnapshotDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bridge_snapshot_duration_seconds",
				Help:    "Time spent gathering one bridge snapshot.",
				Buckets: prometheus.DefBuckets,
			},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_cache_hits_total",
				Help: "Cache hits by key.",
			},
			[]string{"key"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_cache_misses_total",
				Help: "Cache misses (compute invocations) by key.",
			},
			[]string{"key"},
		),
		CollabFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_collaborator_failures_total",
				Help: "External collaborator failures by source.",
			},
			[]string{"source"},
		),
		BroadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_broadcasts_total",
				Help: "Websocket broadcasts sent by message type.",
			},
			[]string{"type"},
		),
		ClientsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_ws_clients",
				Help: "Currently connected websocket clients.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.SnapshotDuration)
	reg.MustRegister(m.CacheHits)
	reg.MustRegister(m.CacheMisses)
	reg.MustRegister(m.CollabFailures)
	reg.MustRegister(m.BroadcastsTotal)
	reg.MustRegister(m.ClientsConnected)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(method, status string) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
}

// RecordCollabFailure increments the collaborator failure counter.
func (m *Metrics) RecordCollabFailure(source string) {
	m.CollabFailures.WithLabelValues(source).Inc()
}

// RecordBroadcast increments the broadcast counter.
func (m *Metrics) RecordBroadcast(msgType string) {
	m.BroadcastsTotal.WithLabelValues(msgType).Inc()
}

// Hit satisfies the cache stats sink.
func (m *Metrics) Hit(key string) { m.CacheHits.WithLabelValues(key).Inc() }

// Miss satisfies the cache stats sink.
func (m *Metrics) Miss(key string) { m.CacheMisses.WithLabelValues(key).Inc() }

// ClientConnected bumps the connected-clients gauge.
func (m *Metrics) ClientConnected() { m.ClientsConnected.Inc() }

// ClientDisconnected drops the connected-clients gauge.
func (m *Metrics) ClientDisconnected() { m.ClientsConnected.Dec() }

// BroadcastSent satisfies the hub's stats sink.
func (m *Metrics) BroadcastSent(frameType string) { m.RecordBroadcast(frameType) }
