package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NodeMetrics records escrow operation activity on the node.
type NodeMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	openRecords prometheus.Gauge
}

var (
	nodeOnce     sync.Once
	nodeRegistry *NodeMetrics
)

// Node returns the lazily-initialised node metrics registry.
func Node() *NodeMetrics {
	nodeOnce.Do(func() {
		nodeRegistry = &NodeMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapvault",
				Subsystem: "node",
				Name:      "operations_total",
				Help:      "Total escrow operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "swapvault",
				Subsystem: "node",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for escrow operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			openRecords: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "swapvault",
				Subsystem: "node",
				Name:      "open_records",
				Help:      "Number of escrow records currently open.",
			}),
		}
		prometheus.MustRegister(
			nodeRegistry.operations,
			nodeRegistry.latency,
			nodeRegistry.openRecords,
		)
	})
	return nodeRegistry
}

// Observe records one operation outcome along with its duration.
func (m *NodeMetrics) Observe(op string, err error, started time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// RecordOpened adjusts the open-record gauge when a record is created.
func (m *NodeMetrics) RecordOpened() {
	if m != nil {
		m.openRecords.Inc()
	}
}

// RecordClosed adjusts the open-record gauge when a record is destroyed.
func (m *NodeMetrics) RecordClosed() {
	if m != nil {
		m.openRecords.Dec()
	}
}

// Handler exposes the default prometheus registry over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}
