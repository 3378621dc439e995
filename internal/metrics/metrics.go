// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netlens"

// Metrics holds every collector the pipeline increments. Each instance owns
// its registry so tests can create them freely.
type Metrics struct {
	reg *prometheus.Registry

	PacketsTotal     prometheus.Counter
	BytesTotal       prometheus.Counter
	QueueDrops       prometheus.Counter
	RecordsPersisted prometheus.Counter
	BatchesCommitted prometheus.Counter
	BatchFailures    prometheus.Counter
	RecordsLost      prometheus.Counter
	Anomalies        prometheus.Counter
	QueueDepth       prometheus.Gauge
}

// New creates and registers all pipeline collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		PacketsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "packets_total",
			Help:      "Total number of records processed by the stats engine",
		}),
		BytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "bytes_total",
			Help:      "Total bytes of all records processed by the stats engine",
		}),
		QueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "drops_total",
			Help:      "Records dropped because the persistence queue was full",
		}),
		RecordsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "records_persisted_total",
			Help:      "Records committed to storage",
		}),
		BatchesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "batches_committed_total",
			Help:      "Batches committed to storage",
		}),
		BatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "batch_failures_total",
			Help:      "Batches discarded after a write error",
		}),
		RecordsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "records_lost_total",
			Help:      "Records discarded with failed batches",
		}),
		Anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "anomalies_total",
			Help:      "Records flagged by an anomaly rule",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current depth of the persistence queue",
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		m.PacketsTotal, m.BytesTotal,
		m.QueueDrops,
		m.RecordsPersisted, m.BatchesCommitted, m.BatchFailures, m.RecordsLost,
		m.Anomalies, m.QueueDepth,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
