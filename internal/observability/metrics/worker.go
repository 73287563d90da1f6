package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics accounts background indexing jobs.
type WorkerMetrics struct {
	registry *prometheus.Registry

	indexTotal    *prometheus.CounterVec
	indexDuration *prometheus.HistogramVec
	indexInFlight prometheus.Gauge
	batchSize     prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	indexTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "worker",
			Name:      "document_index_total",
			Help:      "Indexed documents by final status.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"status"},
	)
	indexDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "engine",
			Subsystem: "worker",
			Name:      "document_index_duration_seconds",
			Help:      "Document indexing duration in seconds by final status.",
			Buckets:   prometheus.DefBuckets,
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"status"},
	)
	indexInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "engine",
			Subsystem: "worker",
			Name:      "document_index_in_flight",
			Help:      "Number of in-flight indexing jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	batchSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "engine",
			Subsystem: "worker",
			Name:      "index_batch_chunks",
			Help:      "Chunks committed per embedding batch.",
			Buckets:   []float64{1, 2, 5, 10},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(indexTotal, indexDuration, indexInFlight, batchSize)

	return &WorkerMetrics{
		registry:      registry,
		indexTotal:    indexTotal,
		indexDuration: indexDuration,
		indexInFlight: indexInFlight,
		batchSize:     batchSize,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	if m == nil {
		return
	}
	m.indexInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob() {
	if m == nil {
		return
	}
	m.indexInFlight.Dec()
}

func (m *WorkerMetrics) ObserveIndex(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.indexTotal.WithLabelValues(status).Inc()
	m.indexDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveIndexBatch(chunks int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(chunks))
}
