package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RetrievalMetrics accounts the fan-out searcher: failed branches by
// embedding space and fused result sizes.
type RetrievalMetrics struct {
	registry *prometheus.Registry

	branchFailures *prometheus.CounterVec
	searchTotal    prometheus.Counter
	fanoutWidth    prometheus.Histogram
	resultSize     prometheus.Histogram
}

func NewRetrievalMetrics(service string) *RetrievalMetrics {
	registry := prometheus.NewRegistry()

	branchFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "retrieval",
			Name:      "branch_failures_total",
			Help:      "Failed search branches by embedding space (or 'keyword').",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"branch"},
	)
	searchTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "retrieval",
			Name:      "search_total",
			Help:      "Completed document searches.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	fanoutWidth := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "engine",
			Subsystem: "retrieval",
			Name:      "fanout_width",
			Help:      "Embedding-model branches per search.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	resultSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "engine",
			Subsystem: "retrieval",
			Name:      "result_size",
			Help:      "Fused result count per search.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(branchFailures, searchTotal, fanoutWidth, resultSize)

	return &RetrievalMetrics{
		registry:       registry,
		branchFailures: branchFailures,
		searchTotal:    searchTotal,
		fanoutWidth:    fanoutWidth,
		resultSize:     resultSize,
	}
}

func (m *RetrievalMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *RetrievalMetrics) ObserveBranchFailure(branch string) {
	if m == nil {
		return
	}
	m.branchFailures.WithLabelValues(branch).Inc()
}

func (m *RetrievalMetrics) ObserveSearch(branches, results int) {
	if m == nil {
		return
	}
	m.searchTotal.Inc()
	m.fanoutWidth.Observe(float64(branches))
	m.resultSize.Observe(float64(results))
}
