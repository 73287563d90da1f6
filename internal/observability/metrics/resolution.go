package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ResolutionMetrics accounts cascade outcomes by hit source plus the
// learned-pair promotion rate. Nil receivers are no-ops so tests can
// pass nil.
type ResolutionMetrics struct {
	registry *prometheus.Registry

	resolveTotal *prometheus.CounterVec
	learnedTotal prometheus.Counter
}

func NewResolutionMetrics(service string) *ResolutionMetrics {
	registry := prometheus.NewRegistry()

	resolveTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "resolution",
			Name:      "resolve_total",
			Help:      "Resolved instructions by hit source (cache/template/llm/error).",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"source"},
	)
	learnedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "resolution",
			Name:      "learned_total",
			Help:      "Pairs promoted into the template store after positive feedback.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(resolveTotal, learnedTotal)

	return &ResolutionMetrics{
		registry:     registry,
		resolveTotal: resolveTotal,
		learnedTotal: learnedTotal,
	}
}

func (m *ResolutionMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *ResolutionMetrics) ObserveResolution(source string) {
	if m == nil {
		return
	}
	m.resolveTotal.WithLabelValues(source).Inc()
}

func (m *ResolutionMetrics) ObserveLearned() {
	if m == nil {
		return
	}
	m.learnedTotal.Inc()
}
