package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sweeper's prometheus collectors on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	stepProcessed *prometheus.CounterVec
	stepErrors    *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stepProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxbridge_step_processed_total",
			Help: "Transfers handled by each sweep step",
		}, []string{"step"}),
		stepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxbridge_step_errors_total",
			Help: "Transfers whose sweep step failed",
		}, []string{"step"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxbridge_transitions_total",
			Help: "Events appended, by next step",
		}, []string{"next_step"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "boxbridge_sweep_duration_seconds",
			Help:    "Duration of a full sweep over all steps",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m.registry.MustRegister(m.stepProcessed, m.stepErrors, m.transitions, m.sweepDuration)

	return m
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
