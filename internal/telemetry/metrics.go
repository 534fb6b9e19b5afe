// Package telemetry sets up tracing and the Prometheus metrics exported by
// the service.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tjfontaine/gamestats/internal/pipeline"
)

const namespace = "gamestats"

// Metrics holds every collector the service records to.
type Metrics struct {
	SanitizerActions *prometheus.CounterVec
	Queries          *prometheus.CounterVec
	QueryDuration    *prometheus.HistogramVec
	Ingested         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SanitizerActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanitizer_actions_total",
			Help:      "Stages dropped, rewritten or injected by the pipeline sanitizer.",
		}, []string{"operator", "reason"}),
		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_queries_total",
			Help:      "Analytics queries by game and terminal status.",
		}, []string{"game", "status"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_query_duration_seconds",
			Help:      "Time spent in the document store per analytics query.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"game"}),
		Ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_documents_total",
			Help:      "Events and scores accepted for storage.",
		}, []string{"game", "kind"}),
	}
}

// SanitizerSink returns a sink that counts every sanitizer diagnostic.
func (m *Metrics) SanitizerSink() pipeline.DiagnosticSink {
	return pipeline.SinkFunc(func(d pipeline.Diagnostic) {
		m.SanitizerActions.WithLabelValues(d.Operator, string(d.Reason)).Inc()
	})
}

// ObserveQuery records the terminal status and store latency of one query.
func (m *Metrics) ObserveQuery(game, status string, elapsed time.Duration) {
	m.Queries.WithLabelValues(game, status).Inc()
	if elapsed > 0 {
		m.QueryDuration.WithLabelValues(game).Observe(elapsed.Seconds())
	}
}
