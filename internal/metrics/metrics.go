// Package metrics holds the relay's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "veristas"

// Stage labels.
const (
	StageValidate = "validate"
	StageCommit   = "commit"
	StagePrice    = "price"
	StageAssemble = "assemble"
	StageSubmit   = "submit"
)

type Metrics struct {
	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	priceFallback prometheus.Counter
	hubFailures   prometheus.Counter
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		stageTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_total",
				Help:      "Pipeline stage executions by outcome.",
			}, []string{"stage", "status"}),

		stageDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_duration_seconds",
				Help:      "Wall time of each pipeline stage, including inclusion waits.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			}, []string{"stage"}),

		priceFallback: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_fallback_total",
				Help:      "Price reads answered with the static fallback quote.",
			}),

		hubFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attestation_hub_failures_total",
				Help:      "Attestation hub submissions that failed after a valid commitment.",
			}),
	}
}

// Observe records one stage run.
func (m *Metrics) Observe(stage string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stageTotal.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncPriceFallback() {
	if m != nil {
		m.priceFallback.Inc()
	}
}

func (m *Metrics) IncHubFailure() {
	if m != nil {
		m.hubFailures.Inc()
	}
}
