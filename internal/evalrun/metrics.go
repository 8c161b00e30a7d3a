package evalrun

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/promptsmith/promptsmith/internal/domain"
)

// Metrics records eval run outcomes and stage behavior.
type Metrics struct {
	runsFinished    *prometheus.CounterVec
	variantFailures *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
}

// NewMetrics registers the eval pipeline metrics on reg. A nil registerer
// yields unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_runs_finished_total",
			Help: "Eval runs reaching a terminal state, by status.",
		}, []string{"status"}),
		variantFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_variant_failures_total",
			Help: "Per-variant generation and evaluation failures, by stage.",
		}, []string{"stage"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eval_stage_duration_seconds",
			Help:    "Wall-clock duration of the bounded pipeline stages.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

func (m *Metrics) observeRunFinished(status domain.RunStatus) {
	m.runsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeVariantFailure(stage string) {
	m.variantFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) observeStage(stage string, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}
