package compare

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/promptsmith/promptsmith/internal/domain"
)

// Metrics records compare outcomes and signal availability.
type Metrics struct {
	compares       *prometheus.CounterVec
	duration       prometheus.Histogram
	signalFailures *prometheus.CounterVec
}

// NewMetrics registers the compare metrics on reg. A nil registerer
// yields unregistered collectors, which keeps tests and no-op wiring
// cheap.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		compares: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compare_reports_total",
			Help: "Comparison reports produced, by verdict and degraded flag.",
		}, []string{"verdict", "degraded"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "compare_duration_seconds",
			Help:    "Wall-clock duration of full comparisons.",
			Buckets: prometheus.DefBuckets,
		}),
		signalFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compare_signal_failures_total",
			Help: "Semantic and vision signal failures that degraded a compare.",
		}, []string{"signal"}),
	}
}

func (m *Metrics) observeCompare(verdict domain.Verdict, degraded bool, elapsed time.Duration) {
	m.compares.WithLabelValues(string(verdict), strconv.FormatBool(degraded)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeSignalFailure(signal string) {
	m.signalFailures.WithLabelValues(signal).Inc()
}
