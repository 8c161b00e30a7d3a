package llm

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// chatMetrics holds the prometheus instruments shared by every metrics
// middleware instance created against the same registerer.
type chatMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// newChatMetrics registers the chat client instruments with the given
// registerer.
func newChatMetrics(reg prometheus.Registerer) *chatMetrics {
	factory := promauto.With(reg)
	return &chatMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Chat completion requests by provider, model, and outcome.",
		}, []string{"provider", "model", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_request_duration_seconds",
			Help:    "Chat completion request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "model"}),
	}
}

// metricsLLM records request counts and latency for every chat call.
type metricsLLM struct {
	next     CoreLLM
	provider string
	metrics  *chatMetrics
}

// MetricsMiddleware creates middleware that records request metrics to
// the given prometheus registerer. The provider label identifies which
// backing API the wrapped client talks to.
func MetricsMiddleware(reg prometheus.Registerer, provider string) Middleware {
	metrics := newChatMetrics(reg)
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{
			next:     next,
			provider: provider,
			metrics:  metrics,
		}
	}
}

// DoRequest executes the request while recording latency and outcome.
func (m *metricsLLM) DoRequest(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	response, err := m.next.DoRequest(ctx, req)

	model := m.next.GetModel()
	m.metrics.latency.WithLabelValues(m.provider, model).Observe(time.Since(start).Seconds())
	m.metrics.requests.WithLabelValues(m.provider, model, m.status(ctx, err)).Inc()

	return response, err
}

func (m *metricsLLM) status(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (m *metricsLLM) SetModel(model string) { m.next.SetModel(model) }
