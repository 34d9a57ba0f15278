package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay.
type Metrics struct {
	Turns                 *prometheus.CounterVec
	TurnLatency           prometheus.Histogram
	RejectedWebhooks      prometheus.Counter
	MemoryInconsistencies prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on reg. A nil reg gets a fresh
// private registry.
func NewMetrics(reg *prometheus.Registry, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished turns by outcome and last reached stage.",
		}, []string{"outcome", "stage"}),
		TurnLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "Time from verified event to finished turn in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 30000},
		}),
		RejectedWebhooks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_webhooks_total",
			Help:      "Webhook deliveries rejected by signature verification.",
		}),
		MemoryInconsistencies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_inconsistencies_total",
			Help:      "Replies delivered whose exchange could not be persisted.",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveTurn(outcome, stage string, elapsed time.Duration) {
	m.Turns.WithLabelValues(outcome, stage).Inc()
	m.TurnLatency.Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) ObserveRejectedWebhook() {
	m.RejectedWebhooks.Inc()
}

func (m *Metrics) IncMemoryInconsistency() {
	m.MemoryInconsistencies.Inc()
}

// Handler exposes the registry the instruments were created on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
