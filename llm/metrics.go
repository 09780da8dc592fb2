package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by Client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// NewMetrics registers completion collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Subsystem: "backend",
			Name:      "completions_total",
			Help:      "Completion calls by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmgate",
			Subsystem: "backend",
			Name:      "completion_duration_seconds",
			Help:      "Completion call latency by outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"outcome"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmgate",
			Subsystem: "backend",
			Name:      "inflight_requests",
			Help:      "Backend HTTP requests currently in flight.",
		}),
	}
}

func (m *Metrics) observe(outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(string(outcome)).Inc()
	m.duration.WithLabelValues(string(outcome)).Observe(d.Seconds())
}

func (m *Metrics) inflightInc() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) inflightDec() {
	if m != nil {
		m.inflight.Dec()
	}
}
