package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks outbox relay health.
type Metrics struct {
	Published           prometheus.Counter
	PublishFailures     prometheus.Counter
	BreakerSkipped      prometheus.Counter
	CircuitBreakerState prometheus.Gauge
}

// NewMetrics registers the relay metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kore_audit_published_total",
			Help: "Audit events successfully published to the broker",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kore_audit_publish_failures_total",
			Help: "Audit publish attempts that failed; rows stay queued",
		}),
		BreakerSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kore_audit_breaker_skipped_total",
			Help: "Relay cycles skipped while the circuit breaker was open",
		}),
		CircuitBreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kore_audit_circuit_breaker_state",
			Help: "Publish circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) AddPublished(n int) {
	m.Published.Add(float64(n))
}

func (m *Metrics) IncPublishFailures() {
	m.PublishFailures.Inc()
}

func (m *Metrics) IncBreakerSkipped() {
	m.BreakerSkipped.Inc()
}

func (m *Metrics) SetCircuitBreakerState(open bool) {
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
