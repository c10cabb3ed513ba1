package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts mandate rows entering each lifecycle status. A spike
// in FAILED or in rejected cancels points at the provider before any
// user reports it.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	CancelsRejected prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kore_mandate_transitions_total",
			Help: "Mandate rows entering a lifecycle status (PENDING, ACTIVE, FAILED, CANCELLED)",
		}, []string{"status"}),
		CancelsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kore_mandate_cancels_rejected_total",
			Help: "Cancel attempts the provider answered but did not confirm",
		}),
	}
}

// IncTransition records one mandate entering status.
func (m *Metrics) IncTransition(status string) {
	m.Transitions.WithLabelValues(status).Inc()
}

// IncCancelRejected records one unconfirmed cancel attempt.
func (m *Metrics) IncCancelRejected() {
	m.CancelsRejected.Inc()
}
