package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for provider transact calls. Outcome
// labels match the client's classification so rejected and unreachable
// upstreams can be alerted on separately.
type Metrics struct {
	Calls        *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
}

// New creates a new Metrics instance with all provider call metrics registered.
func New() *Metrics {
	return &Metrics{
		Calls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kore_onepipe_calls_total",
			Help: "Total number of provider transact calls by request type and outcome",
		}, []string{"request_type", "outcome"}),
		CallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kore_onepipe_call_duration_seconds",
			Help:    "Duration of provider transact calls including transport time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"request_type"}),
	}
}

// IncrementCall records one classified transact call.
func (m *Metrics) IncrementCall(requestType, outcome string) {
	m.Calls.WithLabelValues(requestType, outcome).Inc()
}

// ObserveCall records the duration of a transact call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCall(requestType string, start time.Time) {
	m.CallDuration.WithLabelValues(requestType).Observe(time.Since(start).Seconds())
}
