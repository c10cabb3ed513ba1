package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts bank list reads by how they were served. The stale
// and unavailable modes are the alerting surface: sustained stale
// serving means the provider's bank endpoint is degraded.
type Metrics struct {
	Served *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Served: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kore_banks_served_total",
			Help: "Bank list reads by serving mode (fresh, refreshed, stale, unavailable)",
		}, []string{"mode"}),
	}
}

// IncServed records one bank list read.
func (m *Metrics) IncServed(mode string) {
	m.Served.WithLabelValues(mode).Inc()
}
