package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds suggestion delivery metrics.
type Metrics struct {
	Attempted prometheus.Counter
	Delivered prometheus.Counter
	Failed    prometheus.Counter
}

// NewMetrics registers dispatch metrics with the given registry.
// Returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		Attempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "dispatch",
			Name:      "suggestions_attempted_total",
			Help:      "Total suggestion delivery attempts.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "dispatch",
			Name:      "suggestions_delivered_total",
			Help:      "Total suggestions accepted by at least one channel.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "dispatch",
			Name:      "suggestions_failed_total",
			Help:      "Total delivery attempts where every channel failed.",
		}),
	}
	reg.MustRegister(m.Attempted, m.Delivered, m.Failed)
	return m
}
