package notification

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the notification fan-out.
type Metrics struct {
	SendsAttempted *prometheus.CounterVec
	SendsSucceeded *prometheus.CounterVec
	SendsFailed    *prometheus.CounterVec
}

// NewMetrics creates and registers fan-out metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		SendsAttempted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "notification",
			Name:      "sends_attempted_total",
			Help:      "Total channel delivery attempts.",
		}, []string{"channel"}),
		SendsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "notification",
			Name:      "sends_succeeded_total",
			Help:      "Total channel deliveries that succeeded.",
		}, []string{"channel"}),
		SendsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "notification",
			Name:      "sends_failed_total",
			Help:      "Total channel deliveries that failed.",
		}, []string{"channel"}),
	}

	reg.MustRegister(m.SendsAttempted, m.SendsSucceeded, m.SendsFailed)
	return m
}
