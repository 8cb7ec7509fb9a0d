package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds scheduler loop metrics.
type Metrics struct {
	RunsStarted      prometheus.Counter
	RunsSucceeded    prometheus.Counter
	RunsFailed       prometheus.Counter
	TriggersRejected prometheus.Counter
	RunDuration      prometheus.Histogram
}

// NewMetrics registers scheduler metrics with the given registry.
// Returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "scheduler",
			Name:      "runs_started_total",
			Help:      "Total autonomous runs started.",
		}),
		RunsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "scheduler",
			Name:      "runs_succeeded_total",
			Help:      "Total autonomous runs that completed successfully.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "scheduler",
			Name:      "runs_failed_total",
			Help:      "Total autonomous runs that ended in error.",
		}),
		TriggersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "scheduler",
			Name:      "triggers_rejected_total",
			Help:      "Manual triggers rejected because a run was in flight.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beacon",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of autonomous runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
	}
	reg.MustRegister(m.RunsStarted, m.RunsSucceeded, m.RunsFailed, m.TriggersRejected, m.RunDuration)
	return m
}
