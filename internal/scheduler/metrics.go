package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the cron scheduler.
type Metrics struct {
	JobsFired     *prometheus.CounterVec
	JobsSucceeded *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		JobsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uamuzi",
			Subsystem: "scheduler",
			Name:      "jobs_fired_total",
			Help:      "Total scheduled jobs fired.",
		}, []string{"job"}),
		JobsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uamuzi",
			Subsystem: "scheduler",
			Name:      "jobs_succeeded_total",
			Help:      "Total scheduled job submissions that succeeded.",
		}, []string{"job"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uamuzi",
			Subsystem: "scheduler",
			Name:      "jobs_failed_total",
			Help:      "Total scheduled job submissions that failed.",
		}, []string{"job"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uamuzi",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of each scheduled job submission.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.JobsFired,
		m.JobsSucceeded,
		m.JobsFailed,
		m.JobDuration,
	)

	return m
}
