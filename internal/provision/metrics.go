package provision

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments actor runs. Register the collectors with the
// service's registry via PrometheusCollectors.
type Metrics struct {
	Runs         *prometheus.CounterVec
	StepAttempts *prometheus.CounterVec
	RunDuration  prometheus.Histogram
}

func NewMetrics() *Metrics {
	const (
		namespace = "matchday"
		subsystem = "provision"
	)
	return &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Count of provisioning runs by terminal result",
		}, []string{"result"}),
		StepAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "step_attempts_total",
			Help:      "Count of step attempts, including retries",
		}, []string{"step"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Histogram of wall-clock time per provisioning run",
			Buckets:   prometheus.ExponentialBuckets(1e-2, 4, 8),
		}),
	}
}

func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.Runs, m.StepAttempts, m.RunDuration}
}
