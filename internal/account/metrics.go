package account

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the account surface. Register the collectors with
// the service's registry via PrometheusCollectors.
type Metrics struct {
	Signups      *prometheus.CounterVec
	TokensIssued *prometheus.CounterVec
	Revocations  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	const (
		namespace = "matchday"
		subsystem = "account"
	)
	return &Metrics{
		Signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "signups_total",
			Help:      "Count of signup requests by outcome",
		}, []string{"result"}),
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tokens_issued_total",
			Help:      "Count of credentials minted by audience",
		}, []string{"audience"}),
		Revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "revocations_total",
			Help:      "Count of revocation writes by level",
		}, []string{"level"}),
	}
}

func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.Signups, m.TokensIssued, m.Revocations}
}
