package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"semaphore/provisioning/internal/policy"
)

type Metrics struct {
	provisioning *prometheus.CounterVec
	orphans      prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "provisioning",
			Name:      "requests_total",
			Help:      "Provisioning requests by entry point and outcome.",
		}, []string{"entry", "outcome"}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "provisioning",
			Name:      "orphan_accounts_deleted_total",
			Help:      "Accounts without a profile removed by the orphan sweep.",
		}),
	}
	reg.MustRegister(m.provisioning, m.orphans)
	return m
}

func (m *Metrics) ObserveProvisioning(entry policy.Entry, outcome string) {
	if m == nil {
		return
	}
	m.provisioning.WithLabelValues(string(entry), outcome).Inc()
}

func (m *Metrics) ObserveOrphansDeleted(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.orphans.Add(float64(count))
}
