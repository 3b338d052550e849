package ledger

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts transaction attempts and reconciliation drift.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Attempts  *prometheus.CounterVec
	Conflicts *prometheus.CounterVec
	Exhausted *prometheus.CounterVec
	Drift     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finapp",
			Subsystem: "ledger",
			Name:      "tx_attempts_total",
			Help:      "Transaction attempts by operation.",
		}, []string{"operation"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finapp",
			Subsystem: "ledger",
			Name:      "tx_conflicts_total",
			Help:      "Transaction attempts aborted by a concurrent write.",
		}, []string{"operation"}),
		Exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finapp",
			Subsystem: "ledger",
			Name:      "tx_exhausted_total",
			Help:      "Operations that failed after the last retry.",
		}, []string{"operation"}),
		Drift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finapp",
			Subsystem: "ledger",
			Name:      "aggregate_drift_total",
			Help:      "Monthly aggregates found out of sync with their entries.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.Conflicts, m.Exhausted, m.Drift)
	}
	return m
}

func (m *Metrics) attempt(op string) {
	if m != nil {
		m.Attempts.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) conflict(op string) {
	if m != nil {
		m.Conflicts.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) exhausted(op string) {
	if m != nil {
		m.Exhausted.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) drift() {
	if m != nil {
		m.Drift.Inc()
	}
}
