package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of the recovery coordinator.
type Metrics struct {
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	backups     prometheus.Counter
	inFlight    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "recoverykit",
				Subsystem: "recovery",
				Name:      "state_entries_total",
				Help:      "Number of times each state was entered.",
			},
			[]string{"state"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "recoverykit",
				Subsystem: "recovery",
				Name:      "phase_failures_total",
				Help:      "Number of failed phases by state.",
			},
			[]string{"phase"},
		),
		backups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recoverykit",
			Subsystem: "recovery",
			Name:      "backup_uploads_total",
			Help:      "Number of cloud backups uploaded.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "recoverykit",
			Subsystem: "recovery",
			Name:      "effects_in_flight",
			Help:      "Number of effects currently running.",
		}),
	}

	collectors := []prometheus.Collector{
		m.transitions, m.failures, m.backups, m.inFlight,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) entered(s State) {
	if m == nil {
		return
	}

	m.transitions.WithLabelValues(stateName(s)).Inc()
	if failed, ok := s.(*CompletionFailed); ok {
		m.failures.WithLabelValues(failed.Phase).Inc()
	}
}

func (m *Metrics) backupUploaded() {
	if m == nil {
		return
	}

	m.backups.Inc()
}

func (m *Metrics) effectStarted() {
	if m == nil {
		return
	}

	m.inFlight.Inc()
}

func (m *Metrics) effectDone() {
	if m == nil {
		return
	}

	m.inFlight.Dec()
}

// stateName is the label of s. Failures share one label so the series stay
// bounded.
func stateName(s State) string {
	if _, ok := s.(*CompletionFailed); ok {
		return "CompletionFailed"
	}

	return s.String()
}
