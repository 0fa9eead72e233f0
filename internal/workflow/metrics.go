package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	transitions     *prometheus.CounterVec
	failures        *prometheus.CounterVec
	sweepRuns       prometheus.Counter
	sweepProgressed prometheus.Counter
	sweepFailures   prometheus.Counter
	sweepCandidates prometheus.Counter
}

// NewMetrics creates the engine instruments and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_transitions_total",
			Help: "Status transitions written, by source and target status.",
		}, []string{"from", "to", "actor"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_transition_failures_total",
			Help: "Rejected or failed status updates, by error kind.",
		}, []string{"kind"}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_sweep_runs_total",
			Help: "Completed auto-progression sweeps.",
		}),
		sweepProgressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_sweep_progressed_total",
			Help: "Requests moved to overdue by the sweep.",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_sweep_failures_total",
			Help: "Requests the sweep failed to update.",
		}),
		sweepCandidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_sweep_completion_candidates_total",
			Help: "In-progress requests past their delivery deadline surfaced for confirmation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.failures, m.sweepRuns, m.sweepProgressed, m.sweepFailures, m.sweepCandidates)
	}
	return m
}

func (m *Metrics) transition(from, to, actor string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, actor).Inc()
}

func (m *Metrics) failure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) sweep(report *SweepReport) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepProgressed.Add(float64(len(report.Progressed)))
	m.sweepFailures.Add(float64(len(report.Failures)))
	m.sweepCandidates.Add(float64(len(report.CompletionCandidates)))
}
