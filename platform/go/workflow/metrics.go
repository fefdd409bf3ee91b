package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs                 *prometheus.CounterVec
	runDuration          *prometheus.HistogramVec
	stepDuration         *prometheus.HistogramVec
	compensationFailures *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_runs_total",
			Help: "Workflow runs by terminal state.",
		}, []string{"workflow", "state"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workflow_run_duration_seconds",
			Help:    "Wall time of workflow runs including compensation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workflow_step_duration_seconds",
			Help:    "Step execution time by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow", "step", "outcome"}),
		compensationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_compensation_failures_total",
			Help: "Compensations that failed or could not be attempted.",
		}, []string{"workflow", "step"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.runDuration, m.stepDuration, m.compensationFailures)
	}
	return m
}

func (m *Metrics) observeRun(workflow string, state State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(workflow, string(state)).Inc()
	m.runDuration.WithLabelValues(workflow).Observe(elapsed.Seconds())
}

func (m *Metrics) observeStep(workflow, step, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(workflow, step, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) compensationFailed(workflow, step string) {
	if m == nil {
		return
	}
	m.compensationFailures.WithLabelValues(workflow, step).Inc()
}
