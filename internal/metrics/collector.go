// Package metrics exposes Prometheus instrumentation for workflow runs
// and agent turns.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus collectors for the orchestration core.
type Collector struct {
	runsStarted   *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	runsPaused    prometheus.Gauge
	turnsTotal    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	decisionTotal *prometheus.CounterVec
}

// NewCollector registers the collectors with the given registerer. Tests
// pass a fresh prometheus.NewRegistry to avoid duplicate registration.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "runs_started_total",
			Help:      "Workflow runs started, by topology.",
		}, []string{"topology"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "runs_finished_total",
			Help:      "Workflow runs reaching a terminal status, by topology and status.",
		}, []string{"topology", "status"}),
		runsPaused: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "loom",
			Name:      "runs_paused",
			Help:      "Runs currently paused awaiting human input.",
		}),
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "agent_turns_total",
			Help:      "Agent turns executed, by agent and outcome.",
		}, []string{"agent", "outcome"}),
		turnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loom",
			Name:      "agent_turn_duration_seconds",
			Help:      "Agent turn latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"agent"}),
		decisionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "human_decisions_total",
			Help:      "Human decisions applied to paused runs, by verdict.",
		}, []string{"verdict"}),
	}
}

// ObserveTurn records one agent turn.
func (c *Collector) ObserveTurn(agent string, elapsed time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.turnsTotal.WithLabelValues(agent, outcome).Inc()
	c.turnDuration.WithLabelValues(agent).Observe(elapsed.Seconds())
}

// RunStarted records a new run.
func (c *Collector) RunStarted(topology string) {
	c.runsStarted.WithLabelValues(topology).Inc()
}

// RunFinished records a run reaching a terminal status.
func (c *Collector) RunFinished(topology, status string) {
	c.runsFinished.WithLabelValues(topology, status).Inc()
}

// RunPaused adjusts the paused-run gauge.
func (c *Collector) RunPaused(delta float64) {
	c.runsPaused.Add(delta)
}

// DecisionApplied records a human decision.
func (c *Collector) DecisionApplied(verdict string) {
	c.decisionTotal.WithLabelValues(verdict).Inc()
}
