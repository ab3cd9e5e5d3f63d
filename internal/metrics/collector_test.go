package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTurn(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveTurn("classifier", 250*time.Millisecond, true)
	c.ObserveTurn("classifier", 100*time.Millisecond, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("classifier", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("classifier", "failure")))

	count := testutil.CollectAndCount(c.turnDuration)
	require.Equal(t, 1, count, "one labelled histogram series")
}

func TestRunLifecycleCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RunStarted("sequential")
	c.RunStarted("sequential")
	c.RunFinished("sequential", "completed")
	c.RunPaused(1)
	c.RunPaused(-1)
	c.DecisionApplied("APPROVE")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsStarted.WithLabelValues("sequential")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("sequential", "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.runsPaused))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decisionTotal.WithLabelValues("APPROVE")))
}

func TestSeparateRegistries(t *testing.T) {
	// Two collectors on independent registries never collide.
	a := NewCollector(prometheus.NewRegistry())
	b := NewCollector(prometheus.NewRegistry())
	a.RunStarted("round_robin")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.runsStarted.WithLabelValues("round_robin")))
}
