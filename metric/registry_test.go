package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistryRegistersCoreMetrics(t *testing.T) {
	reg := NewMetricsRegistry()
	require.NotNil(t, reg.CoreMetrics())

	mfs, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	reg.CoreMetrics().RecordChunkWritten("Samples")
	reg.CoreMetrics().RecordDiscoveryRun()
	reg.CoreMetrics().RecordControllerState(3)

	mfs, err = reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names = map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["labrecorder_xdf_chunks_written_total"])
	assert.True(t, names["labrecorder_discovery_runs_total"])
	assert.True(t, names["labrecorder_controller_state"])
}

func TestRegisterCounterRejectsDuplicates(t *testing.T) {
	reg := NewMetricsRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "demo_counter"})

	require.NoError(t, reg.RegisterCounter("demo", "counter", c))
	err := reg.RegisterCounter("demo", "counter", c)
	assert.Error(t, err)
}

func TestUnregisterRemovesMetric(t *testing.T) {
	reg := NewMetricsRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "demo_gauge"})

	require.NoError(t, reg.RegisterGauge("demo", "gauge", g))
	assert.True(t, reg.Unregister("demo", "gauge"))
	assert.False(t, reg.Unregister("demo", "gauge"))
}
