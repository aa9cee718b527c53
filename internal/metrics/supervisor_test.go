package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewSupervisorMetrics(registry)
	require.NoError(t, err)

	m.RecordRestart("barn1")
	m.RecordRestart("barn1")
	m.RecordHibernation("barn1")
	m.RecordAlert("barn1", nil)
	m.RecordAlert("barn1", errors.New("timeout"))
	m.RecordHeartbeat("barn2")
	m.RecordLine("barn2", "stdout")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.restartsTotal.WithLabelValues("barn1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.hibernationsTotal.WithLabelValues("barn1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.alertsTotal.WithLabelValues("barn1", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.alertsTotal.WithLabelValues("barn1", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.heartbeatsTotal.WithLabelValues("barn2")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.workerLinesTotal.WithLabelValues("barn2", "stdout")))
}

func TestSupervisorMetrics_SetState(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewSupervisorMetrics(registry)
	require.NoError(t, err)

	m.SetState("barn1", "running", 0)
	m.SetState("barn1", "hibernating", 5)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.cameraState.WithLabelValues("barn1", "hibernating")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.cameraState.WithLabelValues("barn1", "running")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.retries.WithLabelValues("barn1")))
}

func TestSupervisorMetrics_DoubleRegister(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewSupervisorMetrics(registry)
	require.NoError(t, err)

	_, err = NewSupervisorMetrics(registry)
	assert.Error(t, err)
}
