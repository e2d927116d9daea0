package mtcl

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMetricsCounters(t *testing.T) {
	m := NewDefaultMetrics()
	m.IncrementSend()
	m.IncrementSend()
	m.IncrementBytesSent(10)
	m.IncrementReceive()
	m.IncrementBytesReceived(4)
	m.IncrementAccepted()
	m.IncrementConnected()
	m.IncrementClosed()

	assert.EqualValues(t, 2, m.GetSendCount())
	assert.EqualValues(t, 10, m.GetBytesSent())
	assert.EqualValues(t, 1, m.GetReceiveCount())
	assert.EqualValues(t, 4, m.GetBytesReceived())
	assert.EqualValues(t, 1, m.GetAcceptedCount())
	assert.EqualValues(t, 1, m.GetConnectedCount())
	assert.EqualValues(t, 1, m.GetClosedCount())
}

func TestPrometheusMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)
	pm.IncrementSend()
	pm.IncrementBytesSent(5)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestPrometheusMetricsGetPanicsOnPoll(t *testing.T) {
	pm := NewPrometheusMetrics(nil)
	assert.Panics(t, func() { pm.GetSendCount() })
}
