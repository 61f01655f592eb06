package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestPrometheusCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)

	p.ConnectionOpened()
	p.ConnectionOpened()
	p.SessionCreated()
	p.RoomJoined()

	assert2 := counterValue(t, p.connectionsOpened)
	require.Equal(t, float64(2), assert2)
	require.Equal(t, float64(1), counterValue(t, p.sessionsCreated))
	require.Equal(t, float64(1), counterValue(t, p.roomsJoined))
}

func TestPrometheusImplementsMetricsInterface(t *testing.T) {
	var _ Metrics = (*Prometheus)(nil)
}
