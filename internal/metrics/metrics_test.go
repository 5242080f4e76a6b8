package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)
	require.NotNil(t, m)

	m.ObserveEviction()
	m.ObserveEviction()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Evictions))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_evictions_total")
}

func TestObserveInsertDropped(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.ObserveInsert("ok")
	m.ObserveInsert("dropped")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryEntries.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryEntries.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryDropped))
}

func TestObserveGateway(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.ObserveGateway("chat", "ok", 150*time.Millisecond)
	m.ObserveRetry("chat")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayRequests.WithLabelValues("chat", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayRetries.WithLabelValues("chat")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.GatewayLatency))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEviction()
		m.ObserveInsert("ok")
		m.ObserveRetrievalMiss("embed")
		m.ObserveToolCall("x", "ok")
		m.ObserveBudgetExhausted()
		m.ObserveGateway("chat", "ok", time.Second)
		m.ObserveRetry("chat")
		m.ObserveSummaryFallback()
		m.SetActiveSessions(3)
	})
}

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
	assert.NotNil(t, Handler())
}
