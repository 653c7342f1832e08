package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_StreamCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())

	m.RecordSent("/request/local", "deliver")
	m.RecordSent("/request/local", "deliver")
	m.RecordReceived("/request/local", "reply")
	m.RecordDecodeFailure("/request/local")
	m.RecordDropped("/request/local", "no_separator")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.streamSent.WithLabelValues("/request/local", "deliver")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamReceived.WithLabelValues("/request/local", "reply")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeFailures.WithLabelValues("/request/local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedUnits.WithLabelValues("/request/local", "no_separator")))
}

func TestMetrics_ProxyForward(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordForward("request", "front_to_work", nil)
	m.RecordForward("request", "front_to_work", errors.New("gone"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.proxyForwarded.WithLabelValues("request", "front_to_work")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.proxyFailures.WithLabelValues("request", "front_to_work")))
}

func TestMetrics_ServiceLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())

	m.RecordDispatched("db", "SAVE_FILE")
	m.SetInFlight("db", 1)
	m.RecordProgress("db")
	m.RecordCompleted("db", "SAVE_FILE", OutcomeSuccess, 20*time.Millisecond)
	m.RecordCompleted("db", "999", OutcomeRejected, 0)
	m.SetInFlight("db", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatched.WithLabelValues("db", "SAVE_FILE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("db", "SAVE_FILE", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("db", "999", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.progress.WithLabelValues("db")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight.WithLabelValues("db")))

	count, err := testutil.GatherAndCount(reg, "relayflow_service_command_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_RegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	other := New(reg)
	assert.NoError(t, other.Register())
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Register())
	assert.NotPanics(t, func() {
		m.RecordSent("c", "deliver")
		m.RecordReceived("c", "deliver")
		m.RecordDecodeFailure("c")
		m.RecordDropped("c", "bad_tag")
		m.RecordForward("p", "r", nil)
		m.RecordDispatched("s", "ECHO")
		m.RecordCompleted("s", "ECHO", OutcomeError, time.Second)
		m.RecordProgress("s")
		m.SetInFlight("s", 3)
	})
}
