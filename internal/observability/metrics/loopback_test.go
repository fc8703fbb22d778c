package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSessionLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewLoopbackMetrics(registry)
	require.NoError(t, err)

	m.RecordSessionOpen(StatusOK)
	m.RecordSessionOpen(StatusOK)
	m.RecordSessionOpen(StatusInvalidConfig)

	assert.InDelta(t, 2, testutil.ToFloat64(m.sessionsActive), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.sessionsOpenedTotal.WithLabelValues(StatusOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sessionsOpenedTotal.WithLabelValues(StatusInvalidConfig)), 0)

	m.RecordCycle("a", Cycle{Status: StatusOK, LatencyMs: 10, Confidence: 0.9, InputLevelDB: -20})
	assert.Equal(t, 1, testutil.CollectAndCount(m.latencyMs))

	m.RecordSessionClose("a")
	assert.InDelta(t, 1, testutil.ToFloat64(m.sessionsActive), 0)
	assert.Equal(t, 0, testutil.CollectAndCount(m.latencyMs))
}

func TestRecordCycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewLoopbackMetrics(registry)
	require.NoError(t, err)

	testCases := []struct {
		name  string
		cycle Cycle
	}{
		{"no estimate yet", Cycle{Status: StatusOK, LatencyMs: -1, InputLevelDB: -120}},
		{"underrun", Cycle{Status: StatusUnderrun, LatencyMs: -1, ZeroFilled: 64, Glitches: 1}},
		{"overrun", Cycle{Status: StatusOverrun, LatencyMs: 10, Dropped: 256, Glitches: 1}},
		{"new estimate", Cycle{Status: StatusOK, LatencyMs: 10, Confidence: 0.95, NewEstimate: true, Duration: 5 * time.Millisecond}},
		{"passthrough losses", Cycle{Status: StatusOverrun, LatencyMs: 10, PassthroughDropped: 32, PassthroughShort: 8}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m.RecordCycle("s1", tc.cycle)
		})
	}

	assert.InDelta(t, 2, testutil.ToFloat64(m.cyclesTotal.WithLabelValues(StatusOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cyclesTotal.WithLabelValues(StatusUnderrun)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.cyclesTotal.WithLabelValues(StatusOverrun)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.glitchesTotal), 0)
	assert.InDelta(t, 64, testutil.ToFloat64(m.framesZeroFilledTotal), 0)
	assert.InDelta(t, 256, testutil.ToFloat64(m.framesDroppedTotal), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.latencyMs.WithLabelValues("s1")), 0)
	assert.InDelta(t, 0.95, testutil.ToFloat64(m.confidence.WithLabelValues("s1")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.latencyEstimates))
	assert.InDelta(t, 32, testutil.ToFloat64(m.passthroughLostTotal.WithLabelValues(PassthroughPipeFull)), 0)
	assert.InDelta(t, 8, testutil.ToFloat64(m.passthroughLostTotal.WithLabelValues(PassthroughPipeEmpty)), 0)
}

func TestNewLoopbackMetricsRejectsDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewLoopbackMetrics(registry)
	require.NoError(t, err)

	_, err = NewLoopbackMetrics(registry)
	assert.Error(t, err)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NotPanics(t, func() {
		r.RecordSessionOpen(StatusOK)
		r.RecordCycle("x", Cycle{})
		r.RecordSessionClose("x")
	})
}
