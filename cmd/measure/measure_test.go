package measure

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/loopback/internal/conf"
	"github.com/tphakala/loopback/internal/errors"
	"github.com/tphakala/loopback/internal/loopback"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func simSettings() *conf.Settings {
	settings := conf.Defaults()
	settings.Audio.Backend = conf.BackendSim
	settings.Sim.Realtime = false
	settings.Sim.Noise = 0
	settings.Sim.DelayFrames = 480
	settings.Loopback.PulsePeriod = 100 * time.Millisecond
	settings.Loopback.MaxLatency = 40 * time.Millisecond
	settings.Loopback.CycleTimeout = 20 * time.Millisecond
	return settings
}

func TestRunReportsLatency(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := run(t.Context(), simSettings(), options{cycles: 50}, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Greater(t, len(lines), 50)
	assert.Contains(t, lines[0], "cycle      1")
	assert.Contains(t, out.String(), "50 cycles, 0 degraded")
	assert.Contains(t, out.String(), "min 10.00 ms, max 10.00 ms, mean 10.00 ms")
	assert.Contains(t, out.String(), "glitches: 0")
}

func TestRunQuietPrintsSummaryOnly(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, run(t.Context(), simSettings(), options{cycles: 3, quiet: true}, &out))

	assert.NotContains(t, out.String(), "cycle      1")
	assert.Contains(t, out.String(), "3 cycles")
	assert.Contains(t, out.String(), "no pulse detected")
}

func TestRunStopsWhenCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var out bytes.Buffer
	require.NoError(t, run(ctx, simSettings(), options{}, &out))
	assert.Empty(t, out.String())
}

func TestRunWithMetricsEndpoint(t *testing.T) {
	t.Parallel()

	settings := simSettings()
	settings.Metrics.Enabled = true
	settings.Metrics.Listen = "127.0.0.1:0"

	var out bytes.Buffer
	require.NoError(t, run(t.Context(), settings, options{cycles: 5}, &out))
	assert.Contains(t, out.String(), "5 cycles")
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     options
		category errors.ErrorCategory
	}{
		{"negative cycles", options{cycles: -1}, errors.CategoryValidation},
		{"unknown backend", options{cycles: 1, backend: "jack"}, ""},
		{"invalid frame count", options{cycles: 1, frames: -1}, errors.CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			err := run(t.Context(), simSettings(), tt.opts, &out)
			require.Error(t, err)
			if tt.category != "" {
				assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
			}
		})
	}
}

func TestSummaryTracksLatencyRange(t *testing.T) {
	t.Parallel()

	var s summary
	s.add(&loopback.CycleResult{LatencyMs: -1, Cycle: 1}, loopback.StatusUnderrun)
	s.add(&loopback.CycleResult{LatencyMs: 12, Cycle: 2, Degraded: true}, loopback.StatusOverrun)
	s.add(&loopback.CycleResult{LatencyMs: 8, Cycle: 3, Glitches: 2}, loopback.StatusOK)

	assert.Equal(t, int64(3), s.cycles)
	assert.Equal(t, int64(1), s.underruns)
	assert.Equal(t, int64(1), s.overruns)
	assert.Equal(t, int64(1), s.degraded)
	assert.InDelta(t, 8, s.minLatency, 0)
	assert.InDelta(t, 12, s.maxLatency, 0)

	var out bytes.Buffer
	s.write(&out)
	assert.Contains(t, out.String(), "mean 10.00 ms")
	assert.Contains(t, out.String(), "glitches: 2")
}
