package loopback

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/loopback/internal/audiocore"
	"github.com/tphakala/loopback/internal/audiocore/backends/sim"
	"github.com/tphakala/loopback/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stepEngine returns an engine on a manually stepped sim backend.
func stepEngine(t *testing.T, simCfg sim.Config, cfg Config, opts ...Option) (*Engine, *sim.Backend) {
	t.Helper()
	backend := sim.New(simCfg)
	e := NewEngine(backend, cfg, opts...)
	t.Cleanup(func() {
		assert.NoError(t, e.Shutdown())
		assert.Zero(t, backend.OpenStreams())
	})
	return e, backend
}

func openSession(t *testing.T, e *Engine) int64 {
	t.Helper()
	h, status := e.Init(testRate, testFrames)
	require.Equal(t, StatusOK, status)
	require.NotZero(t, h)
	return h
}

func TestInitDestroyReleasesResources(t *testing.T) {
	t.Parallel()

	e, backend := stepEngine(t, sim.Config{DelayFrames: testDelay}, testConfig())
	h := openSession(t, e)

	assert.Equal(t, 2, backend.OpenStreams())
	assert.Equal(t, 2, e.Tracker().Active())
	assert.Equal(t, 1, e.Sessions())
	id, ok := e.SessionID(Handle(h))
	require.True(t, ok)
	assert.Equal(t, 2, e.Tracker().ActiveFor(id))

	assert.Equal(t, StatusOK, e.Destroy(h))
	assert.Zero(t, backend.OpenStreams())
	assert.Zero(t, e.Tracker().Active())
	assert.Zero(t, e.Sessions())
}

func TestDestroyedHandle(t *testing.T) {
	t.Parallel()

	e, _ := stepEngine(t, sim.Config{}, testConfig())
	h := openSession(t, e)
	require.Equal(t, StatusOK, e.Destroy(h))

	out := make([]float64, ResultLen)
	assert.Equal(t, StatusSessionNotRunning, e.ProcessNext(h, out))
	assert.Equal(t, StatusNotFound, e.Destroy(h))
	assert.Equal(t, StatusNotFound, e.Destroy(h))

	assert.Equal(t, StatusSessionNotRunning, e.ProcessNext(0, out))
	assert.Equal(t, StatusNotFound, e.Destroy(0))
	assert.Equal(t, StatusNotFound, e.Destroy(-5))
}

func TestStaleHandleDoesNotReachNewSession(t *testing.T) {
	t.Parallel()

	e, backend := stepEngine(t, sim.Config{}, testConfig())
	old := openSession(t, e)
	require.Equal(t, StatusOK, e.Destroy(old))

	h := openSession(t, e)
	assert.NotEqual(t, old, h)

	out := make([]float64, ResultLen)
	assert.Equal(t, StatusSessionNotRunning, e.ProcessNext(old, out))
	assert.Equal(t, StatusNotFound, e.Destroy(old))

	backend.Step(testFrames)
	assert.Equal(t, StatusOK, e.ProcessNext(h, out))
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		sampleRate int32
		frames     int32
	}{
		{"zero sample rate", 0, 256},
		{"negative sample rate", -48000, 256},
		{"zero frames", 48000, 0},
		{"negative frames", 48000, -1},
		{"sample rate above maximum", 768000, 256},
		{"frames above maximum", 48000, 70000},
		{"period shorter than tone", 2000, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, backend := stepEngine(t, sim.Config{}, testConfig())

			h, status := e.Init(tt.sampleRate, tt.frames)
			assert.Equal(t, StatusInvalidConfig, status)
			assert.Zero(t, h)
			assert.Zero(t, backend.StreamsOpened())
		})
	}
}

func TestInitDeviceOpenErrorLeavesNothingOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  sim.Config
	}{
		{"open input", sim.Config{FailOpenInput: true}},
		{"open output", sim.Config{FailOpenOutput: true}},
		{"start input", sim.Config{FailStartInput: true}},
		{"start output", sim.Config{FailStartOutput: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, backend := stepEngine(t, tt.cfg, testConfig())

			h, status := e.Init(testRate, testFrames)
			assert.Equal(t, StatusDeviceOpenError, status)
			assert.Zero(t, h)
			assert.Zero(t, backend.OpenStreams())
			assert.Zero(t, e.Tracker().Active())
			assert.Zero(t, e.Sessions())

			_, err := e.Open(testRate, testFrames)
			require.ErrorIs(t, err, ErrDeviceOpen)
			require.ErrorIs(t, err, audiocore.ErrDeviceOpen)
		})
	}
}

func TestRealtimeCyclesAreOK(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CycleTimeout = time.Second
	cfg.RingPeriods = 64
	e, _ := stepEngine(t, sim.Config{DelayFrames: testDelay, Realtime: true}, cfg)

	h, status := e.Init(48000, 256)
	require.Equal(t, StatusOK, status)

	out := make([]float64, ResultLen)
	for i := range 10 {
		require.Equal(t, StatusOK, e.ProcessNext(h, out), "cycle %d", i+1)
		assert.InDelta(t, float64(i+1), out[ResultCycle], 0)
		assert.InDelta(t, 256, out[ResultFramesRead], 0)
		assert.InDelta(t, 0, out[ResultDegraded], 0)
	}
	assert.Equal(t, StatusOK, e.Destroy(h))
}

func TestUnderrunZeroFillsAndKeepsRunning(t *testing.T) {
	t.Parallel()

	e, backend := stepEngine(t, sim.Config{}, testConfig())
	h := openSession(t, e)
	out := make([]float64, ResultLen)

	backend.Step(100)
	require.Equal(t, StatusUnderrun, e.ProcessNext(h, out))
	assert.InDelta(t, 100, out[ResultFramesRead], 0)
	assert.InDelta(t, testFrames-100, out[ResultFramesZeroFilled], 0)
	assert.InDelta(t, 1, out[ResultDegraded], 0)
	assert.InDelta(t, 1, out[ResultGlitches], 0)

	backend.Step(testFrames)
	require.Equal(t, StatusOK, e.ProcessNext(h, out))
	assert.InDelta(t, testFrames, out[ResultFramesRead], 0)
	assert.InDelta(t, 0, out[ResultDegraded], 0)
}

func TestOverrunReportsDroppedFrames(t *testing.T) {
	t.Parallel()

	e, backend := stepEngine(t, sim.Config{}, testConfig())
	h := openSession(t, e)
	out := make([]float64, ResultLen)

	// The ring holds 8 cycles, the last 4 of 12 are dropped
	backend.Step(12 * testFrames)
	require.Equal(t, StatusOverrun, e.ProcessNext(h, out))
	assert.InDelta(t, 4*testFrames, out[ResultFramesDropped], 0)
	assert.InDelta(t, testFrames, out[ResultFramesRead], 0)
	assert.InDelta(t, 1, out[ResultDegraded], 0)
	assert.GreaterOrEqual(t, out[ResultGlitches], 1.0)

	// Buffered cycles drain normally
	require.Equal(t, StatusOK, e.ProcessNext(h, out))
	assert.InDelta(t, 4*testFrames, out[ResultFramesDropped], 0)
}

func TestSimDelayYieldsLatency(t *testing.T) {
	t.Parallel()

	e, backend := stepEngine(t, sim.Config{DelayFrames: testDelay}, testConfig())
	h := openSession(t, e)
	out := make([]float64, ResultLen)

	backend.Step(testFrames)
	require.Equal(t, StatusOK, e.ProcessNext(h, out))
	assert.InDelta(t, -1, out[ResultLatencyMs], 0)

	for range 39 {
		backend.Step(testFrames)
		require.Equal(t, StatusOK, e.ProcessNext(h, out))
	}

	wantMs := float64(testDelay) * 1000 / testRate
	assert.InDelta(t, wantMs, out[ResultLatencyMs], 1000.0/testRate)
	assert.Greater(t, out[ResultConfidence], 0.9)
	assert.InDelta(t, 2, out[ResultPulsesDetected], 0)
	assert.InDelta(t, 0, out[ResultGlitches], 0)
	assert.Greater(t, out[ResultInputLevelDB], silenceDB)
}

func TestOverrunGapKeepsTimeline(t *testing.T) {
	t.Parallel()

	e, backend := stepEngine(t, sim.Config{DelayFrames: testDelay}, testConfig())
	h := openSession(t, e)
	out := make([]float64, ResultLen)

	// Capture frames 2048..3071 are dropped, the first pulse window spans them
	backend.Step(12 * testFrames)
	require.Equal(t, StatusOverrun, e.ProcessNext(h, out))
	for range 7 {
		require.Equal(t, StatusOK, e.ProcessNext(h, out))
	}
	for range 20 {
		backend.Step(testFrames)
		require.Equal(t, StatusOK, e.ProcessNext(h, out))
	}

	wantMs := float64(testDelay) * 1000 / testRate
	assert.InDelta(t, wantMs, out[ResultLatencyMs], 1000.0/testRate)
	assert.InDelta(t, 1, out[ResultPulsesDetected], 0)
	// One overrun cycle and one pulse lost in the gap
	assert.InDelta(t, 2, out[ResultGlitches], 0)
}

func TestPassthroughKeepsDirectPathLatency(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Passthrough = true
	e, backend := stepEngine(t, sim.Config{DelayFrames: testDelay, Gain: 0.5}, cfg)
	h := openSession(t, e)
	out := make([]float64, ResultLen)

	for range 30 {
		backend.Step(testFrames)
		require.Equal(t, StatusOK, e.ProcessNext(h, out))
	}

	wantMs := float64(testDelay) * 1000 / testRate
	assert.InDelta(t, wantMs, out[ResultLatencyMs], 1000.0/testRate)
}

func TestShortAndLongResultArrays(t *testing.T) {
	t.Parallel()

	e, backend := stepEngine(t, sim.Config{}, testConfig())
	h := openSession(t, e)

	backend.Step(testFrames)
	short := []float64{7, 7, 7}
	require.Equal(t, StatusOK, e.ProcessNext(h, short))
	assert.InDelta(t, -1, short[ResultLatencyMs], 0)
	assert.InDelta(t, 0, short[ResultGlitches], 0)

	backend.Step(testFrames)
	long := make([]float64, ResultLen+2)
	long[ResultLen], long[ResultLen+1] = 42, 43
	require.Equal(t, StatusOK, e.ProcessNext(h, long))
	assert.InDelta(t, 2, long[ResultCycle], 0)
	assert.InDelta(t, 42, long[ResultLen], 0)
	assert.InDelta(t, 43, long[ResultLen+1], 0)

	backend.Step(testFrames)
	assert.Equal(t, StatusOK, e.ProcessNext(h, nil))
}

func TestDestroyWakesWaitingProcess(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CycleTimeout = 10 * time.Second
	e, _ := stepEngine(t, sim.Config{}, cfg)
	h := openSession(t, e)

	done := make(chan Status, 1)
	go func() {
		done <- e.ProcessNext(h, make([]float64, ResultLen))
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	require.Equal(t, StatusOK, e.Destroy(h))

	select {
	case status := <-done:
		assert.Equal(t, StatusSessionNotRunning, status)
	case <-time.After(2 * time.Second):
		t.Fatal("processNext did not return after destroy")
	}
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestShutdownClosesAllSessions(t *testing.T) {
	t.Parallel()

	backend := sim.New(sim.Config{})
	e := NewEngine(backend, testConfig())
	for range 3 {
		openSession(t, e)
	}
	require.Equal(t, 6, backend.OpenStreams())

	require.NoError(t, e.Shutdown())
	assert.Zero(t, backend.OpenStreams())
	assert.Zero(t, e.Sessions())
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	t.Parallel()

	e, backend := stepEngine(t, sim.Config{}, testConfig())
	handles := []int64{openSession(t, e), openSession(t, e), openSession(t, e)}

	backend.Step(testFrames)
	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Go(func() {
			assert.Equal(t, StatusOK, e.ProcessNext(h, make([]float64, ResultLen)))
		})
	}
	wg.Wait()

	require.Equal(t, StatusOK, e.Destroy(handles[1]))
	backend.Step(testFrames)
	out := make([]float64, ResultLen)
	assert.Equal(t, StatusOK, e.ProcessNext(handles[0], out))
	assert.Equal(t, StatusOK, e.ProcessNext(handles[2], out))
}

type panicBackend struct{}

func (panicBackend) Name() string { return "panic" }

func (panicBackend) OpenInput(audiocore.StreamConfig, audiocore.CaptureFunc) (audiocore.Stream, error) {
	panic("driver fault")
}

func (panicBackend) OpenOutput(audiocore.StreamConfig, audiocore.RenderFunc) (audiocore.Stream, error) {
	panic("driver fault")
}

func TestBoundaryRecoversPanics(t *testing.T) {
	t.Parallel()

	e := NewEngine(panicBackend{}, testConfig())
	h, status := e.Init(testRate, testFrames)
	assert.Equal(t, StatusInternal, status)
	assert.Zero(t, h)
}

// countingRecorder is a metrics.Recorder that counts calls.
type countingRecorder struct {
	mu     sync.Mutex
	opens  map[string]int
	cycles map[string]int
	closes int

	passthroughDropped int
	passthroughShort   int
}

func (r *countingRecorder) RecordSessionOpen(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens[status]++
}

func (r *countingRecorder) RecordSessionClose(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
}

func (r *countingRecorder) RecordCycle(_ string, c metrics.Cycle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles[c.Status]++
	r.passthroughDropped += c.PassthroughDropped
	r.passthroughShort += c.PassthroughShort
}

func TestEngineReportsMetrics(t *testing.T) {
	t.Parallel()

	rec := &countingRecorder{opens: map[string]int{}, cycles: map[string]int{}}
	e, backend := stepEngine(t, sim.Config{}, testConfig(), WithMetrics(rec))

	_, status := e.Init(0, 256)
	require.Equal(t, StatusInvalidConfig, status)

	h := openSession(t, e)
	backend.Step(testFrames)
	require.Equal(t, StatusOK, e.ProcessNext(h, nil))
	backend.Step(50)
	require.Equal(t, StatusUnderrun, e.ProcessNext(h, nil))
	require.Equal(t, StatusOK, e.Destroy(h))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.opens[metrics.StatusInvalidConfig])
	assert.Equal(t, 1, rec.opens[metrics.StatusOK])
	assert.Equal(t, 1, rec.cycles[metrics.StatusOK])
	assert.Equal(t, 1, rec.cycles[metrics.StatusUnderrun])
	assert.Equal(t, 1, rec.closes)
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{ErrUnderrun, StatusUnderrun},
		{ErrOverrun, StatusOverrun},
		{ErrSessionNotFound, StatusNotFound},
		{ErrInvalidConfig, StatusInvalidConfig},
		{audiocore.ErrInvalidStreamConfig, StatusInvalidConfig},
		{ErrDeviceOpen, StatusDeviceOpenError},
		{audiocore.ErrDeviceOpen, StatusDeviceOpenError},
		{ErrSessionNotRunning, StatusSessionNotRunning},
		{ErrInternal, StatusInternal},
		{audiocore.ErrOverrun, StatusInternal},
	}

	for _, tt := range tests {
		t.Run(tt.want.Name(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
	assert.True(t, StatusDeviceOpenError.Fatal())
	assert.False(t, StatusUnderrun.Fatal())
}
