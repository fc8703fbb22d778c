package malgo

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/loopback/internal/audiocore"
)

// hardwareTests gates tests that need a working sound card.
func hardwareTests(t *testing.T) {
	t.Helper()
	if os.Getenv("LOOPBACK_HW_TESTS") == "" {
		t.Skip("set LOOPBACK_HW_TESTS=1 to run tests against real audio devices")
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	b := New()
	assert.Equal(t, "malgo", b.Name())

	_, err := b.OpenInput(audiocore.StreamConfig{SampleRate: 48000, FrameCount: 0}, func([]float32) {})
	require.ErrorIs(t, err, audiocore.ErrInvalidStreamConfig)

	_, err = b.OpenOutput(audiocore.StreamConfig{SampleRate: -1, FrameCount: 256}, func([]float32) {})
	require.ErrorIs(t, err, audiocore.ErrInvalidStreamConfig)
}

func TestNewStreamDefaultsToMono(t *testing.T) {
	t.Parallel()

	b := New()
	s := b.newStream(audiocore.DirectionPlayback, audiocore.StreamConfig{SampleRate: 48000, FrameCount: 256})
	assert.Equal(t, 1, s.cfg.Channels)
	assert.Equal(t, audiocore.DirectionPlayback, s.Direction())
	assert.Contains(t, s.ID(), "playback")
}

func TestHexToASCII(t *testing.T) {
	t.Parallel()

	got, err := hexToASCII("68773a302c3000")
	require.NoError(t, err)
	assert.Equal(t, "hw:0,0", got)

	_, err = hexToASCII("zz")
	require.Error(t, err)
}

func TestSelectDeviceEmptyList(t *testing.T) {
	t.Parallel()

	_, err := SelectDevice(nil, "USB Audio")
	require.ErrorIs(t, err, audiocore.ErrDeviceNotFound)
}

func TestHardwareStreams(t *testing.T) {
	hardwareTests(t)

	b := New()
	cfg := audiocore.StreamConfig{SampleRate: 48000, FrameCount: 256, SessionID: "hw"}

	in, err := b.OpenInput(cfg, func([]float32) {})
	require.NoError(t, err)
	out, err := b.OpenOutput(cfg, func(out []float32) { clear(out) })
	require.NoError(t, err)

	require.NoError(t, in.Start())
	require.NoError(t, out.Start())
	assert.Positive(t, in.SampleRate())

	require.NoError(t, out.Close())
	require.NoError(t, in.Close())
}

func TestEnumerateDevices(t *testing.T) {
	hardwareTests(t)

	devices, err := EnumerateDevices(audiocore.DirectionCapture)
	require.NoError(t, err)
	for _, d := range devices {
		assert.NotEmpty(t, d.Name)
	}
}
