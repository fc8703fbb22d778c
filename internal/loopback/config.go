package loopback

import (
	"time"

	"github.com/tphakala/loopback/internal/audiocore"
	"github.com/tphakala/loopback/internal/conf"
	"github.com/tphakala/loopback/internal/errors"
)

// Config holds the engine parameters that do not change per session.
type Config struct {
	CaptureDevice  string
	PlaybackDevice string
	MaxSampleRate  int
	MaxFrameCount  int

	RingPeriods int // ring capacity in cycles, rounded up to a power of two

	PulseOffset        int           // render frames before the first pulse
	PulsePeriod        time.Duration // time between pulse starts
	ToneFrames         int
	ToneFrequency      float64
	ToneAmplitude      float64
	MaxLatency         time.Duration
	DetectionThreshold float64
	GlitchTolerance    time.Duration

	CycleTimeout time.Duration // 0 derives the timeout from the cycle duration
	Passthrough  bool
	PipeBytes    int
}

const minCycleTimeout = 20 * time.Millisecond

// DefaultConfig returns the configuration the engine uses when no settings are loaded.
func DefaultConfig() Config {
	return ConfigFromSettings(conf.Defaults())
}

// ConfigFromSettings maps the audio and loopback settings sections to an engine configuration
func ConfigFromSettings(s *conf.Settings) Config {
	return Config{
		CaptureDevice:      s.Audio.CaptureDevice,
		PlaybackDevice:     s.Audio.PlaybackDevice,
		MaxSampleRate:      s.Audio.MaxSampleRate,
		MaxFrameCount:      s.Audio.MaxFrameCount,
		RingPeriods:        s.Loopback.RingPeriods,
		PulseOffset:        s.Loopback.PulseOffset,
		PulsePeriod:        s.Loopback.PulsePeriod,
		ToneFrames:         s.Loopback.ToneFrames,
		ToneFrequency:      s.Loopback.ToneFrequency,
		ToneAmplitude:      s.Loopback.ToneAmplitude,
		MaxLatency:         s.Loopback.MaxLatency,
		DetectionThreshold: s.Loopback.DetectionThreshold,
		GlitchTolerance:    s.Loopback.GlitchTolerance,
		CycleTimeout:       s.Loopback.CycleTimeout,
		Passthrough:        s.Loopback.Passthrough,
		PipeBytes:          s.Loopback.PipeBytes,
	}
}

// sessionParams are the per-session values derived from Config and the init arguments.
type sessionParams struct {
	sampleRate   int
	frameCount   int
	ringCapacity int
	periodFrames int
	toneFrames   int
	maxLag       int
	tolerance    int
	cycleTimeout time.Duration
}

// durationFrames converts a duration to a whole number of frames at rate.
func durationFrames(d time.Duration, rate int) int {
	return int(d.Seconds()*float64(rate) + 0.5)
}

// params validates the init arguments against the configuration.
func (c *Config) params(sampleRate, frameCount int) (sessionParams, error) {
	invalid := func(reason string) error {
		return errors.New(ErrInvalidConfig).
			Context("sample_rate", sampleRate).
			Context("frame_count", frameCount).
			Context("reason", reason).
			Build()
	}

	if sampleRate <= 0 || frameCount <= 0 {
		return sessionParams{}, invalid("sample rate and frame count must be positive")
	}
	if c.MaxSampleRate > 0 && sampleRate > c.MaxSampleRate {
		return sessionParams{}, invalid("sample rate above maximum")
	}
	if c.MaxFrameCount > 0 && frameCount > c.MaxFrameCount {
		return sessionParams{}, invalid("frame count above maximum")
	}

	p := sessionParams{
		sampleRate:   sampleRate,
		frameCount:   frameCount,
		ringCapacity: audiocore.RingCapacity(frameCount, c.RingPeriods),
		periodFrames: durationFrames(c.PulsePeriod, sampleRate),
		toneFrames:   c.ToneFrames,
		tolerance:    durationFrames(c.GlitchTolerance, sampleRate),
	}
	if p.toneFrames <= 0 || p.periodFrames <= p.toneFrames {
		return sessionParams{}, invalid("pulse period must be longer than the tone")
	}
	p.maxLag = min(durationFrames(c.MaxLatency, sampleRate), p.periodFrames-p.toneFrames)
	if p.maxLag < 0 {
		p.maxLag = 0
	}

	p.cycleTimeout = c.CycleTimeout
	if p.cycleTimeout <= 0 {
		cycle := time.Duration(float64(frameCount) / float64(sampleRate) * float64(time.Second))
		p.cycleTimeout = max(4*cycle, minCycleTimeout)
	}
	return p, nil
}
