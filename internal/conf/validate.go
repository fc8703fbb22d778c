// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/tphakala/loopback/internal/logging"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) []string{
		validateAudioSettings,
		validateLoopbackSettings,
		validateSimSettings,
		validateLogSettings,
		validateMetricsSettings,
	} {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAudioSettings(settings *Settings) []string {
	var errs []string
	a := &settings.Audio

	switch a.Backend {
	case BackendMalgo, BackendSim:
	default:
		errs = append(errs, fmt.Sprintf("audio.backend must be %q or %q, got %q", BackendMalgo, BackendSim, a.Backend))
	}

	if a.MaxSampleRate <= 0 {
		errs = append(errs, "audio.maxsamplerate must be positive")
	}
	if a.MaxFrameCount <= 0 {
		errs = append(errs, "audio.maxframecount must be positive")
	}
	if a.SampleRate <= 0 || a.SampleRate > a.MaxSampleRate {
		errs = append(errs, fmt.Sprintf("audio.samplerate must be in 1..%d, got %d", a.MaxSampleRate, a.SampleRate))
	}
	if a.FrameCount <= 0 || a.FrameCount > a.MaxFrameCount {
		errs = append(errs, fmt.Sprintf("audio.framecount must be in 1..%d, got %d", a.MaxFrameCount, a.FrameCount))
	}

	return errs
}

func validateLoopbackSettings(settings *Settings) []string {
	var errs []string
	l := &settings.Loopback

	if l.RingPeriods < 2 {
		errs = append(errs, "loopback.ringperiods must be at least 2")
	}
	if l.PulseOffset < 0 {
		errs = append(errs, "loopback.pulseoffset must not be negative")
	}
	if l.ToneFrames <= 0 {
		errs = append(errs, "loopback.toneframes must be positive")
	}
	if l.ToneFrequency <= 0 {
		errs = append(errs, "loopback.tonefrequency must be positive")
	}
	if l.ToneAmplitude <= 0 || l.ToneAmplitude > 1 {
		errs = append(errs, "loopback.toneamplitude must be in (0, 1]")
	}
	if l.PulsePeriod <= 0 {
		errs = append(errs, "loopback.pulseperiod must be positive")
	}
	if l.MaxLatency <= 0 {
		errs = append(errs, "loopback.maxlatency must be positive")
	}
	if l.DetectionThreshold <= 0 || l.DetectionThreshold > 1 {
		errs = append(errs, "loopback.detectionthreshold must be in (0, 1]")
	}
	if l.GlitchTolerance < 0 {
		errs = append(errs, "loopback.glitchtolerance must not be negative")
	}
	if l.CycleTimeout < 0 {
		errs = append(errs, "loopback.cycletimeout must not be negative")
	}
	if l.PipeBytes <= 0 {
		errs = append(errs, "loopback.pipebytes must be positive")
	}

	return errs
}

func validateSimSettings(settings *Settings) []string {
	var errs []string
	s := &settings.Sim

	if s.DelayFrames < 0 {
		errs = append(errs, "sim.delayframes must not be negative")
	}
	if s.Noise < 0 || s.Noise > 1 {
		errs = append(errs, "sim.noise must be in [0, 1]")
	}

	return errs
}

func validateLogSettings(settings *Settings) []string {
	if _, err := logging.ParseLevel(settings.Log.Level); err != nil {
		return []string{fmt.Sprintf("log.level: %v", err)}
	}
	switch strings.ToLower(settings.Log.Rotation) {
	case logging.RotationDaily, logging.RotationWeekly, logging.RotationSize, "":
	default:
		return []string{fmt.Sprintf("log.rotation must be daily, weekly or size, got %q", settings.Log.Rotation)}
	}
	return nil
}

func validateMetricsSettings(settings *Settings) []string {
	if !settings.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Metrics.Listen); err != nil {
		return []string{fmt.Sprintf("metrics.listen %q is not a host:port address: %v", settings.Metrics.Listen, err)}
	}
	return nil
}
