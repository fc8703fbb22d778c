// Package backends selects the audio backend named in the configuration
package backends

import (
	"github.com/tphakala/loopback/internal/audiocore"
	"github.com/tphakala/loopback/internal/audiocore/backends/malgo"
	"github.com/tphakala/loopback/internal/audiocore/backends/sim"
	"github.com/tphakala/loopback/internal/conf"
	"github.com/tphakala/loopback/internal/errors"
)

// CreateBackend creates the audio backend selected by settings.Audio.Backend
func CreateBackend(settings *conf.Settings) (audiocore.Backend, error) {
	switch settings.Audio.Backend {
	case conf.BackendMalgo, "soundcard":
		return malgo.New(), nil

	case conf.BackendSim:
		return sim.New(SimConfig(&settings.Sim)), nil

	default:
		return nil, errors.New(audiocore.ErrUnknownBackend).
			Context("backend", settings.Audio.Backend).
			Build()
	}
}

// SimConfig maps the sim settings section to a simulated backend configuration
func SimConfig(s *conf.SimSettings) sim.Config {
	return sim.Config{
		DelayFrames: s.DelayFrames,
		Gain:        s.Gain,
		Noise:       s.Noise,
		Seed:        uint64(s.Seed),
		Realtime:    s.Realtime,
	}
}

// ListAvailableDevices returns the capture or playback devices of the malgo backend
func ListAvailableDevices(dir audiocore.Direction) ([]malgo.AudioDeviceInfo, error) {
	return malgo.EnumerateDevices(dir)
}
