// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration. Every key must have a default so
// that environment overrides are picked up by Unmarshal.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("audio.backend", BackendMalgo)
	v.SetDefault("audio.capturedevice", "")
	v.SetDefault("audio.playbackdevice", "")
	v.SetDefault("audio.samplerate", 48000)
	v.SetDefault("audio.framecount", 256)
	v.SetDefault("audio.maxsamplerate", 384000)
	v.SetDefault("audio.maxframecount", 65536)

	v.SetDefault("loopback.ringperiods", 8)
	v.SetDefault("loopback.pulseoffset", 100)
	v.SetDefault("loopback.pulseperiod", time.Second)
	v.SetDefault("loopback.toneframes", 300)
	v.SetDefault("loopback.tonefrequency", 1000.0)
	v.SetDefault("loopback.toneamplitude", 10000.0/32768.0)
	v.SetDefault("loopback.maxlatency", 500*time.Millisecond)
	v.SetDefault("loopback.detectionthreshold", 0.6)
	v.SetDefault("loopback.glitchtolerance", 2*time.Millisecond)
	v.SetDefault("loopback.cycletimeout", time.Duration(0))
	v.SetDefault("loopback.passthrough", false)
	v.SetDefault("loopback.pipebytes", 65536)

	v.SetDefault("sim.delayframes", 480)
	v.SetDefault("sim.gain", 0.8)
	v.SetDefault("sim.noise", 0.001)
	v.SetDefault("sim.realtime", true)
	v.SetDefault("sim.seed", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.rotation", "size")
	v.SetDefault("log.maxsizemb", 10)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9090")

	v.SetDefault("telemetry.sentrydsn", "")
}

// Defaults returns a Settings value holding only the built-in defaults.
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	// Defaults always decode; the keys and types are fixed above.
	_ = v.Unmarshal(settings)
	return settings
}
