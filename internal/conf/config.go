// config.go: settings struct for the loopback engine and the functions that load it.
package conf

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/loopback/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g. LOOPBACK_AUDIO_SAMPLERATE.
const EnvPrefix = "LOOPBACK"

// Backend names accepted in audio.backend.
const (
	BackendMalgo = "malgo"
	BackendSim   = "sim"
)

// AudioSettings selects the device backend and the default stream format.
type AudioSettings struct {
	Backend        string `mapstructure:"backend" yaml:"backend"`               // malgo or sim
	CaptureDevice  string `mapstructure:"capturedevice" yaml:"capturedevice"`   // device name or id, empty for the system default
	PlaybackDevice string `mapstructure:"playbackdevice" yaml:"playbackdevice"` // device name or id, empty for the system default
	SampleRate     int    `mapstructure:"samplerate" yaml:"samplerate"`         // used when the caller passes no rate
	FrameCount     int    `mapstructure:"framecount" yaml:"framecount"`         // frames per cycle
	MaxSampleRate  int    `mapstructure:"maxsamplerate" yaml:"maxsamplerate"`
	MaxFrameCount  int    `mapstructure:"maxframecount" yaml:"maxframecount"`
}

// LoopbackSettings tune the reference pulse train and the latency analyzer.
type LoopbackSettings struct {
	RingPeriods        int           `mapstructure:"ringperiods" yaml:"ringperiods"` // ring capacity in cycles
	PulseOffset        int           `mapstructure:"pulseoffset" yaml:"pulseoffset"` // frames before the first pulse
	PulsePeriod        time.Duration `mapstructure:"pulseperiod" yaml:"pulseperiod"`
	ToneFrames         int           `mapstructure:"toneframes" yaml:"toneframes"`
	ToneFrequency      float64       `mapstructure:"tonefrequency" yaml:"tonefrequency"`
	ToneAmplitude      float64       `mapstructure:"toneamplitude" yaml:"toneamplitude"` // 0..1 full scale
	MaxLatency         time.Duration `mapstructure:"maxlatency" yaml:"maxlatency"`
	DetectionThreshold float64       `mapstructure:"detectionthreshold" yaml:"detectionthreshold"`
	GlitchTolerance    time.Duration `mapstructure:"glitchtolerance" yaml:"glitchtolerance"`
	CycleTimeout       time.Duration `mapstructure:"cycletimeout" yaml:"cycletimeout"` // 0 derives it from the cycle duration
	Passthrough        bool          `mapstructure:"passthrough" yaml:"passthrough"`   // echo captured audio to the output
	PipeBytes          int           `mapstructure:"pipebytes" yaml:"pipebytes"`
}

// SimSettings configure the in-process acoustic loop backend.
type SimSettings struct {
	DelayFrames int     `mapstructure:"delayframes" yaml:"delayframes"`
	Gain        float64 `mapstructure:"gain" yaml:"gain"`
	Noise       float64 `mapstructure:"noise" yaml:"noise"` // peak amplitude of uniform noise
	Realtime    bool    `mapstructure:"realtime" yaml:"realtime"`
	Seed        int64   `mapstructure:"seed" yaml:"seed"`
}

// LogSettings configure the optional rotated log file.
type LogSettings struct {
	Level     string `mapstructure:"level" yaml:"level"`
	File      string `mapstructure:"file" yaml:"file"` // empty disables file logging
	Rotation  string `mapstructure:"rotation" yaml:"rotation"`
	MaxSizeMB int    `mapstructure:"maxsizemb" yaml:"maxsizemb"`
}

// MetricsSettings configure the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// TelemetrySettings configure error reporting.
type TelemetrySettings struct {
	SentryDSN string `mapstructure:"sentrydsn" yaml:"sentrydsn"`
}

// Settings is the root configuration.
type Settings struct {
	Debug     bool              `mapstructure:"debug" yaml:"debug"`
	Audio     AudioSettings     `mapstructure:"audio" yaml:"audio"`
	Loopback  LoopbackSettings  `mapstructure:"loopback" yaml:"loopback"`
	Sim       SimSettings       `mapstructure:"sim" yaml:"sim"`
	Log       LogSettings       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsSettings   `mapstructure:"metrics" yaml:"metrics"`
	Telemetry TelemetrySettings `mapstructure:"telemetry" yaml:"telemetry"`
}

// Load reads config.yaml and environment overrides into a Settings value.
// An explicit configPath must exist; otherwise the default search paths are
// tried and a missing file leaves the defaults in place.
func Load(configPath string) (*Settings, error) {
	v, err := initViper(configPath)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("operation", "validate_config").
			Build()
	}

	return settings, nil
}

// initViper builds a viper instance with defaults, the config file and env overrides.
func initViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("operation", "read_config").
				Context("path", configPath).
				Build()
		}
		return v, nil
	}

	v.SetConfigName("config")
	for _, path := range GetDefaultConfigPaths() {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read_config").
			Build()
	}

	return v, nil
}

// WriteYAML writes settings as YAML.
func WriteYAML(w io.Writer, settings *Settings) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return enc.Close()
}
