package audiocore

import (
	"fmt"

	"github.com/tphakala/loopback/internal/errors"
)

// Component identifier for audiocore errors
const ComponentAudioCore = "audiocore"

var (
	// ErrOverrun is returned when a ring buffer lacks free space for a write
	ErrOverrun = errors.New(nil).
			Component(ComponentAudioCore).
			Category(errors.CategoryBuffer).
			Context("condition", "overrun").
			Context("error", "ring buffer overrun").
			Build()

	// ErrUnderrun is returned when a ring buffer holds fewer samples than requested
	ErrUnderrun = errors.New(nil).
			Component(ComponentAudioCore).
			Category(errors.CategoryBuffer).
			Context("condition", "underrun").
			Context("error", "ring buffer underrun").
			Build()

	// ErrInvalidStreamConfig is returned when stream parameters are out of range
	ErrInvalidStreamConfig = errors.New(nil).
				Component(ComponentAudioCore).
				Category(errors.CategoryValidation).
				Context("resource", "stream_config").
				Context("error", "invalid stream configuration").
				Build()

	// ErrDeviceOpen is returned when a native stream cannot be opened or started
	ErrDeviceOpen = errors.New(nil).
			Component(ComponentAudioCore).
			Category(errors.CategoryAudioDevice).
			Context("resource", "audio_stream").
			Context("error", "audio stream could not be opened").
			Build()

	// ErrDeviceNotFound is returned when no device matches the requested name
	ErrDeviceNotFound = errors.New(nil).
				Component(ComponentAudioCore).
				Category(errors.CategoryNotFound).
				Context("resource", "audio_device").
				Context("error", "no matching audio device found").
				Build()

	// ErrStreamState is returned when a stream operation does not fit its state
	ErrStreamState = errors.New(nil).
			Component(ComponentAudioCore).
			Category(errors.CategoryState).
			Context("resource", "audio_stream").
			Context("error", "audio stream is in the wrong state").
			Build()

	// ErrUnknownBackend is returned by the backend factory for unknown names
	ErrUnknownBackend = errors.New(nil).
				Component(ComponentAudioCore).
				Category(errors.CategoryConfiguration).
				Context("resource", "audio_backend").
				Context("error", "unknown audio backend").
				Build()
)

func newStreamConfigError(c StreamConfig) error {
	return errors.New(ErrInvalidStreamConfig).
		Context("sample_rate", c.SampleRate).
		Context("frame_count", c.FrameCount).
		Context("channels", c.Channels).
		Build()
}

// NewDeviceOpenError wraps a native failure to open or start a stream. The
// result matches ErrDeviceOpen and keeps the native error in its chain.
func NewDeviceOpenError(err error, operation string, dir Direction, cfg StreamConfig) error {
	wrapped := error(ErrDeviceOpen)
	if err != nil {
		wrapped = fmt.Errorf("%w: %w", ErrDeviceOpen, err)
	}
	return errors.New(wrapped).
		Context("operation", operation).
		Context("direction", dir.String()).
		Context("device", cfg.DeviceID).
		Context("sample_rate", cfg.SampleRate).
		Build()
}
