package loopback

import (
	"github.com/tphakala/loopback/internal/audiocore"
	"github.com/tphakala/loopback/internal/errors"
)

// Status is the int32 code returned across the engine boundary.
type Status int32

const (
	StatusOK                Status = 0
	StatusUnderrun          Status = 1
	StatusOverrun           Status = 2
	StatusNotFound          Status = 3
	StatusInvalidConfig     Status = -1
	StatusDeviceOpenError   Status = -2
	StatusSessionNotRunning Status = -3
	StatusInternal          Status = -4
)

// Name returns the snake_case name used in logs and metric labels.
func (s Status) Name() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnderrun:
		return "underrun"
	case StatusOverrun:
		return "overrun"
	case StatusNotFound:
		return "not_found"
	case StatusInvalidConfig:
		return "invalid_config"
	case StatusDeviceOpenError:
		return "device_open_error"
	case StatusSessionNotRunning:
		return "session_not_running"
	case StatusInternal:
		return "internal"
	default:
		return "unknown"
	}
}

func (s Status) String() string {
	return s.Name()
}

// Fatal reports whether the status ends the operation. Underrun and overrun
// cycles still carry a valid result.
func (s Status) Fatal() bool {
	return s < 0
}

// StatusOf maps an error returned by the engine to its status code.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrUnderrun):
		return StatusUnderrun
	case errors.Is(err, ErrOverrun):
		return StatusOverrun
	case errors.Is(err, ErrSessionNotFound):
		return StatusNotFound
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, audiocore.ErrInvalidStreamConfig):
		return StatusInvalidConfig
	case errors.Is(err, ErrDeviceOpen), errors.Is(err, audiocore.ErrDeviceOpen):
		return StatusDeviceOpenError
	case errors.Is(err, ErrSessionNotRunning):
		return StatusSessionNotRunning
	default:
		return StatusInternal
	}
}
