package loopback

import (
	"github.com/tphakala/loopback/internal/errors"
)

// ComponentLoopback identifies errors raised by the engine
const ComponentLoopback = "loopback"

var (
	// ErrInvalidConfig is returned when init parameters are out of range
	ErrInvalidConfig = errors.New(nil).
				Component(ComponentLoopback).
				Category(errors.CategoryValidation).
				Context("resource", "session_config").
				Context("error", "invalid session configuration").
				Build()

	// ErrDeviceOpen is returned when a stream cannot be opened or started
	ErrDeviceOpen = errors.New(nil).
			Component(ComponentLoopback).
			Category(errors.CategoryAudioDevice).
			Context("resource", "session_streams").
			Context("error", "audio streams could not be opened").
			Build()

	// ErrSessionNotRunning is returned by Process for unknown, stale or stopped handles
	ErrSessionNotRunning = errors.New(nil).
				Component(ComponentLoopback).
				Category(errors.CategoryState).
				Context("resource", "session").
				Context("error", "session is not running").
				Build()

	// ErrSessionNotFound is returned by Close for handles that are not live
	ErrSessionNotFound = errors.New(nil).
				Component(ComponentLoopback).
				Category(errors.CategoryNotFound).
				Context("resource", "session").
				Context("error", "session not found").
				Build()

	// ErrUnderrun marks a cycle that had to be zero-filled
	ErrUnderrun = errors.New(nil).
			Component(ComponentLoopback).
			Category(errors.CategoryBuffer).
			Context("condition", "underrun").
			Context("error", "capture underrun, cycle zero-filled").
			Build()

	// ErrOverrun marks a cycle after which captured frames were dropped
	ErrOverrun = errors.New(nil).
			Component(ComponentLoopback).
			Category(errors.CategoryBuffer).
			Context("condition", "overrun").
			Context("error", "capture overrun, frames dropped").
			Build()

	// ErrInternal wraps a panic recovered at the boundary
	ErrInternal = errors.New(nil).
			Component(ComponentLoopback).
			Category(errors.CategoryInternal).
			Context("error", "internal engine error").
			Build()
)
