package metrics

import "time"

// Status label values. They match the engine's status names.
const (
	StatusOK              = "ok"
	StatusUnderrun        = "underrun"
	StatusOverrun         = "overrun"
	StatusInvalidConfig   = "invalid_config"
	StatusDeviceOpenError = "device_open_error"
)

// Passthrough loss reasons.
const (
	PassthroughPipeFull  = "pipe_full"
	PassthroughPipeEmpty = "pipe_empty"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart100us is the starting bucket for 0.1ms histograms.
	BucketStart100us = 0.0001

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// Time and conversion constants.
const (
	// ShutdownTimeout is the timeout for graceful shutdown operations.
	ShutdownTimeout = 5 * time.Second
	// MillisecondsPerSecond is the conversion factor from seconds to milliseconds.
	MillisecondsPerSecond = 1000.0
)
