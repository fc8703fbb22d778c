package audiocore

// Direction tells whether a stream records or plays.
type Direction int

const (
	DirectionCapture Direction = iota
	DirectionPlayback
)

func (d Direction) String() string {
	switch d {
	case DirectionCapture:
		return "capture"
	case DirectionPlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// StreamConfig describes the stream a backend should open.
type StreamConfig struct {
	SampleRate int    // Sample rate in Hz (e.g., 48000)
	FrameCount int    // Frames per device period
	Channels   int    // Device channels, samples are mixed or fanned out to mono
	DeviceID   string // Device name or id, empty for the system default
	SessionID  string // Owning session, used for resource tracking and logs
}

// Validate checks the stream parameters.
func (c StreamConfig) Validate() error {
	if c.SampleRate <= 0 || c.FrameCount <= 0 || c.Channels < 0 {
		return newStreamConfigError(c)
	}
	return nil
}

// CaptureFunc receives captured mono samples in [-1, 1]. It runs on the
// backend's real-time thread and must not block or allocate. The slice is
// only valid for the duration of the call.
type CaptureFunc func(samples []float32)

// RenderFunc fills out with mono samples in [-1, 1] for playback. Same
// real-time rules as CaptureFunc.
type RenderFunc func(out []float32)

// Stream is one opened native stream.
type Stream interface {
	// ID returns a unique identifier for this stream
	ID() string

	// Direction returns whether the stream captures or plays
	Direction() Direction

	// SampleRate returns the rate the device actually runs at
	SampleRate() int

	// Start begins real-time I/O
	Start() error

	// Stop halts real-time I/O. No callback runs after Stop returns.
	Stop() error

	// Close releases the native resources. Close stops a running stream first.
	Close() error
}

// Backend opens native streams.
type Backend interface {
	// Name returns the backend identifier, e.g. "malgo" or "sim"
	Name() string

	// OpenInput opens a capture stream delivering samples to fn
	OpenInput(cfg StreamConfig, fn CaptureFunc) (Stream, error)

	// OpenOutput opens a playback stream pulling samples from fn
	OpenOutput(cfg StreamConfig, fn RenderFunc) (Stream, error)
}
