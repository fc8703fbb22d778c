// Package malgo provides a miniaudio backend for capture and playback streams
package malgo

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/loopback/internal/audiocore"
	"github.com/tphakala/loopback/internal/logging"
)

// Backend implements audiocore.Backend on top of miniaudio. Each stream owns
// its own context and device.
type Backend struct {
	logger *slog.Logger
	seq    atomic.Int64
}

// New creates a malgo backend
func New() *Backend {
	logger := logging.ForService("audiocore")
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger.With("backend", "malgo")}
}

// Name returns the backend identifier
func (b *Backend) Name() string {
	return "malgo"
}

// OpenInput opens a capture device delivering mono float32 samples to fn
func (b *Backend) OpenInput(cfg audiocore.StreamConfig, fn audiocore.CaptureFunc) (audiocore.Stream, error) {
	s := b.newStream(audiocore.DirectionCapture, cfg)
	s.capture = fn
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenOutput opens a playback device pulling mono float32 samples from fn
func (b *Backend) OpenOutput(cfg audiocore.StreamConfig, fn audiocore.RenderFunc) (audiocore.Stream, error) {
	s := b.newStream(audiocore.DirectionPlayback, cfg)
	s.render = fn
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Backend) newStream(dir audiocore.Direction, cfg audiocore.StreamConfig) *stream {
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	id := fmt.Sprintf("malgo-%s-%d", dir, b.seq.Add(1))
	return &stream{
		id:     id,
		dir:    dir,
		cfg:    cfg,
		logger: b.logger.With("stream_id", id, "session_id", cfg.SessionID),
	}
}

// stream implements audiocore.Stream with one miniaudio device.
type stream struct {
	id     string
	dir    audiocore.Direction
	cfg    audiocore.StreamConfig
	logger *slog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	format     malgo.FormatType
	channels   int
	actualRate int

	capture audiocore.CaptureFunc
	render  audiocore.RenderFunc
	scratch []float32

	mu       sync.Mutex
	running  atomic.Bool
	stopping atomic.Bool
	closed   bool
}

func (s *stream) ID() string                     { return s.id }
func (s *stream) Direction() audiocore.Direction { return s.dir }
func (s *stream) SampleRate() int                { return s.actualRate }

// open initializes the context and device. On failure nothing stays allocated.
func (s *stream) open() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	ctx, err := initContext()
	if err != nil {
		return audiocore.NewDeviceOpenError(err, "init_context", s.dir, s.cfg)
	}

	deviceConfig := malgo.DefaultDeviceConfig(deviceType(s.dir))
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(s.cfg.FrameCount)
	deviceConfig.Alsa.NoMMap = 1

	sub := &deviceConfig.Capture
	if s.dir == audiocore.DirectionPlayback {
		sub = &deviceConfig.Playback
	}
	sub.Format = malgo.FormatF32
	sub.Channels = uint32(s.cfg.Channels)

	if s.cfg.DeviceID != "" {
		devices, err := ctx.Devices(deviceType(s.dir))
		if err != nil {
			freeContext(ctx)
			return audiocore.NewDeviceOpenError(err, "enumerate_devices", s.dir, s.cfg)
		}
		info, err := SelectDevice(devices, s.cfg.DeviceID)
		if err != nil {
			freeContext(ctx)
			return audiocore.NewDeviceOpenError(err, "select_device", s.dir, s.cfg)
		}
		sub.DeviceID = info.ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: s.onAudioData,
		Stop: s.onDeviceStop,
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(ctx)
		return audiocore.NewDeviceOpenError(err, "init_device", s.dir, s.cfg)
	}

	s.ctx = ctx
	s.device = device
	s.actualRate = int(device.SampleRate())
	if s.dir == audiocore.DirectionCapture {
		s.format = device.CaptureFormat()
		s.channels = int(device.CaptureChannels())
	} else {
		s.format = device.PlaybackFormat()
		s.channels = int(device.PlaybackChannels())
	}
	// Callbacks larger than the requested period are handed on in period-sized chunks.
	s.scratch = make([]float32, s.cfg.FrameCount)

	s.logger.Debug("audio stream opened",
		"direction", s.dir.String(),
		"device", s.cfg.DeviceID,
		"requested_rate", s.cfg.SampleRate,
		"actual_rate", s.actualRate,
		"channels", s.channels)

	return nil
}

// Start begins real-time I/O
func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audiocore.ErrStreamState
	}
	if s.running.Load() {
		return nil
	}

	s.stopping.Store(false)
	if err := s.device.Start(); err != nil {
		return audiocore.NewDeviceOpenError(err, "start_device", s.dir, s.cfg)
	}
	s.running.Store(true)
	return nil
}

// Stop halts the device. miniaudio waits for the audio thread, so no
// callback runs after Stop returns.
func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}

	s.stopping.Store(true)
	err := s.device.Stop()
	s.running.Store(false)
	if err != nil {
		return audiocore.NewDeviceOpenError(err, "stop_device", s.dir, s.cfg)
	}
	return nil
}

// Close stops and releases the device and its context
func (s *stream) Close() error {
	stopErr := s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		freeContext(s.ctx)
		s.ctx = nil
	}

	s.logger.Debug("audio stream closed", "direction", s.dir.String())
	return stopErr
}

// onAudioData is called by malgo on the device thread
func (s *stream) onAudioData(pOutput, pInput []byte, framecount uint32) {
	frames := int(framecount)

	if s.dir == audiocore.DirectionCapture {
		bps, _ := GetFormatInfo(s.format)
		frameBytes := bps * s.channels
		for frames > 0 && frameBytes > 0 {
			n := DecodeMono(pInput, s.format, s.channels, s.scratch[:min(frames, len(s.scratch))])
			if n == 0 {
				return
			}
			s.capture(s.scratch[:n])
			pInput = pInput[n*frameBytes:]
			frames -= n
		}
		return
	}

	bps, _ := GetFormatInfo(s.format)
	frameBytes := bps * s.channels
	for frames > 0 && frameBytes > 0 {
		n := min(frames, len(s.scratch), len(pOutput)/frameBytes)
		if n == 0 {
			return
		}
		s.render(s.scratch[:n])
		EncodeMono(s.scratch[:n], s.format, s.channels, pOutput)
		pOutput = pOutput[n*frameBytes:]
		frames -= n
	}
}

// onDeviceStop is called when the device stops, requested or not
func (s *stream) onDeviceStop() {
	if s.stopping.Load() {
		return
	}
	s.running.Store(false)
	s.logger.Warn("audio device stopped unexpectedly", "direction", s.dir.String())
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}
