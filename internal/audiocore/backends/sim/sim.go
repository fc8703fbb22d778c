// Package sim provides an in-process audio backend whose playback stream is
// wired back into its capture stream through a configurable acoustic path.
// It stands in for real hardware in tests and in the CLI.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/loopback/internal/audiocore"
)

// Config describes the simulated acoustic path and the faults to inject.
type Config struct {
	DelayFrames int     // round trip from render to capture, in frames
	Gain        float64 // applied to the looped signal, 0 means unity
	Noise       float64 // peak amplitude of uniform noise added to the capture
	Seed        uint64  // noise generator seed
	Realtime    bool    // pace callbacks with a ticker; otherwise only Step drives them

	FailOpenInput   bool
	FailOpenOutput  bool
	FailStartInput  bool
	FailStartOutput bool
}

// Backend implements audiocore.Backend. Streams opened with the same
// SessionID share one acoustic loop. The capture stream is the clock: each
// period renders the playback stream, passes it through the delay line and
// delivers it to the capture callback.
type Backend struct {
	cfg Config

	mu    sync.Mutex
	loops map[string]*loop

	seq    atomic.Int64
	open   atomic.Int32 // streams opened and not yet closed
	opened atomic.Int64
}

// New creates a simulated backend.
func New(cfg Config) *Backend {
	if cfg.DelayFrames < 0 {
		cfg.DelayFrames = 0
	}
	if cfg.Gain == 0 {
		cfg.Gain = 1.0
	}
	return &Backend{
		cfg:   cfg,
		loops: make(map[string]*loop),
	}
}

// Name returns the backend identifier
func (b *Backend) Name() string {
	return "sim"
}

// Realtime reports whether streams are paced by a ticker rather than Step.
func (b *Backend) Realtime() bool {
	return b.cfg.Realtime
}

// OpenStreams returns the number of streams that are open right now.
func (b *Backend) OpenStreams() int {
	return int(b.open.Load())
}

// StreamsOpened returns the total number of streams ever opened.
func (b *Backend) StreamsOpened() int64 {
	return b.opened.Load()
}

// OpenInput opens a simulated capture stream
func (b *Backend) OpenInput(cfg audiocore.StreamConfig, fn audiocore.CaptureFunc) (audiocore.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.cfg.FailOpenInput {
		return nil, audiocore.NewDeviceOpenError(fmt.Errorf("simulated open failure"), "open_input", audiocore.DirectionCapture, cfg)
	}

	l := b.loopFor(cfg.SessionID)
	s := b.newStream(l, audiocore.DirectionCapture, cfg)
	s.capture = fn

	l.mu.Lock()
	l.in = s
	l.renderBuf = make([]float32, cfg.FrameCount)
	l.captureBuf = make([]float32, cfg.FrameCount)
	l.period = cfg.FrameCount
	l.interval = time.Duration(float64(cfg.FrameCount) / float64(cfg.SampleRate) * float64(time.Second))
	l.mu.Unlock()

	return s, nil
}

// OpenOutput opens a simulated playback stream
func (b *Backend) OpenOutput(cfg audiocore.StreamConfig, fn audiocore.RenderFunc) (audiocore.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.cfg.FailOpenOutput {
		return nil, audiocore.NewDeviceOpenError(fmt.Errorf("simulated open failure"), "open_output", audiocore.DirectionPlayback, cfg)
	}

	l := b.loopFor(cfg.SessionID)
	s := b.newStream(l, audiocore.DirectionPlayback, cfg)
	s.render = fn

	l.mu.Lock()
	l.out = s
	l.mu.Unlock()

	return s, nil
}

// Step delivers frames to every loop whose capture stream is running and
// returns when all callbacks for those frames have run.
func (b *Backend) Step(frames int) {
	b.mu.Lock()
	loops := make([]*loop, 0, len(b.loops))
	for _, l := range b.loops {
		loops = append(loops, l)
	}
	b.mu.Unlock()

	for _, l := range loops {
		l.advance(frames)
	}
}

func (b *Backend) loopFor(sessionID string) *loop {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.loops[sessionID]
	if !ok {
		l = &loop{
			line:  make([]float32, b.cfg.DelayFrames),
			gain:  float32(b.cfg.Gain),
			noise: b.cfg.Noise,
			rng:   rand.New(rand.NewPCG(b.cfg.Seed, uint64(len(b.loops))+1)),
		}
		b.loops[sessionID] = l
	}
	return l
}

func (b *Backend) newStream(l *loop, dir audiocore.Direction, cfg audiocore.StreamConfig) *stream {
	b.open.Add(1)
	b.opened.Add(1)
	return &stream{
		id:      fmt.Sprintf("sim-%s-%s-%d", cfg.SessionID, dir, b.seq.Add(1)),
		dir:     dir,
		cfg:     cfg,
		backend: b,
		loop:    l,
	}
}

// release detaches a closed stream and drops the loop once it is empty.
func (b *Backend) release(s *stream) {
	b.open.Add(-1)

	l := s.loop
	l.mu.Lock()
	if l.in == s {
		l.in = nil
	}
	if l.out == s {
		l.out = nil
	}
	empty := l.in == nil && l.out == nil
	l.mu.Unlock()

	if empty {
		b.mu.Lock()
		if b.loops[s.cfg.SessionID] == l {
			delete(b.loops, s.cfg.SessionID)
		}
		b.mu.Unlock()
	}
}

// loop is one simulated acoustic path from a playback to a capture stream.
type loop struct {
	mu  sync.Mutex
	in  *stream
	out *stream

	period     int
	interval   time.Duration
	renderBuf  []float32
	captureBuf []float32

	line  []float32 // delay line, len == delay in frames
	pos   int
	gain  float32
	noise float64
	rng   *rand.Rand

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// advance runs the callbacks for the given number of frames, one period at a time.
func (l *loop) advance(frames int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.in == nil || !l.in.running {
		return
	}

	for frames > 0 {
		n := min(frames, len(l.renderBuf))
		rendered := l.renderBuf[:n]
		if l.out != nil && l.out.running {
			l.out.render(rendered)
		} else {
			clear(rendered)
		}

		captured := l.captureBuf[:n]
		for i, s := range rendered {
			captured[i] = l.pass(s)
		}
		l.in.capture(captured)
		frames -= n
	}
}

// pass pushes one rendered sample into the delay line and returns the sample
// arriving at the microphone.
func (l *loop) pass(s float32) float32 {
	arriving := s
	if len(l.line) > 0 {
		arriving = l.line[l.pos]
		l.line[l.pos] = s
		l.pos++
		if l.pos == len(l.line) {
			l.pos = 0
		}
	}

	v := arriving * l.gain
	if l.noise > 0 {
		v += float32((l.rng.Float64()*2 - 1) * l.noise)
	}
	return max(-1, min(1, v))
}

func (l *loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.advance(l.period)
		}
	}
}

// stream implements audiocore.Stream for the simulated backend.
type stream struct {
	id      string
	dir     audiocore.Direction
	cfg     audiocore.StreamConfig
	backend *Backend
	loop    *loop

	capture audiocore.CaptureFunc
	render  audiocore.RenderFunc

	running bool // guarded by loop.mu
	closed  bool // guarded by loop.mu
}

func (s *stream) ID() string                     { return s.id }
func (s *stream) Direction() audiocore.Direction { return s.dir }
func (s *stream) SampleRate() int                { return s.cfg.SampleRate }

// Start begins delivering callbacks. In realtime mode the capture stream
// starts the pacing goroutine.
func (s *stream) Start() error {
	failStart := s.backend.cfg.FailStartInput
	if s.dir == audiocore.DirectionPlayback {
		failStart = s.backend.cfg.FailStartOutput
	}
	if failStart {
		return audiocore.NewDeviceOpenError(fmt.Errorf("simulated start failure"), "start_stream", s.dir, s.cfg)
	}

	l := s.loop
	l.mu.Lock()
	defer l.mu.Unlock()

	if s.closed {
		return audiocore.ErrStreamState
	}
	if s.running {
		return nil
	}
	s.running = true

	if s.dir == audiocore.DirectionCapture && s.backend.cfg.Realtime && l.interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel
		l.wg.Add(1)
		go l.run(ctx)
	}
	return nil
}

// Stop halts callbacks. When it returns no callback of this stream is running.
func (s *stream) Stop() error {
	l := s.loop
	l.mu.Lock()
	s.running = false
	cancel := l.cancel
	if s.dir == audiocore.DirectionCapture {
		l.cancel = nil
	}
	l.mu.Unlock()

	if s.dir == audiocore.DirectionCapture && cancel != nil {
		cancel()
		l.wg.Wait()
	}
	return nil
}

// Close stops the stream and releases it. Closing twice is a no-op.
func (s *stream) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}

	l := s.loop
	l.mu.Lock()
	if s.closed {
		l.mu.Unlock()
		return nil
	}
	s.closed = true
	l.mu.Unlock()

	s.backend.release(s)
	return nil
}
