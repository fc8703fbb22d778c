package loopback

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/loopback/internal/audiocore"
	"github.com/tphakala/loopback/internal/errors"
	"github.com/tphakala/loopback/internal/observability/metrics"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	silenceDB         = -120.0
	pipeScratchFrames = 1024
	gapSlots          = 64
)

// gapRecord marks frames the capture callback could not store. at is the
// number of frames written to the ring before the gap.
type gapRecord struct {
	at     uint64
	frames uint64
}

// gapQueue is a single-producer single-consumer queue of gap records that
// lets the consumer place dropped frames exactly on the capture timeline.
type gapQueue struct {
	recs [gapSlots]gapRecord
	head atomic.Uint64
	tail atomic.Uint64
}

func (q *gapQueue) push(g gapRecord) bool {
	t := q.tail.Load()
	if t-q.head.Load() == gapSlots {
		return false
	}
	q.recs[t%gapSlots] = g
	q.tail.Store(t + 1)
	return true
}

func (q *gapQueue) peek() (gapRecord, bool) {
	h := q.head.Load()
	if h == q.tail.Load() {
		return gapRecord{}, false
	}
	return q.recs[h%gapSlots], true
}

func (q *gapQueue) pop() {
	q.head.Add(1)
}

// Session owns one input stream, one output stream and the buffers between
// them. The capture and render callbacks run on backend threads and only
// touch the ring, the pipe, the gap queue and atomics. Everything below mu
// belongs to the engine side.
type Session struct {
	id     string
	params sessionParams
	logger *slog.Logger

	input   audiocore.Stream
	output  audiocore.Stream
	tracker *audiocore.ResourceTracker

	ring   *audiocore.RingBuffer
	pipe   *audiocore.Pipe // nil unless passthrough is enabled
	gaps   gapQueue
	notify chan struct{}
	done   chan struct{}

	state atomic.Int32

	// capture callback
	written uint64
	pending gapRecord
	dropped atomic.Int64

	// origin is the render frame matching capture frame 0, published once
	// by the first capture callback before any frame reaches the ring.
	origin    atomic.Int64
	originSet atomic.Bool

	// render callback
	renderPos   atomic.Int64
	tone        []float32
	schedule    pulseSchedule
	pipeScratch []float32
	pipeShort   atomic.Int64

	closeOnce sync.Once

	mu              sync.Mutex
	analyzer        *analyzer
	cycleBuf        []float32
	consumed        uint64
	lastDropped     int64
	cycle           int64
	ioGlitches      int64
	aligned         bool
	lastPipeDropped int64
	lastPipeShort   int64
}

// newSession allocates a session without touching any device.
func newSession(cfg *Config, p sessionParams, tracker *audiocore.ResourceTracker, logger *slog.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		id:       id,
		params:   p,
		logger:   logger.With("session_id", id),
		tracker:  tracker,
		ring:     audiocore.NewRingBuffer(p.ringCapacity),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		analyzer: newAnalyzer(p, cfg),
		cycleBuf: make([]float32, p.frameCount),
	}
	s.tone = s.analyzer.tone
	s.schedule = s.analyzer.schedule
	if cfg.Passthrough {
		s.pipe = audiocore.NewPipe(cfg.PipeBytes)
		s.pipeScratch = make([]float32, pipeScratchFrames)
	}
	return s
}

// ID returns the session's unique id
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// start opens the input stream, then the output stream, and starts both.
// On any failure everything already opened is closed again.
func (s *Session) start(backend audiocore.Backend, cfg *Config) error {
	streamCfg := audiocore.StreamConfig{
		SampleRate: s.params.sampleRate,
		FrameCount: s.params.frameCount,
		Channels:   1,
		DeviceID:   cfg.CaptureDevice,
		SessionID:  s.id,
	}

	in, err := backend.OpenInput(streamCfg, s.onCapture)
	if err != nil {
		return s.openError(err, "open_input")
	}
	s.input = in
	s.track(in, audiocore.ResourceCaptureStream)

	streamCfg.DeviceID = cfg.PlaybackDevice
	out, err := backend.OpenOutput(streamCfg, s.onRender)
	if err != nil {
		s.closeStreams()
		return s.openError(err, "open_output")
	}
	s.output = out
	s.track(out, audiocore.ResourcePlaybackStream)

	// The output starts first so the first captured period already has
	// rendered frames behind it.
	if err := out.Start(); err != nil {
		s.closeStreams()
		return s.openError(err, "start_output")
	}
	if err := in.Start(); err != nil {
		s.closeStreams()
		return s.openError(err, "start_input")
	}

	if rate := in.SampleRate(); rate != s.params.sampleRate {
		s.logger.Warn("capture device runs at a different sample rate",
			"requested", s.params.sampleRate,
			"actual", rate)
	}

	s.state.Store(int32(StateRunning))
	s.logger.Info("session started",
		"backend", backend.Name(),
		"sample_rate", s.params.sampleRate,
		"frame_count", s.params.frameCount,
		"ring_capacity", s.ring.Cap(),
		"passthrough", s.pipe != nil)
	return nil
}

func (s *Session) openError(err error, operation string) error {
	return errors.New(fmt.Errorf("%w: %w", ErrDeviceOpen, err)).
		Context("operation", operation).
		Context("session_id", s.id).
		Build()
}

func (s *Session) track(st audiocore.Stream, resourceType string) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.Track(st.ID(), resourceType, s.id); err != nil {
		s.logger.Warn("failed to track stream", "stream_id", st.ID(), "error", err)
	}
}

// closeStreams closes both streams. Close stops a running stream first and
// no callback runs after it returns.
func (s *Session) closeStreams() error {
	var errs []error
	for _, st := range []audiocore.Stream{s.input, s.output} {
		if st == nil {
			continue
		}
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
		if s.tracker != nil {
			if err := s.tracker.Release(st.ID()); err != nil {
				s.logger.Warn("failed to release stream", "stream_id", st.ID(), "error", err)
			}
		}
	}
	s.input, s.output = nil, nil
	return errors.Join(errs...)
}

// close stops the session. It wakes a waiting process call first so the
// session lock is released quickly.
func (s *Session) close() error {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateStopped {
		return nil
	}
	s.state.Store(int32(StateStopped))

	err := s.closeStreams()
	s.ring.Reset()
	if s.pipe != nil {
		s.lastPipeDropped, s.lastPipeShort = s.pipe.Dropped(), s.pipeShort.Load()
		s.pipe.Reset()
	}

	s.logger.Info("session stopped",
		"cycles", s.cycle,
		"glitches", s.ioGlitches+s.analyzer.Glitches(),
		"frames_dropped", s.dropped.Load(),
		"pulses_detected", s.analyzer.detected,
		"passthrough_dropped", s.lastPipeDropped,
		"passthrough_short", s.lastPipeShort)
	return err
}

// onCapture runs on the capture thread.
func (s *Session) onCapture(samples []float32) {
	if !s.originSet.Load() {
		// The newest captured frame lines up with the newest rendered one.
		s.origin.Store(s.renderPos.Load() - int64(len(samples)))
		s.originSet.Store(true)
	}

	// Devices may deliver more than the ring holds in one callback.
	for rest := samples; len(rest) > 0; {
		n := min(len(rest), s.ring.Cap())
		s.store(rest[:n])
		rest = rest[n:]
	}

	if s.pipe != nil {
		s.pipe.Write(samples)
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// store writes one chunk to the ring or extends the pending gap.
func (s *Session) store(samples []float32) {
	// A pending gap is published right before the next frames that fit, so
	// the consumer meets it before them and one gap stays one record.
	if s.pending.frames > 0 && s.ring.Free() >= len(samples) && s.gaps.push(s.pending) {
		s.pending = gapRecord{}
	}

	if s.pending.frames == 0 && s.ring.Write(samples) == nil {
		s.written += uint64(len(samples))
		return
	}
	if s.pending.frames == 0 {
		s.pending.at = s.written
	}
	s.pending.frames += uint64(len(samples))
	s.dropped.Add(int64(len(samples)))
}

// onRender runs on the playback thread.
func (s *Session) onRender(out []float32) {
	clear(out)
	pos := s.renderPos.Load()
	s.schedule.render(out, pos, s.tone)
	s.renderPos.Store(pos + int64(len(out)))

	if s.pipe == nil {
		return
	}
	for off := 0; off < len(out); {
		n := min(len(out)-off, len(s.pipeScratch))
		got := s.pipe.Read(s.pipeScratch[:n])
		for i, v := range s.pipeScratch[:got] {
			out[off+i] += v
		}
		if got < n {
			s.pipeShort.Add(int64(len(out) - off - got))
			return
		}
		off += n
	}
}

// waitForCycle blocks until want frames are buffered, the timeout passes or
// the session is closed. It returns false only for a closed session.
func (s *Session) waitForCycle(want int) bool {
	if s.ring.Len() >= want {
		return true
	}

	timer := time.NewTimer(s.params.cycleTimeout)
	defer timer.Stop()

	for s.ring.Len() < want {
		select {
		case <-s.notify:
		case <-timer.C:
			return true
		case <-s.done:
			return false
		}
	}
	return true
}

// skipGaps moves the analyzer past every gap that starts at the read cursor.
func (s *Session) skipGaps() {
	for {
		g, ok := s.gaps.peek()
		if !ok || g.at > s.consumed {
			return
		}
		s.analyzer.Skip(int(g.frames))
		s.gaps.pop()
	}
}

// drain reads up to want frames into the cycle buffer, feeding the analyzer
// piecewise so gaps land between the right frames.
func (s *Session) drain(want int) int {
	got := 0
	for got < want {
		// Gaps published after this snapshot lie beyond the frames it counts.
		avail := s.ring.Len()
		if !s.aligned && s.originSet.Load() {
			s.analyzer.Align(s.origin.Load())
			s.aligned = true
		}
		s.skipGaps()
		if avail == 0 {
			break
		}

		limit := min(want-got, avail)
		if g, ok := s.gaps.peek(); ok {
			limit = min(limit, int(g.at-s.consumed))
		}

		n := s.ring.ReadUpTo(s.cycleBuf[got : got+limit])
		if n == 0 {
			break
		}
		s.analyzer.Feed(s.cycleBuf[got : got+n])
		s.consumed += uint64(n)
		got += n
	}
	s.skipGaps()
	return got
}

// process runs one measurement cycle and reports it to rec. Underrun and
// overrun are reported through the returned error while the result stays
// valid. rec is called under the session lock, so nothing is recorded for a
// session once close has returned.
func (s *Session) process(rec metrics.Recorder) (CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateRunning {
		return CycleResult{}, ErrSessionNotRunning
	}

	startTime := time.Now()
	want := s.params.frameCount
	if !s.waitForCycle(want) {
		return CycleResult{}, ErrSessionNotRunning
	}

	detectedBefore := s.analyzer.detected
	glitchesBefore := s.ioGlitches + s.analyzer.Glitches()

	got := s.drain(want)
	zeroFilled := want - got
	clear(s.cycleBuf[got:want])

	dropped := s.dropped.Load()
	newDrops := dropped - s.lastDropped
	s.lastDropped = dropped
	s.cycle++

	var err error
	if zeroFilled > 0 {
		s.ioGlitches++
		err = ErrUnderrun
	}
	if newDrops > 0 {
		s.ioGlitches++
		if err == nil {
			err = ErrOverrun
		}
	}

	res := CycleResult{
		LatencyMs:        -1,
		Confidence:       s.analyzer.confidence,
		Glitches:         s.ioGlitches + s.analyzer.Glitches(),
		FramesRead:       got,
		FramesZeroFilled: zeroFilled,
		FramesDropped:    dropped,
		Cycle:            s.cycle,
		Degraded:         err != nil,
		InputLevelDB:     levelDB(s.cycleBuf[:got]),
		PulsesDetected:   s.analyzer.detected,
	}
	if lag := s.analyzer.LatencyFrames(); lag >= 0 {
		res.LatencyMs = float64(lag) * 1000 / float64(s.params.sampleRate)
	}

	sample := metrics.Cycle{
		Status:       StatusOf(err).Name(),
		Duration:     time.Since(startTime),
		LatencyMs:    res.LatencyMs,
		Confidence:   res.Confidence,
		InputLevelDB: res.InputLevelDB,
		ZeroFilled:   zeroFilled,
		Dropped:      int(newDrops),
		Glitches:     int(res.Glitches - glitchesBefore),
		NewEstimate:  s.analyzer.detected > detectedBefore,
	}
	if s.pipe != nil {
		dropped, short := s.pipe.Dropped(), s.pipeShort.Load()
		sample.PassthroughDropped = int(dropped - s.lastPipeDropped)
		sample.PassthroughShort = int(short - s.lastPipeShort)
		s.lastPipeDropped, s.lastPipeShort = dropped, short
	}
	rec.RecordCycle(s.id, sample)
	return res, err
}

// levelDB returns the RMS level of samples in dBFS, floored at silenceDB.
func levelDB(samples []float32) float64 {
	if len(samples) == 0 {
		return silenceDB
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms <= 0 {
		return silenceDB
	}
	return max(silenceDB, 20*math.Log10(rms))
}
