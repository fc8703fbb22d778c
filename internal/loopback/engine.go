package loopback

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/loopback/internal/audiocore"
	"github.com/tphakala/loopback/internal/errors"
	"github.com/tphakala/loopback/internal/logging"
	"github.com/tphakala/loopback/internal/observability/metrics"
)

// Engine creates loopback sessions on one audio backend and hands out
// opaque handles for them. All methods are safe for concurrent use; calls
// for the same session are serialized.
type Engine struct {
	cfg     Config
	backend audiocore.Backend
	tracker *audiocore.ResourceTracker
	metrics metrics.Recorder
	logger  *slog.Logger

	// degraded cycle warnings are rate limited, a broken device would
	// otherwise log on every cycle
	warnLimiter *rate.Limiter

	sessions arena
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics reports session and cycle metrics to r.
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.metrics = r
		}
	}
}

// WithResourceTracker records every opened stream in t.
func WithResourceTracker(t *audiocore.ResourceTracker) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracker = t
		}
	}
}

// WithLogger replaces the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine that opens its streams on backend.
func NewEngine(backend audiocore.Backend, cfg Config, opts ...Option) *Engine {
	logger := logging.ForService("loopback")
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:         cfg,
		backend:     backend,
		tracker:     audiocore.NewResourceTracker(0, 0),
		metrics:     metrics.NopRecorder{},
		logger:      logger,
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tracker returns the resource tracker that records the engine's streams.
func (e *Engine) Tracker() *audiocore.ResourceTracker {
	return e.tracker
}

// Sessions returns the number of live sessions.
func (e *Engine) Sessions() int {
	return e.sessions.len()
}

// SessionID returns the unique id of a live session, used in logs and metrics.
func (e *Engine) SessionID(h Handle) (string, bool) {
	s, ok := e.sessions.get(h)
	if !ok {
		return "", false
	}
	return s.ID(), true
}

// Open validates the parameters, opens and starts both streams and returns
// the handle of the running session. On failure nothing stays open.
func (e *Engine) Open(sampleRate, frameCount int) (Handle, error) {
	p, err := e.cfg.params(sampleRate, frameCount)
	if err != nil {
		e.metrics.RecordSessionOpen(StatusInvalidConfig.Name())
		return InvalidHandle, err
	}

	s := newSession(&e.cfg, p, e.tracker, e.logger)
	if err := s.start(e.backend, &e.cfg); err != nil {
		e.metrics.RecordSessionOpen(StatusOf(err).Name())
		e.logger.Error("failed to start session",
			"sample_rate", sampleRate,
			"frame_count", frameCount,
			"error", err)
		return InvalidHandle, err
	}

	h := e.sessions.insert(s)
	e.metrics.RecordSessionOpen(StatusOK.Name())
	return h, nil
}

// Process waits for the next cycle of captured frames, analyzes it and
// fills out with the result. ErrUnderrun and ErrOverrun come with a valid
// result; any other error means no cycle was processed.
func (e *Engine) Process(h Handle, out []float64) (CycleResult, error) {
	s, ok := e.sessions.get(h)
	if !ok {
		return CycleResult{}, errors.New(ErrSessionNotRunning).
			Context("handle", int64(h)).
			Build()
	}

	res, err := s.process(e.metrics)
	if err != nil && StatusOf(err).Fatal() {
		return CycleResult{}, err
	}

	res.Fill(out)
	if err != nil && e.warnLimiter.Allow() {
		s.logger.Warn("degraded cycle",
			"status", StatusOf(err).Name(),
			"cycle", res.Cycle,
			"frames_read", res.FramesRead,
			"frames_zero_filled", res.FramesZeroFilled,
			"frames_dropped", res.FramesDropped)
	}
	return res, err
}

// Close stops the session and releases its streams and buffers. A handle
// that is not live returns ErrSessionNotFound.
func (e *Engine) Close(h Handle) error {
	s, ok := e.sessions.remove(h)
	if !ok {
		return errors.New(ErrSessionNotFound).
			Context("handle", int64(h)).
			Build()
	}

	err := s.close()
	e.metrics.RecordSessionClose(s.ID())
	if err != nil {
		e.logger.Warn("errors while closing session", "session_id", s.ID(), "error", err)
	}
	return nil
}

// Shutdown closes every live session.
func (e *Engine) Shutdown() error {
	var errs []error
	for _, h := range e.sessions.handles() {
		if err := e.Close(h); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Init is the boundary form of Open. It returns 0 and a negative status on failure.
func (e *Engine) Init(sampleRate, bufferFrames int32) (handle int64, status Status) {
	defer e.recoverBoundary("init", &status)
	h, err := e.Open(int(sampleRate), int(bufferFrames))
	return int64(h), StatusOf(err)
}

// ProcessNext is the boundary form of Process.
func (e *Engine) ProcessNext(handle int64, out []float64) (status Status) {
	defer e.recoverBoundary("process_next", &status)
	_, err := e.Process(Handle(handle), out)
	return StatusOf(err)
}

// Destroy is the boundary form of Close. Destroying a handle twice returns StatusNotFound.
func (e *Engine) Destroy(handle int64) (status Status) {
	defer e.recoverBoundary("destroy", &status)
	return StatusOf(e.Close(Handle(handle)))
}

// recoverBoundary turns a panic into StatusInternal so none crosses the boundary.
func (e *Engine) recoverBoundary(operation string, status *Status) {
	r := recover()
	if r == nil {
		return
	}
	err := errors.New(fmt.Errorf("%w: %v", ErrInternal, r)).
		Context("operation", operation).
		Build()
	e.logger.Error("recovered panic at engine boundary", "operation", operation, "error", err)
	*status = StatusInternal
}
