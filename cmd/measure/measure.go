// Package measure runs a loopback session and reports round-trip latency
package measure

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/loopback/internal/audiocore"
	"github.com/tphakala/loopback/internal/audiocore/backends"
	"github.com/tphakala/loopback/internal/conf"
	"github.com/tphakala/loopback/internal/errors"
	"github.com/tphakala/loopback/internal/logging"
	"github.com/tphakala/loopback/internal/loopback"
	"github.com/tphakala/loopback/internal/observability"
)

// streamLeakAge is how old a stream must be before the tracker reports it.
// Measurement sessions legitimately run for hours.
const streamLeakAge = 24 * time.Hour

// options holds the measure flags. Zero values fall back to the settings.
type options struct {
	sampleRate int
	frames     int
	cycles     int
	backend    string
	quiet      bool
}

// Command creates the measure command.
func Command(settings *conf.Settings) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Measure audio round-trip latency",
		Long: "Play a periodic reference pulse on the output device, capture it on the input device " +
			"and report the measured round-trip latency for every cycle.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.sampleRate, "samplerate", 0, "Sample rate in Hz (default from config)")
	cmd.Flags().IntVar(&opts.frames, "frames", 0, "Frames per cycle (default from config)")
	cmd.Flags().IntVar(&opts.cycles, "cycles", 0, "Number of cycles to run, 0 runs until interrupted")
	cmd.Flags().StringVar(&opts.backend, "backend", "", "Audio backend override (malgo or sim)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Print only the summary")

	return cmd
}

// stepper is implemented by backends whose clock is driven by the caller.
type stepper interface {
	Step(frames int)
}

// run opens one session, processes cycles until ctx is cancelled or the
// cycle count is reached and writes a line per cycle plus a summary to w.
func run(ctx context.Context, settings *conf.Settings, opts options, w io.Writer) error {
	if opts.backend != "" {
		settings.Audio.Backend = opts.backend
	}
	if opts.sampleRate == 0 {
		opts.sampleRate = settings.Audio.SampleRate
	}
	if opts.frames == 0 {
		opts.frames = settings.Audio.FrameCount
	}
	if opts.cycles < 0 {
		return errors.New(nil).
			Component("measure").
			Category(errors.CategoryValidation).
			Context("error", "cycles must not be negative").
			Context("cycles", opts.cycles).
			Build()
	}

	backend, err := backends.CreateBackend(settings)
	if err != nil {
		return err
	}

	tracker := audiocore.NewResourceTracker(audiocore.DefaultLeakCheckInterval, streamLeakAge)
	defer func() { _ = tracker.Close() }()

	engineOpts := []loopback.Option{loopback.WithResourceTracker(tracker)}

	var endpoint *observability.Endpoint
	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		endpoint, err = observability.NewEndpoint(settings, m)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, loopback.WithMetrics(m.Loopback))
	}

	engine := loopback.NewEngine(backend, loopback.ConfigFromSettings(settings), engineOpts...)
	defer func() { _ = engine.Shutdown() }()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if endpoint != nil {
		g.Go(func() error {
			return endpoint.Run(runCtx)
		})
	}

	var sum summary
	g.Go(func() error {
		// The endpoint stops once measuring ends
		defer cancel()
		return measure(runCtx, engine, backend, opts, w, &sum)
	})

	err = g.Wait()
	sum.write(w)

	stats := tracker.Stats()
	logging.Debug("stream resources",
		"allocated", stats.TotalAllocated,
		"released", stats.TotalReleased,
		"active", stats.Active)
	return err
}

// measure drives one session until ctx is done or opts.cycles are processed.
func measure(ctx context.Context, engine *loopback.Engine, backend audiocore.Backend, opts options, w io.Writer, sum *summary) error {
	h, err := engine.Open(opts.sampleRate, opts.frames)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close(h) }()

	// The simulated backend only advances when stepped unless it runs in realtime
	step, _ := backend.(stepper)
	if rt, ok := backend.(interface{ Realtime() bool }); ok && rt.Realtime() {
		step = nil
	}

	out := make([]float64, loopback.ResultLen)
	for cycle := 1; opts.cycles == 0 || cycle <= opts.cycles; cycle++ {
		if ctx.Err() != nil {
			return nil
		}
		if step != nil {
			step.Step(opts.frames)
		}

		res, err := engine.Process(h, out)
		status := loopback.StatusOf(err)
		if status.Fatal() {
			return err
		}

		sum.add(&res, status)
		if !opts.quiet {
			writeCycle(w, &res, status)
		}
	}
	return nil
}

func writeCycle(w io.Writer, res *loopback.CycleResult, status loopback.Status) {
	latency := "-"
	if res.LatencyMs >= 0 {
		latency = fmt.Sprintf("%.2f ms", res.LatencyMs)
	}
	_, _ = fmt.Fprintf(w, "cycle %6d  %-9s  latency %-10s  confidence %.3f  level %7.1f dB  glitches %d\n",
		res.Cycle, status.Name(), latency, res.Confidence, res.InputLevelDB, res.Glitches)
}

// summary accumulates statistics over the cycles of one run.
type summary struct {
	cycles     int64
	degraded   int64
	underruns  int64
	overruns   int64
	estimates  int64
	minLatency float64
	maxLatency float64
	sumLatency float64
	last       loopback.CycleResult
}

func (s *summary) add(res *loopback.CycleResult, status loopback.Status) {
	s.cycles++
	s.last = *res

	switch status {
	case loopback.StatusUnderrun:
		s.underruns++
	case loopback.StatusOverrun:
		s.overruns++
	}
	if res.Degraded {
		s.degraded++
	}

	if res.LatencyMs < 0 {
		return
	}
	if s.estimates == 0 {
		s.minLatency, s.maxLatency = res.LatencyMs, res.LatencyMs
	}
	s.estimates++
	s.minLatency = math.Min(s.minLatency, res.LatencyMs)
	s.maxLatency = math.Max(s.maxLatency, res.LatencyMs)
	s.sumLatency += res.LatencyMs
}

func (s *summary) write(w io.Writer) {
	if s.cycles == 0 {
		return
	}

	_, _ = fmt.Fprintf(w, "\n%d cycles, %d degraded (%d underruns, %d overruns)\n",
		s.cycles, s.degraded, s.underruns, s.overruns)
	if s.estimates == 0 {
		_, _ = fmt.Fprintln(w, "latency: no pulse detected")
	} else {
		_, _ = fmt.Fprintf(w, "latency: min %.2f ms, max %.2f ms, mean %.2f ms\n",
			s.minLatency, s.maxLatency, s.sumLatency/float64(s.estimates))
	}
	_, _ = fmt.Fprintf(w, "glitches: %d, frames dropped: %d, pulses detected: %d\n",
		s.last.Glitches, s.last.FramesDropped, s.last.PulsesDetected)
}
