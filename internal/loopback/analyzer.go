package loopback

import "math"

const (
	// minWindowEnergy is the capture energy below which a window is treated as silence.
	minWindowEnergy = 1e-10
	// nccEpsilon is how much a later lag must beat the best peak to replace it.
	nccEpsilon = 1e-6
)

// analyzer estimates round-trip latency by locating each emitted pulse in
// the captured signal. Capture frames are numbered from the first captured
// frame and mapped onto the render timeline through origin. The lag between
// a pulse's position and its best match in the capture is the latency.
type analyzer struct {
	tone       []float32
	toneEnergy float64
	schedule   pulseSchedule
	origin     int64 // render frame at capture frame 0
	maxLag     int
	threshold  float64
	tolerance  int

	hist      []float32 // captured frames starting at histStart
	histStart int64
	next      int64 // index of the next pulse to resolve

	latency    int // frames, -1 until the first detection
	confidence float64
	lastPeak   float64
	detected   int64
	missed     int64
	gaps       int64
	jumps      int64
}

func newAnalyzer(p sessionParams, cfg *Config) *analyzer {
	tone := NewTone(p.toneFrames, cfg.ToneFrequency, p.sampleRate, cfg.ToneAmplitude)
	var energy float64
	for _, t := range tone {
		energy += float64(t) * float64(t)
	}

	return &analyzer{
		tone:       tone,
		toneEnergy: energy,
		schedule:   pulseSchedule{offset: int64(cfg.PulseOffset), period: int64(p.periodFrames)},
		maxLag:     p.maxLag,
		threshold:  cfg.DetectionThreshold,
		tolerance:  p.tolerance,
		hist:       make([]float32, 0, p.maxLag+len(tone)+p.ringCapacity),
		latency:    -1,
	}
}

func (a *analyzer) histEnd() int64 {
	return a.histStart + int64(len(a.hist))
}

// Align places capture frame 0 at render frame origin. It must run before
// the first Feed. Pulses rendered before capture began are passed over
// without counting as glitches.
func (a *analyzer) Align(origin int64) {
	a.origin = origin
	for a.pulseStart(a.next) < a.histStart {
		a.next++
	}
}

// pulseStart returns the capture frame at which pulse k would arrive with zero latency.
func (a *analyzer) pulseStart(k int64) int64 {
	return a.schedule.start(k) - a.origin
}

// Feed appends captured frames and resolves every pulse whose search window is complete.
func (a *analyzer) Feed(samples []float32) {
	a.hist = append(a.hist, samples...)
	a.scan()
}

// Skip advances the capture timeline past n frames that were never captured.
// History before the gap cannot be joined with frames after it, so it is discarded.
func (a *analyzer) Skip(n int) {
	if n <= 0 {
		return
	}
	a.histStart = a.histEnd() + int64(n)
	a.hist = a.hist[:0]
	a.scan()
}

// Glitches returns the number of pulse-level glitches: missed pulses,
// pulses lost in capture gaps and latency jumps.
func (a *analyzer) Glitches() int64 {
	return a.missed + a.gaps + a.jumps
}

// LatencyFrames returns the latest estimate in frames, or -1.
func (a *analyzer) LatencyFrames() int {
	return a.latency
}

func (a *analyzer) scan() {
	windowLen := int64(a.maxLag + len(a.tone))
	for {
		start := a.pulseStart(a.next)
		if start < a.histStart {
			a.gaps++
			a.next++
			continue
		}
		if start+windowLen > a.histEnd() {
			break
		}
		off := int(start - a.histStart)
		a.resolve(a.hist[off : off+int(windowLen)])
		a.next++
	}
	a.trim()
}

// trim drops history that no pending window needs.
func (a *analyzer) trim() {
	keepFrom := a.pulseStart(a.next)
	if keepFrom <= a.histStart {
		return
	}
	drop := int(min(keepFrom-a.histStart, int64(len(a.hist))))
	n := copy(a.hist, a.hist[drop:])
	a.hist = a.hist[:n]
	a.histStart += int64(drop)
}

// resolve searches one window for the pulse and updates the estimate.
func (a *analyzer) resolve(window []float32) {
	lag, peak := a.correlate(window)
	a.lastPeak = peak
	if lag < 0 || peak < a.threshold {
		a.missed++
		return
	}

	if a.latency >= 0 && abs(lag-a.latency) > a.tolerance {
		a.jumps++
	}
	a.latency = lag
	a.confidence = peak
	a.detected++
}

// correlate returns the lag in [0, maxLag] with the highest normalized
// cross-correlation magnitude between window and the tone, and that peak.
// Near ties keep the earliest lag.
func (a *analyzer) correlate(window []float32) (int, float64) {
	n := len(a.tone)
	if n == 0 || a.toneEnergy == 0 || len(window) < n {
		return -1, 0
	}

	var energy float64
	for _, x := range window[:n] {
		energy += float64(x) * float64(x)
	}

	bestLag, best := -1, 0.0
	for lag := 0; lag+n <= len(window); lag++ {
		if lag > 0 {
			out := float64(window[lag-1])
			in := float64(window[lag+n-1])
			energy = max(0, energy+in*in-out*out)
		}
		if energy < minWindowEnergy {
			continue
		}

		var dot float64
		seg := window[lag : lag+n]
		for i, t := range a.tone {
			dot += float64(seg[i]) * float64(t)
		}

		ncc := math.Abs(dot) / math.Sqrt(energy*a.toneEnergy)
		if ncc > best+nccEpsilon {
			best, bestLag = ncc, lag
		}
	}
	return bestLag, min(best, 1)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
