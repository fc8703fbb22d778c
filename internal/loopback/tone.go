package loopback

import "math"

// NewTone returns a sine burst of the given length whose envelope ramps
// linearly up to amplitude at the midpoint and back down to zero.
func NewTone(frames int, frequency float64, sampleRate int, amplitude float64) []float32 {
	if frames <= 0 || sampleRate <= 0 {
		return nil
	}

	tone := make([]float32, frames)
	step := 2 * math.Pi * frequency / float64(sampleRate)
	half := frames / 2
	phase := 0.0
	for i := range tone {
		var taper float64
		if i < half {
			taper = 2 * float64(i) / float64(frames)
		} else {
			taper = 2 * float64(frames-i) / float64(frames)
		}
		tone[i] = float32(taper * math.Sin(phase) * amplitude)
		phase += step
	}
	return tone
}

// pulseSchedule places tone starts at offset + k*period on the render timeline.
type pulseSchedule struct {
	offset int64
	period int64
}

// start returns the render frame at which pulse k begins.
func (p pulseSchedule) start(k int64) int64 {
	return p.offset + k*p.period
}

// render writes the pulse train for the frames starting at render position
// pos. Frames outside a pulse are left untouched.
func (p pulseSchedule) render(out []float32, pos int64, tone []float32) {
	toneLen := int64(len(tone))
	for i := range out {
		r := pos + int64(i)
		if r < p.offset {
			continue
		}
		if m := (r - p.offset) % p.period; m < toneLen {
			out[i] += tone[m]
		}
	}
}
