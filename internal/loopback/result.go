package loopback

// Positions of the values written into the caller's result array.
const (
	ResultLatencyMs = iota
	ResultConfidence
	ResultGlitches
	ResultFramesRead
	ResultFramesZeroFilled
	ResultFramesDropped
	ResultCycle
	ResultDegraded
	ResultInputLevelDB
	ResultPulsesDetected

	// ResultLen is the number of values a full result array holds.
	ResultLen
)

// CycleResult is the outcome of one processNext cycle.
type CycleResult struct {
	LatencyMs        float64 // -1 until the first pulse is detected
	Confidence       float64 // normalized correlation peak of the latency estimate
	Glitches         int64   // cumulative for the session
	FramesRead       int
	FramesZeroFilled int
	FramesDropped    int64 // cumulative for the session
	Cycle            int64 // 1-based
	Degraded         bool
	InputLevelDB     float64
	PulsesDetected   int64
}

// Fill writes the result into out in the fixed layout. Short arrays get the
// leading values that fit, extra entries are left untouched. It returns the
// number of values written.
func (r *CycleResult) Fill(out []float64) int {
	values := [ResultLen]float64{
		ResultLatencyMs:        r.LatencyMs,
		ResultConfidence:       r.Confidence,
		ResultGlitches:         float64(r.Glitches),
		ResultFramesRead:       float64(r.FramesRead),
		ResultFramesZeroFilled: float64(r.FramesZeroFilled),
		ResultFramesDropped:    float64(r.FramesDropped),
		ResultCycle:            float64(r.Cycle),
		ResultInputLevelDB:     r.InputLevelDB,
		ResultPulsesDetected:   float64(r.PulsesDetected),
	}
	if r.Degraded {
		values[ResultDegraded] = 1
	}
	return copy(out, values[:])
}
