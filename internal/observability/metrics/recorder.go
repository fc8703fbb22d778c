// Package metrics provides Prometheus metrics for the loopback engine.
package metrics

import "time"

// Recorder defines what the loopback engine reports about its sessions.
// Components depend on this interface so tests can swap in TestRecorder.
type Recorder interface {
	// RecordSessionOpen records an init attempt. status is the engine status name.
	RecordSessionOpen(status string)

	// RecordSessionClose records a destroyed session and drops its labelled series.
	RecordSessionClose(sessionID string)

	// RecordCycle records one processNext cycle of a session.
	RecordCycle(sessionID string, c Cycle)
}

// Cycle summarizes one measurement cycle.
type Cycle struct {
	Status       string
	Duration     time.Duration
	LatencyMs    float64 // -1 until a pulse has been detected
	Confidence   float64
	InputLevelDB float64
	ZeroFilled   int
	Dropped      int // frames dropped since the previous cycle
	Glitches     int // glitches added by this cycle
	NewEstimate  bool

	// Passthrough losses since the previous cycle, in samples
	PassthroughDropped int // captured samples that did not fit the pipe
	PassthroughShort   int // rendered samples the pipe could not supply
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordSessionOpen(string)  {}
func (NopRecorder) RecordSessionClose(string) {}
func (NopRecorder) RecordCycle(string, Cycle) {}
