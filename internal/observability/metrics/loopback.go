package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LoopbackMetrics contains Prometheus metrics for loopback sessions
type LoopbackMetrics struct {
	registry *prometheus.Registry

	// Session lifecycle
	sessionsActive      prometheus.Gauge
	sessionsOpenedTotal *prometheus.CounterVec

	// Cycle processing
	cyclesTotal          *prometheus.CounterVec
	cycleDurationSeconds prometheus.Histogram

	// Measurement results
	latencyMs        *prometheus.GaugeVec
	latencyEstimates prometheus.Histogram
	confidence       *prometheus.GaugeVec
	inputLevelDB     *prometheus.GaugeVec

	// Degradation
	glitchesTotal         prometheus.Counter
	framesZeroFilledTotal prometheus.Counter
	framesDroppedTotal    prometheus.Counter
	passthroughLostTotal  *prometheus.CounterVec
}

// NewLoopbackMetrics creates and registers new loopback metrics
func NewLoopbackMetrics(registry *prometheus.Registry) (*LoopbackMetrics, error) {
	m := &LoopbackMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *LoopbackMetrics) initMetrics() {
	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopback_sessions_active",
		Help: "Number of loopback sessions currently running",
	})

	m.sessionsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loopback_sessions_opened_total",
			Help: "Total number of session init attempts",
		},
		[]string{"status"}, // status: ok, invalid_config, device_open_error
	)

	m.cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loopback_cycles_total",
			Help: "Total number of processed measurement cycles",
		},
		[]string{"status"}, // status: ok, underrun, overrun
	)

	m.cycleDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "loopback_cycle_duration_seconds",
		Help:    "Time spent in processNext including the wait for captured frames",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15), // 0.1ms to ~1.6s
	})

	m.latencyMs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loopback_latency_ms",
			Help: "Most recent round-trip latency estimate in milliseconds",
		},
		[]string{"session_id"},
	)

	m.latencyEstimates = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "loopback_latency_estimate_ms",
		Help:    "Distribution of round-trip latency estimates in milliseconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms*MillisecondsPerSecond, BucketFactor2, BucketCount10), // 1ms to ~512ms
	})

	m.confidence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loopback_correlation_confidence",
			Help: "Normalized correlation peak of the latest latency estimate",
		},
		[]string{"session_id"},
	)

	m.inputLevelDB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loopback_input_level_dbfs",
			Help: "RMS level of the last drained cycle in dBFS",
		},
		[]string{"session_id"},
	)

	m.glitchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopback_glitches_total",
		Help: "Total number of glitches across all sessions",
	})

	m.framesZeroFilledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopback_frames_zero_filled_total",
		Help: "Total number of frames zero-filled because of capture underrun",
	})

	m.framesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopback_frames_dropped_total",
		Help: "Total number of captured frames dropped because the ring was full",
	})

	m.passthroughLostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loopback_passthrough_samples_lost_total",
			Help: "Total number of samples lost on the capture to playback passthrough path",
		},
		[]string{"reason"}, // reason: pipe_full, pipe_empty
	)
}

// Describe implements the Collector interface
func (m *LoopbackMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.sessionsActive.Describe(ch)
	m.sessionsOpenedTotal.Describe(ch)
	m.cyclesTotal.Describe(ch)
	m.cycleDurationSeconds.Describe(ch)
	m.latencyMs.Describe(ch)
	m.latencyEstimates.Describe(ch)
	m.confidence.Describe(ch)
	m.inputLevelDB.Describe(ch)
	m.glitchesTotal.Describe(ch)
	m.framesZeroFilledTotal.Describe(ch)
	m.framesDroppedTotal.Describe(ch)
	m.passthroughLostTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *LoopbackMetrics) Collect(ch chan<- prometheus.Metric) {
	m.sessionsActive.Collect(ch)
	m.sessionsOpenedTotal.Collect(ch)
	m.cyclesTotal.Collect(ch)
	m.cycleDurationSeconds.Collect(ch)
	m.latencyMs.Collect(ch)
	m.latencyEstimates.Collect(ch)
	m.confidence.Collect(ch)
	m.inputLevelDB.Collect(ch)
	m.glitchesTotal.Collect(ch)
	m.framesZeroFilledTotal.Collect(ch)
	m.framesDroppedTotal.Collect(ch)
	m.passthroughLostTotal.Collect(ch)
}

// RecordSessionOpen records an init attempt
func (m *LoopbackMetrics) RecordSessionOpen(status string) {
	m.sessionsOpenedTotal.WithLabelValues(status).Inc()
	if status == StatusOK {
		m.sessionsActive.Inc()
	}
}

// RecordSessionClose records a destroyed session
func (m *LoopbackMetrics) RecordSessionClose(sessionID string) {
	m.sessionsActive.Dec()
	m.latencyMs.DeleteLabelValues(sessionID)
	m.confidence.DeleteLabelValues(sessionID)
	m.inputLevelDB.DeleteLabelValues(sessionID)
}

// RecordCycle records one measurement cycle
func (m *LoopbackMetrics) RecordCycle(sessionID string, c Cycle) {
	m.cyclesTotal.WithLabelValues(c.Status).Inc()
	m.cycleDurationSeconds.Observe(c.Duration.Seconds())
	m.inputLevelDB.WithLabelValues(sessionID).Set(c.InputLevelDB)

	if c.LatencyMs >= 0 {
		m.latencyMs.WithLabelValues(sessionID).Set(c.LatencyMs)
		m.confidence.WithLabelValues(sessionID).Set(c.Confidence)
	}
	if c.NewEstimate {
		m.latencyEstimates.Observe(c.LatencyMs)
	}
	if c.Glitches > 0 {
		m.glitchesTotal.Add(float64(c.Glitches))
	}
	if c.ZeroFilled > 0 {
		m.framesZeroFilledTotal.Add(float64(c.ZeroFilled))
	}
	if c.Dropped > 0 {
		m.framesDroppedTotal.Add(float64(c.Dropped))
	}
	if c.PassthroughDropped > 0 {
		m.passthroughLostTotal.WithLabelValues(PassthroughPipeFull).Add(float64(c.PassthroughDropped))
	}
	if c.PassthroughShort > 0 {
		m.passthroughLostTotal.WithLabelValues(PassthroughPipeEmpty).Add(float64(c.PassthroughShort))
	}
}
