// Package metrics exposes pipeline runtime counters/gauges through a small
// Recorder interface, mirroring the teacher's
// internal/observability/metrics.Recorder split: components depend on the
// interface, not the concrete Prometheus-backed type, so tests can swap in
// a NoOpRecorder without a real registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the interface every pipeline component depends on. It is
// intentionally narrower than the teacher's BirdNET-specific Recorder:
// this system has no detections-per-species counters, only the
// occupancy/queue/latency gauges SPEC_FULL.md §1.1 names.
type Recorder interface {
	SetRingBufferOccupancy(fraction float64)
	SetActiveSessions(count int)
	SetSchedulerQueueDepth(depth int)
	IncSchedulerDrop(level string)
	ObserveTranscriptionLatency(level string, seconds float64)
	IncError(component string)
}

// PipelineMetrics is the Prometheus-backed Recorder, grounded on the
// teacher's BirdNETMetrics: one promauto-registered metric per concern,
// built once at startup and passed down by interface everywhere else.
type PipelineMetrics struct {
	ringBufferOccupancy prometheus.Gauge
	activeSessions      prometheus.Gauge
	queueDepth          prometheus.Gauge
	queueDrops          *prometheus.CounterVec
	transcriptionLatency *prometheus.HistogramVec
	errors              *prometheus.CounterVec
}

// New registers the pipeline's metrics on reg and returns a Recorder.
func New(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		ringBufferOccupancy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "voiceagent",
			Subsystem: "ringbuffer",
			Name:      "occupancy_fraction",
			Help:      "Fraction of the ring buffer's retention window currently filled.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "voiceagent",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of currently active sessions.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "voiceagent",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Number of TranscribeRequests currently queued.",
		}),
		queueDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceagent",
			Subsystem: "scheduler",
			Name:      "queue_drops_total",
			Help:      "TranscribeRequests dropped due to a full bounded queue, by level.",
		}, []string{"level"}),
		transcriptionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voiceagent",
			Subsystem: "asr",
			Name:      "transcription_latency_seconds",
			Help:      "Wall-clock duration of one ASR call, by level.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"level"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceagent",
			Subsystem: "pipeline",
			Name:      "errors_total",
			Help:      "Recovered errors, by component.",
		}, []string{"component"}),
	}
}

func (m *PipelineMetrics) SetRingBufferOccupancy(fraction float64) { m.ringBufferOccupancy.Set(fraction) }
func (m *PipelineMetrics) SetActiveSessions(count int)             { m.activeSessions.Set(float64(count)) }
func (m *PipelineMetrics) SetSchedulerQueueDepth(depth int)        { m.queueDepth.Set(float64(depth)) }
func (m *PipelineMetrics) IncSchedulerDrop(level string)           { m.queueDrops.WithLabelValues(level).Inc() }
func (m *PipelineMetrics) IncError(component string)               { m.errors.WithLabelValues(component).Inc() }

func (m *PipelineMetrics) ObserveTranscriptionLatency(level string, seconds float64) {
	m.transcriptionLatency.WithLabelValues(level).Observe(seconds)
}

// NoOpRecorder discards every observation; used by tests and by any
// component built before a real Recorder is wired in.
type NoOpRecorder struct{}

func (NoOpRecorder) SetRingBufferOccupancy(float64)          {}
func (NoOpRecorder) SetActiveSessions(int)                   {}
func (NoOpRecorder) SetSchedulerQueueDepth(int)               {}
func (NoOpRecorder) IncSchedulerDrop(string)                  {}
func (NoOpRecorder) ObserveTranscriptionLatency(string, float64) {}
func (NoOpRecorder) IncError(string)                          {}

var _ Recorder = (*PipelineMetrics)(nil)
var _ Recorder = NoOpRecorder{}
