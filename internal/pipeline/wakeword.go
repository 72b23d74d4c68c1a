package pipeline

import (
	"time"

	"github.com/kawaz/voice-agent/internal/errors"
	"github.com/kawaz/voice-agent/internal/logging"
)

// Detection is the external wake-word detector's positive result for one
// frame, per spec.md §6's detector interface.
type Detection struct {
	Index int
	Name  string
}

// Detector is the black-box wake-word detector named in spec.md §6. The
// core never inspects its internals; it only drives the four-method
// contract.
type Detector interface {
	Initialize() error
	FrameLength() int
	Process(frame []int16) (*Detection, error)
	Cleanup() error
}

// NewDetector builds the configured Detector backend.
func NewDetector(backend, modelPath string, words []string) (Detector, error) {
	switch backend {
	case "tflite", "":
		return newTFLiteDetector(modelPath, words)
	case "sherpa":
		return newSherpaDetector(modelPath, words)
	default:
		return nil, unsupportedBackendError("detector", backend)
	}
}

// WakeDetectorAdapter is C3: it reads the detector stream one frame at a
// time, drives the external Detector, and posts a WakeWordEvent for every
// positive indication. Grounded on the teacher's
// internal/audiocore/detection glue: a thin loop with a bounded, non-
// blocking event sink so a slow consumer never stalls frame reads.
type WakeDetectorAdapter struct {
	detector Detector
	ring     *RingBuffer
	events   chan<- WakeWordEvent
	errors   chan<- error
	logger   interface {
		Error(msg string, args ...any)
	}
}

// NewWakeDetectorAdapter builds the adapter. events is the shared,
// bounded event queue the session driver consumes from.
func NewWakeDetectorAdapter(detector Detector, ring *RingBuffer, events chan<- WakeWordEvent, errCh chan<- error) *WakeDetectorAdapter {
	return &WakeDetectorAdapter{
		detector: detector,
		ring:     ring,
		events:   events,
		errors:   errCh,
		logger:   logging.ForService("wake-detector"),
	}
}

// Run consumes frames from detectorStream until it is closed; it takes no
// context, so closing the stream is the only way to stop it. It never blocks the read loop on event delivery (spec.md §4.3):
// a full event queue drops the detection and reports it as an error event.
func (a *WakeDetectorAdapter) Run(detectorStream <-chan []int16) {
	for frame := range detectorStream {
		det, err := a.detector.Process(frame)
		if err != nil {
			a.reportError(errors.New(err).Category(errors.CategoryDetector).Build())
			continue
		}
		if det == nil {
			continue
		}

		end := a.ring.StreamPosition()
		start := end - 1.5
		if start < 0 {
			start = 0
		}

		evt := WakeWordEvent{
			Name:      det.Name,
			Type:      "wake_word",
			Start:     start,
			End:       end,
			EmittedAt: time.Now(),
		}

		select {
		case a.events <- evt:
		default:
			a.reportError(errors.Newf("wake word event queue full, dropping detection of %q", det.Name).
				Category(errors.CategoryDetector).
				Priority(errors.PriorityHigh).
				Build())
		}
	}
}

func (a *WakeDetectorAdapter) reportError(err error) {
	if a.logger != nil {
		a.logger.Error("wake detector error", "error", err)
	}
	select {
	case a.errors <- err:
	default:
	}
}
