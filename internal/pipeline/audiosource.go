package pipeline

import "context"

// AudioSource is C1: two independent microphone captures at 16 kHz/16-bit/
// mono from the same default input device, per spec.md §4.1. Unlike the
// teacher's audiocore.AudioSource (one AudioOutput channel of framed bytes),
// this interface exposes two distinct int16 sample streams because the
// detector and the ring buffer need different block sizes and neither
// tolerates being re-chunked from the other's stream.
type AudioSource interface {
	// ID returns a unique identifier for this source.
	ID() string

	// Start begins capturing both streams. Blocks until the device is open
	// and capturing, or returns an error.
	Start(ctx context.Context) error

	// Stop halts capture and closes both streams' channels.
	Stop() error

	// DetectorStream emits frame-sized chunks (detector.FrameLength samples).
	DetectorStream() <-chan []int16

	// BufferStream emits chunk-sized chunks (ChunkSize samples, ~32ms).
	BufferStream() <-chan []int16

	// Errors reports non-fatal read errors (e.g. overflow); the caller logs
	// and continues per spec.md §4.1.
	Errors() <-chan error

	// IsActive reports whether the source is currently capturing.
	IsActive() bool

	// Format returns the fixed audio format this source produces.
	Format() AudioFormat

	// SetGain adjusts capture gain; values outside [0.0, 2.0] are rejected
	// with a validation error and leave the gain unchanged.
	SetGain(gain float64) error
}

// ChunkSize is the buffer-stream block size: 512 samples (~32ms at 16kHz),
// per spec.md §4.1/§6.
const ChunkSize = 512

// NewAudioSource builds the configured AudioSource backend.
func NewAudioSource(id, backend string, sampleRate, frameLength int, deviceName string, gain float64) (AudioSource, error) {
	switch backend {
	case "malgo", "":
		return newMalgoSource(id, sampleRate, frameLength, deviceName, gain)
	case "portaudio":
		return newPortAudioSource(id, sampleRate, frameLength, deviceName, gain)
	default:
		return nil, unsupportedBackendError("audiosource", backend)
	}
}
