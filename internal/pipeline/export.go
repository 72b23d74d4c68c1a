package pipeline

import (
	"github.com/kawaz/voice-agent/internal/errors"
	"layeh.com/gopus"
)

// opusFrameMs is the Opus frame duration used for session exports, matching
// the 20ms framing MrWong99-glyphoxa's discord/opus.go uses for Discord
// voice, just at this pipeline's 16kHz mono format instead of 48kHz stereo.
const opusFrameMs = 20

// SessionExporter is the optional supplemental exporter from SPEC_FULL.md
// §4.8: on session_end it Opus-encodes the session's
// [wake_word.end, silence.start] PCM range extracted from the Ring Buffer,
// for sinks that want to keep (or re-review) the raw audio alongside the
// transcription.
type SessionExporter struct {
	ring      *RingBuffer
	sampleRate int
}

// NewSessionExporter builds an exporter bound to the given ring buffer.
func NewSessionExporter(ring *RingBuffer, sampleRate int) *SessionExporter {
	return &SessionExporter{ring: ring, sampleRate: sampleRate}
}

// Export extracts [start, end) from the ring buffer and Opus-encodes it.
// When the ring buffer has evicted part of the range the extraction is
// truncated exactly as a truncated `final` transcription would be (spec.md
// §7) and truncated is true. When none of the range is still resident,
// err is non-nil (and truncated is true).
func (e *SessionExporter) Export(start, end float64) (encoded []byte, truncated bool, err error) {
	pcm, ok := e.ring.Extract(start, end)
	if !ok {
		return nil, true, errors.Newf("session export range [%.3f,%.3f) missing from ring buffer", start, end).
			Category(errors.CategoryExport).Build()
	}

	enc, encErr := gopus.NewEncoder(e.sampleRate, 1, gopus.Audio)
	if encErr != nil {
		return nil, false, errors.New(encErr).Category(errors.CategoryExport).Build()
	}

	frameSize := e.sampleRate * opusFrameMs / 1000
	var out []byte
	for offset := 0; offset < len(pcm); offset += frameSize {
		frame := pcm[offset:min(offset+frameSize, len(pcm))]
		if len(frame) < frameSize {
			padded := make([]int16, frameSize)
			copy(padded, frame)
			frame = padded
		}
		packet, encErr := enc.Encode(frame, frameSize, len(frame)*2)
		if encErr != nil {
			return nil, false, errors.New(encErr).Category(errors.CategoryExport).Build()
		}
		out = append(out, packet...)
	}

	requestedSamples := int((end - start) * float64(e.sampleRate))
	truncated = len(pcm) < requestedSamples
	return out, truncated, nil
}
