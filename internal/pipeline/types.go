// Package pipeline implements the continuous voice-command pipeline: dual
// stream audio capture, a time-indexed ring buffer, wake-word detection,
// silence monitoring, the session state machine, the multi-level
// transcription scheduler, and the structured event emitter. Packages under
// it follow the teacher's audiocore split of an interface file plus one file
// per concrete backend.
package pipeline

import (
	"time"

	"github.com/kawaz/voice-agent/internal/conf"
)

// LevelConfig is an alias for conf.LevelConfig so the scheduler and
// session types can reference it without this package importing conf for
// every other type too.
type LevelConfig = conf.LevelConfig

// Level names a transcription window tier. Order matters: it is also
// priority order from lowest to highest for worker-queue drop decisions.
type Level string

const (
	LevelShort  Level = "short"
	LevelMedium Level = "medium"
	LevelLong   Level = "long"
	LevelFinal  Level = "final"
)

// priority returns the drop priority of a level: higher survives longer.
// Matches spec.md §4.6: final > long > medium > short.
func (l Level) priority() int {
	switch l {
	case LevelFinal:
		return 3
	case LevelLong:
		return 2
	case LevelMedium:
		return 1
	case LevelShort:
		return 0
	default:
		return -1
	}
}

// AudioFormat describes the fixed PCM format the pipeline operates on
// end-to-end: 16kHz/16-bit/mono, matching the detector and ASR contracts.
type AudioFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat is the only format the detector/ASR contracts support.
var DefaultFormat = AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 16}

// WakeWordEvent is emitted by the Wake Detector Adapter (C3) on a positive
// detection. Start/End are stream-time seconds.
type WakeWordEvent struct {
	Name       string
	Type       string
	Start      float64
	End        float64
	EmittedAt  time.Time
}

// SilenceEvent is emitted by the Silence Monitor (C4) for one active session
// once sustained low energy has been observed for silence_duration.
type SilenceEvent struct {
	SessionID string
	Start     float64
	End       float64
}

// TranscribeRequest is issued by the Session Manager or the Scheduler for
// one session/level pair, naming the stream-time range to extract and
// transcribe.
type TranscribeRequest struct {
	SessionID string
	Level     Level
	Start     float64
	End       float64
}

// priority exposes the level's drop priority for the bounded worker queue.
func (r TranscribeRequest) priority() int { return r.Level.priority() }

// Segment is one ASR-reported span of text within a TranscriptionResult.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// TranscriptionResult is the ASR outcome for one TranscribeRequest.
type TranscriptionResult struct {
	SessionID        string
	Level            Level
	Text             string
	Segments         []Segment
	RangeStart       float64
	RangeEnd         float64
	WallDuration     time.Duration
	ProcessingTimeMs int64
}
