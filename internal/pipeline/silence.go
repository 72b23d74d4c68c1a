package pipeline

import (
	"math"
	"sync"
	"time"
)

// SilenceMonitor is C4: runs inside the buffer-stream reader loop, computing
// RMS per chunk and tracking a per-session silence counter, per spec.md
// §4.4. It is driven by RunChunk for every buffer-stream chunk; the caller
// (the buffer_reader thread) owns the loop, this type owns only the
// silence-detection state.
type SilenceMonitor struct {
	thresholdRMS         float64
	silenceDuration      time.Duration
	initialSilenceIgnore time.Duration
	chunkDuration        time.Duration

	mu       sync.Mutex
	sessions map[string]*silenceState

	out chan<- SilenceEvent
}

type silenceState struct {
	wakeEnd      float64
	silenceCount int
}

// NewSilenceMonitor builds a monitor. chunkDuration is the wall-clock
// duration represented by one buffer-stream chunk (ChunkSize/sampleRate).
func NewSilenceMonitor(thresholdRMS int, silenceDuration, initialSilenceIgnore, chunkDuration time.Duration, out chan<- SilenceEvent) *SilenceMonitor {
	return &SilenceMonitor{
		thresholdRMS:         float64(thresholdRMS),
		silenceDuration:      silenceDuration,
		initialSilenceIgnore: initialSilenceIgnore,
		chunkDuration:        chunkDuration,
		sessions:             make(map[string]*silenceState),
		out:                  out,
	}
}

// TrackSession registers a session the monitor should watch, with its
// wake_word.end stream-time (silence before wakeEnd+initialSilenceIgnore
// never counts, per spec.md §4.4 step 2).
func (m *SilenceMonitor) TrackSession(sessionID string, wakeEnd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &silenceState{wakeEnd: wakeEnd}
}

// Untrack removes a session once it finalizes.
func (m *SilenceMonitor) Untrack(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// RunChunk processes one buffer-stream chunk at the given current
// stream-time (the position after the chunk was appended to the ring
// buffer).
func (m *SilenceMonitor) RunChunk(chunk []int16, currentStreamPos float64) {
	rms := computeRMS(chunk)

	m.mu.Lock()
	defer m.mu.Unlock()

	isSilent := rms < m.thresholdRMS
	anyActive := len(m.sessions) > 0

	if !isSilent || !anyActive {
		for _, st := range m.sessions {
			st.silenceCount = 0
		}
		return
	}

	for sessionID, st := range m.sessions {
		elapsedSinceWake := currentStreamPos - st.wakeEnd
		if time.Duration(elapsedSinceWake*float64(time.Second)) < m.initialSilenceIgnore {
			continue
		}

		st.silenceCount++
		elapsedSilence := time.Duration(float64(st.silenceCount) * float64(m.chunkDuration))
		if elapsedSilence >= m.silenceDuration {
			evt := SilenceEvent{
				SessionID: sessionID,
				Start:     currentStreamPos - elapsedSilence.Seconds(),
				End:       currentStreamPos,
			}
			select {
			case m.out <- evt:
			default:
			}
			// Reset so a session that keeps being silent doesn't re-emit
			// every subsequent chunk; the session driver will Untrack it
			// once finalization begins.
			st.silenceCount = 0
		}
	}
}

func computeRMS(chunk []int16) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range chunk {
		v := float64(s)
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(len(chunk)))
}
