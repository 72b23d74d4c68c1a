package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"
)

// sessionState is the Session Manager's lifecycle state, per spec.md §4.5's
// state machine diagram.
type sessionState int

const (
	stateActive sessionState = iota
	stateFinalizing
	stateClosed
)

// Session is C5's per-wake-word record: {session_id, wake_word, start_time,
// last_level_check, silence_count, transcription_history}, per spec.md §3.
type Session struct {
	ID       string
	WakeWord WakeWordEvent
	StartAt  time.Time

	mu              sync.Mutex
	state           sessionState
	lastLevelCheck  map[Level]time.Time
	lastLevelText   map[Level]string
	history        []string // normalized transcription texts, most recent last
	noChangeCount  int
	finalizeReason string
}

func newSession(wake WakeWordEvent) *Session {
	// session_id derived from the wake-word event's wall-clock time, per
	// spec.md §3; a uuid suffix disambiguates two wake words landing in the
	// same millisecond (spec.md's boundary scenario "two wake words within
	// 500ms: two sessions").
	id := fmt.Sprintf("session_%d_%s", wake.EmittedAt.UnixMilli(), uuid.NewString()[:8])
	return &Session{
		ID:             id,
		WakeWord:       wake,
		StartAt:        wake.EmittedAt,
		state:          stateActive,
		lastLevelCheck: make(map[Level]time.Time),
		lastLevelText:  make(map[Level]string),
	}
}

// ShouldCheckLevel implements spec.md §4.6 steps 1-4: whether this level is
// ready to fire again right now.
func (s *Session) ShouldCheckLevel(level Level, cfg LevelConfig, streamPos float64, now time.Time) (TranscribeRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return TranscribeRequest{}, false
	}

	elapsed := streamPos - s.WakeWord.End
	if elapsed < cfg.Duration.Seconds() {
		return TranscribeRequest{}, false
	}

	last, seen := s.lastLevelCheck[level]
	if seen && now.Sub(last) < cfg.Duration-cfg.Overlap {
		return TranscribeRequest{}, false
	}

	end := s.WakeWord.End + cfg.Duration.Seconds()
	if end > streamPos {
		end = streamPos
	}

	s.lastLevelCheck[level] = now
	return TranscribeRequest{
		SessionID: s.ID,
		Level:     level,
		Start:     s.WakeWord.End,
		End:       end,
	}, true
}

// RecordResult feeds a TranscriptionResult into the repetition-finalization
// check (spec.md §4.5): normalizes the text, compares it against the
// session's last recorded text, and reports whether this is the third
// consecutive unchanged result (the caller then forces finalization).
//
// Equality uses an exact/substring check as spec.md literally describes,
// with a Jaro-Winkler similarity fallback (matchr) so that minor ASR jitter
// between two overlapping windows of the same text — a trailing word
// dropped or a punctuation wobble — still counts as "unchanged" rather than
// resetting the counter on noise.
func (s *Session) RecordResult(level Level, text string) (normalized string, changed bool, repetitionCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastLevelText[level] = text
	normalized = normalizeText(text)

	if len(s.history) == 0 {
		s.history = append(s.history, normalized)
		s.noChangeCount = 0
		return normalized, true, 0
	}

	last := s.history[len(s.history)-1]
	equivalent := normalized == last ||
		strings.Contains(normalized, last) ||
		strings.Contains(last, normalized) ||
		matchr.JaroWinkler(normalized, last, true) >= 0.97

	if equivalent {
		s.noChangeCount++
		return normalized, false, s.noChangeCount
	}

	s.noChangeCount = 0
	s.history = append(s.history, normalized)
	return normalized, true, 0
}

// LastText returns the most recently recorded normalized transcription.
func (s *Session) LastText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return ""
	}
	return s.history[len(s.history)-1]
}

// AllLevelTexts returns the {level: text} summary spec.md's session_end
// event requires.
func (s *Session) AllLevelTexts() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.lastLevelText))
	for level, text := range s.lastLevelText {
		out[string(level)] = text
	}
	return out
}

// BeginFinalizing transitions active -> finalizing exactly once, returning
// true only for the caller that won the transition. Both the silence path
// and the repetition path call this, which is how the Session Manager
// de-duplicates session_end down to exactly one emission (spec.md §9 open
// question).
func (s *Session) BeginFinalizing(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateActive {
		return false
	}
	s.state = stateFinalizing
	s.finalizeReason = reason
	return true
}

func (s *Session) FinalizeReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeReason
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateClosed
}

func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateActive
}

// normalizeText strips whitespace and the Japanese/ASCII punctuation marks
// spec.md §4.5 names, so overlapping-window ASR jitter in spacing or
// trailing punctuation doesn't defeat repetition detection.
func normalizeText(text string) string {
	replacer := strings.NewReplacer(
		" ", "", "\t", "", "\n", "",
		"、", "", "。", "", "！", "", "？", "",
		",", "", ".", "", "!", "", "?", "",
	)
	return replacer.Replace(strings.TrimSpace(text))
}
