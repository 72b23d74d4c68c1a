package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kawaz/voice-agent/internal/logging"
)

// Manager is C5: the state machine mapping wake-word events to session
// lifecycle (spec.md §4.5). It owns the `sessions` map exclusively and is
// the only component that mutates a Session's lifecycle state; the
// Scheduler and SilenceMonitor only observe sessions it registers with
// them.
type Manager struct {
	scheduler *Scheduler
	silence   *SilenceMonitor
	ring      *RingBuffer
	emitter   Emitter
	sink      PersistenceSink
	exporter  *SessionExporter // nil when export.enabled is false

	sessionTimeout     time.Duration
	silenceDuration    time.Duration
	repetitionRequired int
	language           string

	sessions     map[string]*Session
	sessionCount atomic.Int32 // mirrors len(sessions); safe to read from the metrics sampler goroutine

	logger *logging.Logger
}

// NewManager builds the Session Manager. exporter may be nil (export
// disabled, SPEC_FULL.md §6.1's export.enabled default).
func NewManager(scheduler *Scheduler, silence *SilenceMonitor, ring *RingBuffer, emitter Emitter, sink PersistenceSink, exporter *SessionExporter, sessionTimeout, silenceDuration time.Duration, repetitionRequired int, language string) *Manager {
	return &Manager{
		scheduler:          scheduler,
		silence:            silence,
		ring:               ring,
		emitter:            emitter,
		sink:               sink,
		exporter:           exporter,
		sessionTimeout:     sessionTimeout,
		silenceDuration:    silenceDuration,
		repetitionRequired: repetitionRequired,
		language:           language,
		sessions:           make(map[string]*Session),
		logger:             logging.ForService("session-manager"),
	}
}

// Run drives the session_driver thread (spec.md §5) until ctx is canceled:
// consuming wake-word events, silence events and transcription results, and
// scanning for the 30s hard timeout on a regular tick. On cancellation it
// drains active sessions with one best-effort `final` request each, bounded
// by a grace period, before returning.
func (m *Manager) Run(ctx context.Context, wakeEvents <-chan WakeWordEvent, silenceEvents <-chan SilenceEvent, results <-chan TranscriptionResult, grace time.Duration) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.drain(results, grace)
			return
		case wake := <-wakeEvents:
			m.onWake(wake)
		case se := <-silenceEvents:
			m.onSilence(se)
		case res := <-results:
			m.onResult(res)
		case now := <-ticker.C:
			m.checkTimeouts(now)
		}
	}
}

// ActiveSessionCount reports how many sessions the manager currently
// tracks, for the metrics sampler's gauge. Run's goroutine is the sessions
// map's only reader/writer; this atomic mirror is what lets a different
// goroutine observe the count without touching the map itself.
func (m *Manager) ActiveSessionCount() int {
	return int(m.sessionCount.Load())
}

func (m *Manager) onWake(wake WakeWordEvent) {
	session := newSession(wake)
	m.sessions[session.ID] = session
	m.sessionCount.Store(int32(len(m.sessions)))

	m.scheduler.RegisterSession(session)
	m.silence.TrackSession(session.ID, wake.End)

	m.emitter.Emit(wakeWordDetectedEvent(wake, m.ring.StreamPosition()))
	m.emitter.Emit(sessionStartEvent(session.ID, wake.Name))
}

func (m *Manager) onSilence(se SilenceEvent) {
	session, ok := m.sessions[se.SessionID]
	if !ok {
		return
	}
	if !session.BeginFinalizing("silence") {
		return // already finalizing via another path (repetition, timeout)
	}

	m.emitter.Emit(silenceDetectedEvent(se.SessionID, se.End))
	m.silence.Untrack(se.SessionID)

	// spec.md §4.5/§9: final spans [wake_word.end, silence.start], never
	// [wake_word.end, now], so re-running finalization is reproducible.
	m.scheduler.Submit(TranscribeRequest{
		SessionID: session.ID,
		Level:     LevelFinal,
		Start:     session.WakeWord.End,
		End:       se.Start,
	})
}

func (m *Manager) onResult(res TranscriptionResult) {
	if res.Level == LevelFinal {
		m.finalize(res)
		return
	}

	session, ok := m.sessions[res.SessionID]
	if !ok || !session.IsActive() {
		// Session already closed (late straggler per spec.md §5); the
		// transcription_result event was already emitted by the scheduler.
		return
	}

	normalized, changed, repetitionCount := session.RecordResult(res.Level, res.Text)
	m.emitter.Emit(transcriptionChangeEvent(changed, res.SessionID, normalized, repetitionCount))

	if repetitionCount >= m.repetitionRequired && session.BeginFinalizing("repetition") {
		m.emitter.Emit(sessionEndByRepetitionEvent(res.SessionID))
		m.silence.Untrack(res.SessionID)

		// No silence event triggered this path, so there is no observed
		// silence.start; the current stream position is the best available
		// substitute (spec.md §9 leaves this case unspecified).
		m.scheduler.Submit(TranscribeRequest{
			SessionID: res.SessionID,
			Level:     LevelFinal,
			Start:     session.WakeWord.End,
			End:       m.ring.StreamPosition(),
		})
	}
}

func (m *Manager) checkTimeouts(now time.Time) {
	for id, session := range m.sessions {
		if !session.IsActive() {
			continue
		}
		if now.Sub(session.StartAt) < m.sessionTimeout {
			continue
		}
		if !session.BeginFinalizing("timeout") {
			continue
		}
		m.silence.Untrack(id)

		// spec.md §4.5: "the timeout moment minus SILENCE_DURATION".
		end := m.ring.StreamPosition() - m.silenceDuration.Seconds()
		if end < session.WakeWord.End {
			end = session.WakeWord.End
		}
		m.scheduler.Submit(TranscribeRequest{
			SessionID: id,
			Level:     LevelFinal,
			Start:     session.WakeWord.End,
			End:       end,
		})
	}
}

// finalize handles the one `level=final` TranscriptionResult a session
// ever produces: records it, persists it, optionally exports the audio,
// emits session_end exactly once, and retires the session from every
// component that tracks it.
func (m *Manager) finalize(res TranscriptionResult) {
	session, ok := m.sessions[res.SessionID]
	if !ok {
		return // already retired during a prior drain/shutdown pass
	}

	session.RecordResult(LevelFinal, res.Text)
	allLevels := session.AllLevelTexts()

	if m.sink != nil {
		rec := FinalizedSession{
			SessionID:        session.ID,
			WakeWord:         session.WakeWord.Name,
			WakeWordType:     session.WakeWord.Type,
			AudioDurationS:   res.RangeEnd - res.RangeStart,
			TranscribedText:  res.Text,
			Level:            string(res.Level),
			Language:         m.language,
			WallMs:           res.ProcessingTimeMs,
			StreamRangeStart: res.RangeStart,
			StreamRangeEnd:   res.RangeEnd,
		}
		if m.exporter != nil {
			if clip, _, err := m.exporter.Export(res.RangeStart, res.RangeEnd); err == nil {
				rec.AudioClip = clip
			}
		}
		_ = m.sink.Insert(context.Background(), rec)
	}

	m.emitter.Emit(sessionEndEvent(session.ID, allLevels))

	m.scheduler.UnregisterSession(session.ID)
	m.silence.Untrack(session.ID)
	session.Close()
	delete(m.sessions, session.ID)
	m.sessionCount.Store(int32(len(m.sessions)))
}

// drain implements the shutdown grace period of spec.md §5: one
// best-effort `final` request per still-active session, waiting up to
// grace for their results before returning unconditionally.
func (m *Manager) drain(results <-chan TranscriptionResult, grace time.Duration) {
	for id, session := range m.sessions {
		if !session.IsActive() {
			continue
		}
		if !session.BeginFinalizing("shutdown") {
			continue
		}
		m.scheduler.Submit(TranscribeRequest{
			SessionID: id,
			Level:     LevelFinal,
			Start:     session.WakeWord.End,
			End:       m.ring.StreamPosition(),
		})
	}

	deadline := time.After(grace)
	for {
		select {
		case res := <-results:
			if res.Level == LevelFinal {
				m.finalize(res)
			}
		case <-deadline:
			return
		}
	}
}
