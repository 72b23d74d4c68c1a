package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, repetitionRequired int) (*Manager, *fakeEmitter, *fakeSink) {
	t.Helper()

	ring := NewRingBuffer(30, 1000)
	ring.Append(sequentialChunk(5000, 0)) // 5s of captured audio

	results := make(chan TranscriptionResult, 8)
	errCh := make(chan error, 8)
	emitter := &fakeEmitter{}
	asr := &fakeASR{text: "turn on the lights"}
	sched := NewScheduler(ring, asr, 8, 10, nil, results, errCh, emitter)

	silenceCh := make(chan SilenceEvent, 8)
	silence := NewSilenceMonitor(500, 300*time.Millisecond, 0, 100*time.Millisecond, silenceCh)

	sink := &fakeSink{}
	mgr := NewManager(sched, silence, ring, emitter, sink, nil, 30*time.Second, 300*time.Millisecond, repetitionRequired, "en")
	return mgr, emitter, sink
}

func testWake(name string, end float64) WakeWordEvent {
	return WakeWordEvent{Name: name, Type: "keyword", Start: end - 0.2, End: end, EmittedAt: time.Now()}
}

func TestManagerOnWakeStartsSessionAndEmitsEvents(t *testing.T) {
	mgr, emitter, _ := newTestManager(t, 3)

	mgr.onWake(testWake("computer", 1.0))

	require.Len(t, mgr.sessions, 1)
	assert.Equal(t, 1, mgr.ActiveSessionCount())
	assert.True(t, emitter.has(EventWakeWordDetected))
	assert.True(t, emitter.has(EventSessionStart))
}

func TestManagerOnSilenceSubmitsFinalRequestAndWinsFinalizationOnce(t *testing.T) {
	mgr, emitter, _ := newTestManager(t, 3)
	mgr.onWake(testWake("computer", 1.0))

	var sessionID string
	for id := range mgr.sessions {
		sessionID = id
	}

	mgr.onSilence(SilenceEvent{SessionID: sessionID, Start: 2.0, End: 2.3})
	assert.True(t, emitter.has(EventSilenceDetected))

	req, ok := mgr.scheduler.queue.dequeue()
	require.True(t, ok)
	assert.Equal(t, LevelFinal, req.Level)
	assert.Equal(t, sessionID, req.SessionID)
	assert.InDelta(t, 1.0, req.Start, 1e-9) // wake_word.end
	assert.InDelta(t, 2.0, req.End, 1e-9)   // silence.start

	// a second silence event for the same session must not re-win finalization.
	mgr.onSilence(SilenceEvent{SessionID: sessionID, Start: 3.0, End: 3.3})
	_, ok = mgr.scheduler.queue.dequeue()
	assert.False(t, ok, "finalization should only ever be requested once")
}

func TestManagerOnResultTriggersRepetitionFinalization(t *testing.T) {
	mgr, emitter, _ := newTestManager(t, 2)
	mgr.onWake(testWake("computer", 1.0))

	var sessionID string
	for id := range mgr.sessions {
		sessionID = id
	}

	mgr.onResult(TranscriptionResult{SessionID: sessionID, Level: LevelShort, Text: "turn on the lights", RangeStart: 1.0, RangeEnd: 1.5})
	assert.False(t, emitter.has(EventSessionEndByRepetition))

	// two more identical results reach repetitionRequired=2 and force finalization.
	mgr.onResult(TranscriptionResult{SessionID: sessionID, Level: LevelMedium, Text: "turn on the lights", RangeStart: 1.0, RangeEnd: 2.0})
	mgr.onResult(TranscriptionResult{SessionID: sessionID, Level: LevelLong, Text: "turn on the lights", RangeStart: 1.0, RangeEnd: 2.5})

	assert.True(t, emitter.has(EventSessionEndByRepetition))

	req, ok := mgr.scheduler.queue.dequeue()
	require.True(t, ok)
	assert.Equal(t, LevelFinal, req.Level)

	session := mgr.sessions[sessionID]
	require.NotNil(t, session)
	assert.False(t, session.IsActive())
}

func TestManagerFinalizePersistsAndRetiresSession(t *testing.T) {
	mgr, emitter, sink := newTestManager(t, 3)
	mgr.onWake(testWake("computer", 1.0))

	var sessionID string
	for id := range mgr.sessions {
		sessionID = id
	}

	mgr.finalize(TranscriptionResult{SessionID: sessionID, Level: LevelFinal, Text: "turn on the lights", RangeStart: 1.0, RangeEnd: 2.3})

	assert.True(t, emitter.has(EventSessionEnd))
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 0, mgr.ActiveSessionCount())
	_, exists := mgr.sessions[sessionID]
	assert.False(t, exists)
}

func TestManagerCheckTimeoutsFinalizesStaleSessions(t *testing.T) {
	mgr, _, _ := newTestManager(t, 3)
	mgr.onWake(testWake("computer", 1.0))

	var sessionID string
	var session *Session
	for id, s := range mgr.sessions {
		sessionID = id
		session = s
	}
	session.StartAt = time.Now().Add(-time.Hour) // force the 30s timeout to have elapsed

	mgr.checkTimeouts(time.Now())

	req, ok := mgr.scheduler.queue.dequeue()
	require.True(t, ok)
	assert.Equal(t, LevelFinal, req.Level)
	assert.Equal(t, sessionID, req.SessionID)
	assert.False(t, session.IsActive())
}

func TestManagerDrainFinalizesActiveSessionsWithinGrace(t *testing.T) {
	mgr, _, sink := newTestManager(t, 3)
	mgr.onWake(testWake("computer", 1.0))

	var sessionID string
	for id := range mgr.sessions {
		sessionID = id
	}

	results := make(chan TranscriptionResult, 1)
	go func() {
		// simulate the scheduler eventually honoring the drain-issued final request
		time.Sleep(10 * time.Millisecond)
		results <- TranscriptionResult{SessionID: sessionID, Level: LevelFinal, Text: "turn on the lights", RangeStart: 1.0, RangeEnd: 2.0}
	}()

	mgr.drain(results, 500*time.Millisecond)

	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 0, mgr.ActiveSessionCount())
}
