package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestQueueDropsLowestPriorityWhenFull(t *testing.T) {
	q := newRequestQueue(2)

	require.True(t, q.enqueue(TranscribeRequest{SessionID: "a", Level: LevelShort}))
	require.True(t, q.enqueue(TranscribeRequest{SessionID: "b", Level: LevelMedium}))

	// queue full; a higher-priority arrival should evict the short request.
	ok := q.enqueue(TranscribeRequest{SessionID: "c", Level: LevelFinal})
	require.True(t, ok)

	first, _ := q.dequeue()
	assert.Equal(t, LevelFinal, first.Level)
	second, _ := q.dequeue()
	assert.Equal(t, LevelMedium, second.Level)

	_, ok = q.dequeue()
	assert.False(t, ok)
}

func TestRequestQueueRejectsArrivalNotBetterThanWorstResident(t *testing.T) {
	q := newRequestQueue(1)
	require.True(t, q.enqueue(TranscribeRequest{SessionID: "a", Level: LevelFinal}))

	// an arrival no better than the resident final request is itself dropped.
	ok := q.enqueue(TranscribeRequest{SessionID: "b", Level: LevelShort})
	assert.False(t, ok)

	submitted, dropped := q.stats()
	assert.Equal(t, int64(2), submitted)
	assert.Equal(t, int64(1), dropped)

	req, _ := q.dequeue()
	assert.Equal(t, "a", req.SessionID)
}

func TestRequestQueueDequeueOrdersByPriorityThenFIFO(t *testing.T) {
	q := newRequestQueue(4)
	q.enqueue(TranscribeRequest{SessionID: "short1", Level: LevelShort})
	q.enqueue(TranscribeRequest{SessionID: "long1", Level: LevelLong})
	q.enqueue(TranscribeRequest{SessionID: "short2", Level: LevelShort})

	first, _ := q.dequeue()
	assert.Equal(t, "long1", first.SessionID)
	second, _ := q.dequeue()
	assert.Equal(t, "short1", second.SessionID)
	third, _ := q.dequeue()
	assert.Equal(t, "short2", third.SessionID)
}

func TestSchedulerExecutePublishesResultAndEmitsEvents(t *testing.T) {
	ring := NewRingBuffer(2, 1000)
	ring.Append(sequentialChunk(1000, 0))

	results := make(chan TranscriptionResult, 1)
	errCh := make(chan error, 1)
	emitter := &fakeEmitter{}
	asr := &fakeASR{text: "turn on the lights"}

	levels := map[Level]LevelConfig{
		LevelShort: {Duration: 500 * time.Millisecond, Overlap: 100 * time.Millisecond},
	}
	sched := NewScheduler(ring, asr, 8, 10, levels, results, errCh, emitter)

	sched.execute(TranscribeRequest{SessionID: "s1", Level: LevelShort, Start: 0.1, End: 0.2})

	select {
	case tr := <-results:
		assert.Equal(t, "turn on the lights", tr.Text)
		assert.Equal(t, "s1", tr.SessionID)
	case <-time.After(time.Second):
		t.Fatal("expected a transcription result")
	}

	assert.True(t, emitter.has(EventTranscriptionStart))
	assert.True(t, emitter.has(EventTranscriptionResult))
	select {
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	default:
	}
}

func TestSchedulerExecuteReportsRingBufferMiss(t *testing.T) {
	ring := NewRingBuffer(1, 1000)
	ring.Append(sequentialChunk(500, 0))

	results := make(chan TranscriptionResult, 1)
	errCh := make(chan error, 1)
	emitter := &fakeEmitter{}
	asr := &fakeASR{text: "unused"}

	sched := NewScheduler(ring, asr, 8, 10, nil, results, errCh, emitter)
	sched.execute(TranscribeRequest{SessionID: "s1", Level: LevelShort, Start: 10, End: 11})

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected a reported error")
	}

	select {
	case <-results:
		t.Fatal("no result should have been published")
	default:
	}
}

func TestSchedulerTickEnqueuesReadySessions(t *testing.T) {
	ring := NewRingBuffer(2, 1000)
	ring.Append(sequentialChunk(1000, 0)) // 1s of audio captured

	results := make(chan TranscriptionResult, 4)
	errCh := make(chan error, 4)
	emitter := &fakeEmitter{}
	asr := &fakeASR{text: "hello"}

	levels := map[Level]LevelConfig{
		LevelShort: {Duration: 500 * time.Millisecond, Overlap: 0},
	}
	sched := NewScheduler(ring, asr, 8, 10, levels, results, errCh, emitter)

	wake := WakeWordEvent{Name: "computer", Start: 0, End: 0, EmittedAt: time.Now()}
	session := newSession(wake)
	sched.RegisterSession(session)

	sched.tick(time.Now())

	req, ok := sched.queue.dequeue()
	require.True(t, ok)
	assert.Equal(t, LevelShort, req.Level)
	assert.Equal(t, session.ID, req.SessionID)
}
