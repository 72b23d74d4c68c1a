package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kawaz/voice-agent/internal/errors"
	"github.com/kawaz/voice-agent/internal/logging"
	"github.com/kawaz/voice-agent/internal/metrics"
)

// requestQueue is the bounded, priority-aware request queue C6 needs,
// grounded on the teacher's internal/analysis/jobqueue.JobQueue: a
// mutex-protected slice, enqueue-with-drop-on-full, and per-action stats.
// Unlike the teacher's FIFO-with-retry queue, drops here are priority-
// directed (spec.md §4.6: "drop the lowest-priority pending request",
// priority order final > long > medium > short) rather than oldest-first.
type requestQueue struct {
	mu       sync.Mutex
	items    []TranscribeRequest
	capacity int

	dropped   int64
	submitted int64
}

func newRequestQueue(capacity int) *requestQueue {
	return &requestQueue{capacity: capacity}
}

// enqueue adds req, and if the queue is full, drops the single
// lowest-priority pending item (preferring to drop an older item when
// priorities tie) to make room. Returns false if req itself was the
// lowest-priority item and had to be dropped instead.
func (q *requestQueue) enqueue(req TranscribeRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.submitted++

	if len(q.items) < q.capacity {
		q.items = append(q.items, req)
		return true
	}

	worstIdx := 0
	for i, item := range q.items {
		if item.priority() < q.items[worstIdx].priority() {
			worstIdx = i
		}
	}

	if req.priority() > q.items[worstIdx].priority() {
		q.items = append(q.items[:worstIdx], q.items[worstIdx+1:]...)
		q.items = append(q.items, req)
		q.dropped++
		return true
	}

	// req is not strictly better than the worst resident item: ties favor
	// the already-queued request, so req itself is the one dropped.
	q.dropped++
	return false
}

// dequeue pops the highest-priority item (ties broken FIFO).
func (q *requestQueue) dequeue() (TranscribeRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return TranscribeRequest{}, false
	}

	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].priority() > q.items[j].priority()
	})

	req := q.items[0]
	q.items = q.items[1:]
	return req, true
}

func (q *requestQueue) stats() (submitted, dropped int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted, q.dropped
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Scheduler is C6: the ~2Hz control loop that scans active sessions and
// issues multi-level TranscribeRequests, plus the bounded worker pool that
// drains them against the ASR backend.
type Scheduler struct {
	ring     *RingBuffer
	asr      ASR
	queue    *requestQueue
	results  chan<- TranscriptionResult
	errors   chan<- error
	emitter  Emitter
	recorder metrics.Recorder

	levels   map[Level]LevelConfig
	tickRate time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	logger *logging.Logger
}

func NewScheduler(ring *RingBuffer, asr ASR, queueCapacity int, tickHz float64, levels map[Level]LevelConfig, results chan<- TranscriptionResult, errCh chan<- error, emitter Emitter) *Scheduler {
	return &Scheduler{
		ring:     ring,
		asr:      asr,
		queue:    newRequestQueue(queueCapacity),
		results:  results,
		errors:   errCh,
		emitter:  emitter,
		levels:   levels,
		tickRate: time.Duration(float64(time.Second) / tickHz),
		sessions: make(map[string]*Session),
		recorder: metrics.NoOpRecorder{},
	}
}

// SetRecorder installs a Prometheus-backed Recorder in place of the no-op
// default.
func (s *Scheduler) SetRecorder(r metrics.Recorder) { s.recorder = r }

// RegisterSession adds s to the set scanned every tick.
func (s *Scheduler) RegisterSession(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

// UnregisterSession removes a session once it closes.
func (s *Scheduler) UnregisterSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Submit enqueues a request directly, used for the `final` request a
// session issues at finalization (spec.md §4.5), bypassing the per-tick
// scan since it fires exactly once per session.
func (s *Scheduler) Submit(req TranscribeRequest) bool {
	return s.queue.enqueue(req)
}

// Run drives the scheduler_tick thread (spec.md §5) until ctx is canceled,
// and starts numWorkers worker goroutines draining the request queue.
func (s *Scheduler) Run(ctx context.Context, numWorkers int) {
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.workerLoop(ctx, id)
		}(i)
	}

	ticker := time.NewTicker(s.tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick implements spec.md §4.6 steps 1-5 for every registered session and
// every non-final level.
func (s *Scheduler) tick(now time.Time) {
	streamPos := s.ring.StreamPosition()

	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		for level, cfg := range s.levels {
			req, ready := sess.ShouldCheckLevel(level, cfg, streamPos, now)
			if !ready {
				continue
			}
			if !s.queue.enqueue(req) {
				s.reportDrop(req)
			}
		}
	}
}

func (s *Scheduler) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, ok := s.queue.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		s.execute(req)
	}
}

func (s *Scheduler) execute(req TranscribeRequest) {
	start := time.Now()

	if s.emitter != nil {
		s.emitter.Emit(transcriptionStartEvent(req.SessionID, req.Level, req.End-req.Start))
	}

	samples, ok := s.ring.Extract(req.Start, req.End)
	if !ok {
		s.reportError(errors.Newf("buffer extraction miss for session %s level %s range [%.3f,%.3f)", req.SessionID, req.Level, req.Start, req.End).
			Category(errors.CategoryRingBuffer).
			Context("session_id", req.SessionID).
			Context("level", string(req.Level)).
			Build())
		return
	}

	result, err := s.asr.Transcribe(samples, req.Start)
	if err != nil {
		s.reportError(errors.New(err).
			Category(errors.CategoryASR).
			Context("session_id", req.SessionID).
			Context("level", string(req.Level)).
			Build())
		return
	}

	tr := TranscriptionResult{
		SessionID:        req.SessionID,
		Level:            req.Level,
		Text:             result.Text,
		Segments:         result.Segments,
		RangeStart:       req.Start,
		RangeEnd:         req.End,
		WallDuration:     time.Since(start),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	s.recorder.ObserveTranscriptionLatency(string(req.Level), tr.WallDuration.Seconds())

	if s.emitter != nil {
		s.emitter.Emit(transcriptionResultEvent(tr))
	}
	s.results <- tr
}

func (s *Scheduler) reportDrop(req TranscribeRequest) {
	s.recorder.IncSchedulerDrop(string(req.Level))
	s.reportError(errors.Newf("scheduler queue full, dropped level %s request for session %s", req.Level, req.SessionID).
		Category(errors.CategoryScheduler).
		Priority(errors.PriorityMedium).
		Context("session_id", req.SessionID).
		Context("level", string(req.Level)).
		Build())
}

func (s *Scheduler) reportError(err error) {
	select {
	case s.errors <- err:
	default:
	}
}
