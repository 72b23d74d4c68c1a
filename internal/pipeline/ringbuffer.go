package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/kawaz/voice-agent/internal/errors"
)

// RingBuffer is the time-indexed shared circular sample store described in
// spec.md §4.2/C2, grounded on the teacher's
// internal/audiocore/capture.CircularBuffer: a byte-level circular store
// guarded by a single mutex, with time-windowed segment extraction. Unlike
// the teacher's buffer, samples here are addressed by stream-time (seconds)
// rather than wall-clock time, per spec.md's authoritative
// total_samples/sample_rate model.
//
// smallnest/ringbuffer was considered as the storage substrate (see
// DESIGN.md) but its Read is consuming: repeated Extract calls over the
// same still-retained range must return identical bytes (testable property
// 3, "buffer fidelity"), which a consuming ring cannot provide without
// re-implementing non-destructive peeks on top of it anyway. The buffer is
// therefore a plain slice, exactly like the teacher's.
type RingBuffer struct {
	mu sync.RWMutex

	data       []int16 // capacity-sized circular store of samples
	capacity   int     // BUFFER_SECONDS * sample_rate
	writePos   int     // next write index into data
	filled     int     // number of valid samples currently in data, <= capacity

	sampleRate int
	totalSamples atomic.Int64 // monotonic count of samples ever appended
}

// NewRingBuffer builds a ring buffer holding bufferSeconds of audio at the
// given sample rate.
func NewRingBuffer(bufferSeconds, sampleRate int) *RingBuffer {
	capacity := bufferSeconds * sampleRate
	return &RingBuffer{
		data:       make([]int16, capacity),
		capacity:   capacity,
		sampleRate: sampleRate,
	}
}

// Append writes chunk to the buffer, advancing total_samples. O(len(chunk)).
func (rb *RingBuffer) Append(chunk []int16) {
	if len(chunk) == 0 {
		return
	}

	rb.mu.Lock()
	for _, s := range chunk {
		rb.data[rb.writePos] = s
		rb.writePos = (rb.writePos + 1) % rb.capacity
		if rb.filled < rb.capacity {
			rb.filled++
		}
	}

	// total_samples advances atomically after the write completes and before
	// the lock is released, so readers never observe a torn
	// total_samples/content pair (spec.md §4.2).
	rb.totalSamples.Add(int64(len(chunk)))
	rb.mu.Unlock()
}

// StreamPosition returns total_samples / sample_rate.
func (rb *RingBuffer) StreamPosition() float64 {
	return float64(rb.totalSamples.Load()) / float64(rb.sampleRate)
}

// TotalSamples returns the monotonic sample counter.
func (rb *RingBuffer) TotalSamples() int64 {
	return rb.totalSamples.Load()
}

// SampleRate returns the configured sample rate.
func (rb *RingBuffer) SampleRate() int { return rb.sampleRate }

// OccupancyFraction returns how full the retention window currently is,
// in [0,1]; it reaches 1 once the buffer has captured bufferSeconds worth
// of audio and stays there as old samples are evicted to make room for new.
func (rb *RingBuffer) OccupancyFraction() float64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return float64(rb.filled) / float64(rb.capacity)
}

// Extract returns the samples whose stream-times fall in [start, end).
// Returns (nil, false) if start >= end or the requested range is entirely
// outside the retained window. A range that partially precedes the window
// is clipped to the window's oldest retained sample, matching spec.md §4.2.
func (rb *RingBuffer) Extract(start, end float64) ([]int16, bool) {
	if start >= end {
		return nil, false
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	total := rb.totalSamples.Load()
	streamPos := float64(total) / float64(rb.sampleRate)
	oldestRetained := streamPos - float64(rb.filled)/float64(rb.sampleRate)

	if end <= oldestRetained {
		return nil, false // entirely evicted
	}
	if start >= streamPos {
		return nil, false // entirely in the future
	}

	clippedStart := start
	if clippedStart < oldestRetained {
		clippedStart = oldestRetained
	}
	clippedEnd := end
	if clippedEnd > streamPos {
		clippedEnd = streamPos
	}

	startSample := int64(clippedStart * float64(rb.sampleRate))
	endSample := int64(clippedEnd * float64(rb.sampleRate))
	if startSample >= endSample {
		return nil, false
	}

	n := int(endSample - startSample)
	out := make([]int16, n)

	// oldest retained sample lives at logical index (total - filled); the
	// physical index it occupies in `data` is writePos - filled (mod capacity).
	oldestLogical := total - int64(rb.filled)
	startOffset := startSample - oldestLogical
	physicalStart := (rb.writePos - rb.filled + int(startOffset)) % rb.capacity
	if physicalStart < 0 {
		physicalStart += rb.capacity
	}

	for i := 0; i < n; i++ {
		out[i] = rb.data[(physicalStart+i)%rb.capacity]
	}
	return out, true
}

// ErrExtractMiss wraps an Extract failure as a categorized error so callers
// can emit the `error` event spec.md §7 requires for buffer-extraction misses.
func ErrExtractMiss(sessionID string, start, end float64) *errors.EnhancedError {
	return errors.Newf("requested range [%.3f, %.3f) is outside the retained buffer window", start, end).
		Category(errors.CategoryRingBuffer).
		Context("session_id", sessionID).
		Context("start", start).
		Context("end", end).
		Build()
}
