package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialChunk(n int, startValue int16) []int16 {
	c := make([]int16, n)
	for i := range c {
		c[i] = startValue + int16(i)
	}
	return c
}

func TestRingBufferStreamPositionAdvances(t *testing.T) {
	rb := NewRingBuffer(2, 1000) // 2s window at 1000 Hz for easy arithmetic

	rb.Append(sequentialChunk(500, 0))
	assert.InDelta(t, 0.5, rb.StreamPosition(), 1e-9)

	rb.Append(sequentialChunk(500, 500))
	assert.InDelta(t, 1.0, rb.StreamPosition(), 1e-9)
	assert.Equal(t, int64(1000), rb.TotalSamples())
}

func TestRingBufferExtractRoundTrip(t *testing.T) {
	rb := NewRingBuffer(2, 1000)
	rb.Append(sequentialChunk(1000, 0))

	got, ok := rb.Extract(0.1, 0.2)
	require.True(t, ok)
	require.Len(t, got, 100)
	assert.Equal(t, int16(100), got[0])
	assert.Equal(t, int16(199), got[99])
}

func TestRingBufferExtractFidelityAcrossRepeatedCalls(t *testing.T) {
	// Testable property 3: concatenating two Extract calls over adjoining
	// sub-ranges of a still-retained window equals one Extract over the union.
	rb := NewRingBuffer(2, 1000)
	rb.Append(sequentialChunk(1000, 0))

	whole, ok := rb.Extract(0.2, 0.6)
	require.True(t, ok)

	first, ok := rb.Extract(0.2, 0.4)
	require.True(t, ok)
	second, ok := rb.Extract(0.4, 0.6)
	require.True(t, ok)

	assert.Equal(t, whole, append(first, second...))
}

func TestRingBufferExtractMissWhenStartNotBeforeEnd(t *testing.T) {
	rb := NewRingBuffer(2, 1000)
	rb.Append(sequentialChunk(1000, 0))

	_, ok := rb.Extract(0.5, 0.5)
	assert.False(t, ok)
}

func TestRingBufferExtractMissWhenEntirelyInFuture(t *testing.T) {
	rb := NewRingBuffer(2, 1000)
	rb.Append(sequentialChunk(500, 0))

	_, ok := rb.Extract(10.0, 11.0)
	assert.False(t, ok)
}

func TestRingBufferExtractClipsEvictedPrefix(t *testing.T) {
	// 1s window at 1000Hz; push 1.5s of samples so the first 0.5s is evicted.
	rb := NewRingBuffer(1, 1000)
	rb.Append(sequentialChunk(1500, 0))

	got, ok := rb.Extract(0.0, 1.5)
	require.True(t, ok)
	// retained window is [0.5, 1.5) -> samples 500..1499
	require.Len(t, got, 1000)
	assert.Equal(t, int16(500), got[0])
}

func TestRingBufferExtractMissWhenEntirelyEvicted(t *testing.T) {
	rb := NewRingBuffer(1, 1000)
	rb.Append(sequentialChunk(2000, 0))

	_, ok := rb.Extract(0.0, 0.2)
	assert.False(t, ok)
}
