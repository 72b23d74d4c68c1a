package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loudChunk(n int) []int16 {
	c := make([]int16, n)
	for i := range c {
		if i%2 == 0 {
			c[i] = 20000
		} else {
			c[i] = -20000
		}
	}
	return c
}

func quietChunk(n int) []int16 {
	return make([]int16, n) // all zeros: RMS 0
}

func TestSilenceMonitorEmitsAfterSustainedSilence(t *testing.T) {
	out := make(chan SilenceEvent, 1)
	chunkDuration := 100 * time.Millisecond
	m := NewSilenceMonitor(500, 300*time.Millisecond, 0, chunkDuration, out)
	m.TrackSession("s1", 0)

	// 2 quiet chunks (200ms) is not enough yet.
	m.RunChunk(quietChunk(10), 0.1)
	m.RunChunk(quietChunk(10), 0.2)
	select {
	case <-out:
		t.Fatal("should not have emitted yet")
	default:
	}

	// the 3rd quiet chunk crosses the 300ms silence_duration threshold.
	m.RunChunk(quietChunk(10), 0.3)
	select {
	case evt := <-out:
		assert.Equal(t, "s1", evt.SessionID)
		assert.InDelta(t, 0.3, evt.End, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("expected a silence event")
	}
}

func TestSilenceMonitorResetsCounterOnLoudChunk(t *testing.T) {
	out := make(chan SilenceEvent, 1)
	m := NewSilenceMonitor(500, 300*time.Millisecond, 0, 100*time.Millisecond, out)
	m.TrackSession("s1", 0)

	m.RunChunk(quietChunk(10), 0.1)
	m.RunChunk(quietChunk(10), 0.2)
	m.RunChunk(loudChunk(10), 0.3) // resets the counter
	m.RunChunk(quietChunk(10), 0.4)

	select {
	case <-out:
		t.Fatal("silence should not have fired: counter was reset by the loud chunk")
	default:
	}
}

func TestSilenceMonitorIgnoresInitialSilenceWindow(t *testing.T) {
	out := make(chan SilenceEvent, 1)
	m := NewSilenceMonitor(500, 100*time.Millisecond, 250*time.Millisecond, 100*time.Millisecond, out)
	m.TrackSession("s1", 0)

	// first 250ms after wake is ignored even if silent.
	m.RunChunk(quietChunk(10), 0.1)
	m.RunChunk(quietChunk(10), 0.2)
	select {
	case <-out:
		t.Fatal("initial silence window should be ignored")
	default:
	}

	m.RunChunk(quietChunk(10), 0.3)
	select {
	case evt := <-out:
		require.Equal(t, "s1", evt.SessionID)
	case <-time.After(time.Second):
		t.Fatal("expected silence once past the initial ignore window")
	}
}

func TestSilenceMonitorUntrackStopsFurtherEvents(t *testing.T) {
	out := make(chan SilenceEvent, 1)
	m := NewSilenceMonitor(500, 100*time.Millisecond, 0, 100*time.Millisecond, out)
	m.TrackSession("s1", 0)
	m.Untrack("s1")

	m.RunChunk(quietChunk(10), 0.1)
	m.RunChunk(quietChunk(10), 0.2)

	select {
	case <-out:
		t.Fatal("untracked session should not emit")
	default:
	}
}
