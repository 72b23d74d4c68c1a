package pipeline

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileEmitterWritesLineDelimitedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	e, err := NewFileEmitter(path, 16)
	require.NoError(t, err)

	e.Emit(sessionStartEvent("s1", "computer"))
	e.Emit(sessionEndEvent("s1", map[string]string{"short": "hi"}))
	require.NoError(t, e.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []Event
	for scanner.Scan() {
		var evt Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &evt))
		lines = append(lines, evt)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, EventSessionStart, lines[0].Type)
	assert.Equal(t, EventSessionEnd, lines[1].Type)
}

func TestFileEmitterFansOutToAdditionalSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	fan := &fakeEmitter{}

	e, err := NewFileEmitter(path, 16, fan)
	require.NoError(t, err)

	e.Emit(wakeWordDetectedEvent(WakeWordEvent{Name: "computer"}, 1.0))
	require.NoError(t, e.Close())

	assert.True(t, fan.has(EventWakeWordDetected))
}

func TestFileEmitterDropsWhenBufferFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	e, err := NewFileEmitter(path, 1)
	require.NoError(t, err)
	defer e.Close()

	// Emit enough events fast enough that the 1-slot buffer overflows; Emit
	// must never block the caller regardless of how many are dropped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			e.Emit(systemEvent("tick", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked the caller")
	}
}
