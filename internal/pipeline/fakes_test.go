package pipeline

import (
	"context"
	"sync"
)

// fakeEmitter records every Event it receives, for assertions in tests that
// don't need a real sink.
type fakeEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeEmitter) Emit(evt Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakeEmitter) Close() error { return nil }

func (f *fakeEmitter) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

func (f *fakeEmitter) has(eventType string) bool {
	for _, t := range f.types() {
		if t == eventType {
			return true
		}
	}
	return false
}

// fakeASR returns a fixed transcript for every request, regardless of the
// PCM handed to it.
type fakeASR struct {
	text string
	err  error
}

func (f *fakeASR) Transcribe(pcm []int16, startStreamTime float64) (ASRResult, error) {
	if f.err != nil {
		return ASRResult{}, f.err
	}
	return ASRResult{Text: f.text}, nil
}

// fakeSink records every FinalizedSession it receives.
type fakeSink struct {
	mu      sync.Mutex
	records []FinalizedSession
}

func (f *fakeSink) Insert(_ context.Context, rec FinalizedSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}
