package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/prerecorded"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"

	pipelineErrors "github.com/kawaz/voice-agent/internal/errors"
)

// deepgramASR implements ASR against Deepgram's cloud pre-recorded
// transcription API, the alternate C6 backend SPEC_FULL.md §2.1 names.
// Option field names (Encoding, SampleRate, Channels, SmartFormat,
// Punctuate, Language, Model) are grounded on
// iamprashant-voice-ai's DeepgramOption.SpeechToTextOptions(); unlike that
// streaming integration, every TranscribeRequest here covers a bounded,
// already-captured PCM range, so the simpler one-shot pre-recorded
// endpoint is the right fit rather than a live websocket session.
type deepgramASR struct {
	client   *prerecorded.Client
	language string
}

func newDeepgramASR(apiKey, language string) (*deepgramASR, error) {
	if apiKey == "" {
		return nil, pipelineErrors.Newf("asr.api_key is required for the deepgram backend").
			Category(pipelineErrors.CategoryConfiguration).Build()
	}
	if language == "" {
		language = "en-US"
	}
	client := prerecorded.NewWithDefaults(apiKey)
	return &deepgramASR{client: client, language: language}, nil
}

// Transcribe uploads pcm as raw linear16 bytes and returns Deepgram's best
// alternative as a single result with one segment spanning the whole range
// (Deepgram's word-level timing is not surfaced at the segment granularity
// spec.md's Segment type needs without a second reshaping pass, so the
// whole-utterance span is used, matching the "unintelligible input ->
// empty text" contract on a transcription failure).
func (a *deepgramASR) Transcribe(pcm []int16, startStreamTime float64) (ASRResult, error) {
	if len(pcm) == 0 {
		return ASRResult{}, nil
	}

	var buf bytes.Buffer
	for _, s := range pcm {
		_ = binary.Write(&buf, binary.LittleEndian, s)
	}

	opts := &interfaces.PreRecordedTranscriptionOptions{
		Model:       "nova",
		Language:    a.language,
		Channels:    1,
		SmartFormat: true,
		Punctuate:   true,
		Encoding:    "linear16",
		SampleRate:  DefaultFormat.SampleRate,
	}

	res, err := a.client.FromStream(context.Background(), &buf, opts)
	if err != nil {
		return ASRResult{}, pipelineErrors.New(err).Category(pipelineErrors.CategoryASR).Build()
	}

	text := extractDeepgramText(res)
	if text == "" {
		return ASRResult{}, nil
	}

	end := startStreamTime + float64(len(pcm))/float64(DefaultFormat.SampleRate)
	return ASRResult{
		Text:     text,
		Segments: []Segment{{Start: startStreamTime, End: end, Text: text}},
	}, nil
}

// extractDeepgramText pulls the top alternative's transcript out of the
// pre-recorded response, tolerating an empty channel/alternative set
// (Deepgram returns this for silence/unintelligible audio).
func extractDeepgramText(res *prerecorded.PreRecordedResponse) string {
	if res == nil || len(res.Results.Channels) == 0 {
		return ""
	}
	ch := res.Results.Channels[0]
	if len(ch.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(ch.Alternatives[0].Transcript)
}
