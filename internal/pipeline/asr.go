package pipeline

// ASRResult is the external ASR's outcome for one call, per spec.md §6's
// ASR interface contract: text plus a segment table relative to the
// request's start_stream_time.
type ASRResult struct {
	Text     string
	Segments []Segment
}

// ASR is the black-box speech-to-text engine named in spec.md §6. Callers
// pass the PCM extracted from the Ring Buffer for one TranscribeRequest;
// segments are relative to startStreamTime so the scheduler can translate
// them back into absolute stream-time before publishing a TranscriptionResult.
type ASR interface {
	Transcribe(pcm []int16, startStreamTime float64) (ASRResult, error)
}

// NewASR builds the configured ASR backend.
func NewASR(backend, modelPath, apiKey, language string) (ASR, error) {
	switch backend {
	case "whispercpp", "":
		return newWhisperCppASR(modelPath, language)
	case "deepgram":
		return newDeepgramASR(apiKey, language)
	default:
		return nil, unsupportedBackendError("asr", backend)
	}
}
