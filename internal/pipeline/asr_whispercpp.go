package pipeline

import (
	"errors"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	pipelineErrors "github.com/kawaz/voice-agent/internal/errors"
)

// whisperCppASR implements ASR on top of whisper.cpp's native CGO bindings,
// grounded on MrWong99-glyphoxa's pkg/provider/stt/whisper.NativeProvider:
// one shared Model loaded once at startup, a fresh Context per inference
// call since whisper.cpp contexts are not safe for concurrent use but the
// model itself is.
type whisperCppASR struct {
	mu       sync.Mutex
	model    whisperlib.Model
	language string
}

func newWhisperCppASR(modelPath, language string) (*whisperCppASR, error) {
	if modelPath == "" {
		return nil, pipelineErrors.Newf("asr.model_path is required for the whispercpp backend").
			Category(pipelineErrors.CategoryConfiguration).Build()
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, pipelineErrors.New(err).
			Category(pipelineErrors.CategoryASR).
			Context("model_path", modelPath).
			Build()
	}
	if language == "" {
		language = "en"
	}
	return &whisperCppASR{model: model, language: language}, nil
}

// Transcribe converts pcm (16kHz mono int16) to float32 and runs a fresh
// whisper.cpp context over it. Segment boundaries come back as durations
// relative to the start of pcm; startStreamTime shifts them into absolute
// stream-time, per spec.md §6's "relative to start_stream_time" contract.
func (a *whisperCppASR) Transcribe(pcm []int16, startStreamTime float64) (ASRResult, error) {
	if len(pcm) == 0 {
		return ASRResult{}, nil
	}

	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768.0
	}

	a.mu.Lock()
	model := a.model
	a.mu.Unlock()

	wctx, err := model.NewContext()
	if err != nil {
		return ASRResult{}, pipelineErrors.New(err).Category(pipelineErrors.CategoryASR).Build()
	}
	if err := wctx.SetLanguage(a.language); err != nil {
		return ASRResult{}, pipelineErrors.New(err).Category(pipelineErrors.CategoryASR).Build()
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return ASRResult{}, pipelineErrors.New(err).Category(pipelineErrors.CategoryASR).Build()
	}

	var parts []string
	var segments []Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ASRResult{}, pipelineErrors.New(err).Category(pipelineErrors.CategoryASR).Build()
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		segments = append(segments, Segment{
			Start: startStreamTime + seg.Start.Seconds(),
			End:   startStreamTime + seg.End.Seconds(),
			Text:  text,
		})
	}

	return ASRResult{Text: strings.Join(parts, " "), Segments: segments}, nil
}

func (a *whisperCppASR) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model != nil {
		err := a.model.Close()
		a.model = nil
		return err
	}
	return nil
}
