package pipeline

import (
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"github.com/kawaz/voice-agent/internal/errors"
)

// VoiceActivityDetector scores a chunk with a Silero-VAD ONNX model. It is
// a standalone scorer: Build does not construct one and SilenceMonitor does
// not call IsSpeech, so the RMS gate is the sole silence signal and the
// vad.enabled setting has no effect on the pipeline.
type VoiceActivityDetector struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// NewVoiceActivityDetector loads a Silero-VAD-shaped ONNX model via
// onnxruntime_go, the library SPEC_FULL.md earmarks for VAD refinement.
func NewVoiceActivityDetector(modelPath string) (*VoiceActivityDetector, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.New(err).Category(errors.CategorySilence).Build()
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input", "sr", "h", "c"},
		[]string{"output", "hn", "cn"},
		nil,
	)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySilence).
			Context("model_path", modelPath).
			Build()
	}

	return &VoiceActivityDetector{session: session}, nil
}

// IsSpeech returns true if the chunk (expected 16kHz mono int16) contains
// speech according to the model. A failure degrades to "assume speech",
// the conservative choice: it is safer to delay finalization than to cut
// a session that is still talking.
func (v *VoiceActivityDetector) IsSpeech(chunk []int16) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	floatChunk := make([]float32, len(chunk))
	for i, s := range chunk {
		floatChunk[i] = float32(s) / 32768.0
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(floatChunk))), floatChunk)
	if err != nil {
		return true
	}
	defer inputTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{16000})
	if err != nil {
		return true
	}
	defer srTensor.Destroy()

	// Silero-VAD's recurrent state (h, c) is not threaded across calls
	// here: each IsSpeech call starts from a zeroed state, treating the
	// chunk as an independent probe rather than part of a continuous
	// decode.
	stateShape := ort.NewShape(2, 1, 64)
	hTensor, err := ort.NewTensor(stateShape, make([]float32, 128))
	if err != nil {
		return true
	}
	defer hTensor.Destroy()
	cTensor, err := ort.NewTensor(stateShape, make([]float32, 128))
	if err != nil {
		return true
	}
	defer cTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return true
	}
	defer outputTensor.Destroy()
	hnTensor, err := ort.NewEmptyTensor[float32](stateShape)
	if err != nil {
		return true
	}
	defer hnTensor.Destroy()
	cnTensor, err := ort.NewEmptyTensor[float32](stateShape)
	if err != nil {
		return true
	}
	defer cnTensor.Destroy()

	if err := v.session.Run(
		[]ort.Value{inputTensor, srTensor, hTensor, cTensor},
		[]ort.Value{outputTensor, hnTensor, cnTensor},
	); err != nil {
		return true
	}

	const speechProbabilityThreshold = 0.5
	probs := outputTensor.GetData()
	return len(probs) > 0 && probs[0] >= speechProbabilityThreshold
}

func (v *VoiceActivityDetector) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != nil {
		v.session.Destroy()
		v.session = nil
	}
	return nil
}
