package pipeline

import (
	"sync"

	tflite "github.com/tphakala/go-tflite"
	"github.com/kawaz/voice-agent/internal/errors"
)

// tfliteDetector implements Detector on top of a TFLite wake-word model
// loaded from disk, grounded on the teacher's internal/birdnet.BirdNET
// model-loading pattern (tflite.NewModel + interpreter init), with the
// embedded-model mechanics dropped in favor of a configurable model path
// since wake-word models here are operator-provided, not shipped in the
// binary.
type tfliteDetector struct {
	modelPath   string
	words       []string
	frameLength int

	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
}

func newTFLiteDetector(modelPath string, words []string) (*tfliteDetector, error) {
	if len(words) == 0 {
		words = []string{"wake word"}
	}
	return &tfliteDetector{
		modelPath:   modelPath,
		words:       words,
		frameLength: 512,
	}, nil
}

func (d *tfliteDetector) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	model := tflite.NewModelFromFile(d.modelPath)
	if model == nil {
		return errors.Newf("failed to load wake word model from %s", d.modelPath).
			Category(errors.CategoryDetector).Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(2)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return errors.Newf("failed to create interpreter for model %s", d.modelPath).
			Category(errors.CategoryDetector).Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return errors.Newf("failed to allocate tensors for model %s: status %v", d.modelPath, status).
			Category(errors.CategoryDetector).Build()
	}

	d.model = model
	d.interpreter = interpreter
	return nil
}

func (d *tfliteDetector) FrameLength() int { return d.frameLength }

// Process feeds one frame to the interpreter and interprets the output
// tensor as one score per registered wake word; a positive indication is
// the highest-scoring word crossing a fixed confidence threshold.
func (d *tfliteDetector) Process(frame []int16) (*Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.interpreter == nil {
		return nil, errors.NewStd("detector not initialized")
	}

	input := d.interpreter.GetInputTensor(0)
	floatFrame := make([]float32, len(frame))
	for i, s := range frame {
		floatFrame[i] = float32(s) / 32768.0
	}
	if err := input.CopyFromBuffer(floatFrame); err != nil {
		return nil, errors.New(err).Category(errors.CategoryDetector).Build()
	}

	if status := d.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("tflite invoke failed: status %v", status).
			Category(errors.CategoryDetector).Build()
	}

	output := d.interpreter.GetOutputTensor(0)
	scores := make([]float32, len(d.words))
	if status := output.CopyToBuffer(&scores[0]); status != tflite.OK {
		return nil, errors.Newf("tflite copy output failed: status %v", status).
			Category(errors.CategoryDetector).Build()
	}

	const confidenceThreshold = 0.5
	bestIdx, bestScore := -1, float32(confidenceThreshold)
	for i, score := range scores {
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestIdx < 0 {
		return nil, nil
	}
	return &Detection{Index: bestIdx, Name: d.words[bestIdx]}, nil
}

func (d *tfliteDetector) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interpreter != nil {
		d.interpreter.Delete()
		d.interpreter = nil
	}
	if d.model != nil {
		d.model.Delete()
		d.model = nil
	}
	return nil
}
