package pipeline

import (
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
	"github.com/kawaz/voice-agent/internal/errors"
)

// sherpaDetector implements Detector on k2-fsa/sherpa-onnx-go's keyword
// spotter, the second detector backend named in SPEC_FULL.md §2.1. Its
// shape mirrors tfliteDetector: lazy Initialize, fixed FrameLength,
// Process/Cleanup. sherpa-onnx keyword spotters are internally streaming
// (they keep their own decoder state across calls), so Process here just
// feeds samples in and asks for a ready result rather than running a
// stateless per-frame inference like the TFLite backend.
type sherpaDetector struct {
	modelDir string
	words    []string

	mu       sync.Mutex
	spotter  *sherpa.KeywordSpotter
	stream   *sherpa.OnlineStream
}

func newSherpaDetector(modelDir string, words []string) (*sherpaDetector, error) {
	if len(words) == 0 {
		words = []string{"wake word"}
	}
	return &sherpaDetector{modelDir: modelDir, words: words}, nil
}

func (d *sherpaDetector) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	config := sherpa.KeywordSpotterConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: 16000,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OnlineModelConfig{
			Tokens:   d.modelDir + "/tokens.txt",
			Provider: "cpu",
			NumThreads: 1,
		},
		KeywordsFile: d.modelDir + "/keywords.txt",
	}

	spotter := sherpa.NewKeywordSpotter(&config)
	if spotter == nil {
		return errors.Newf("failed to load sherpa-onnx keyword spotter from %s", d.modelDir).
			Category(errors.CategoryDetector).Build()
	}
	d.spotter = spotter
	d.stream = sherpa.NewKeywordStream(spotter)
	return nil
}

func (d *sherpaDetector) FrameLength() int { return 512 }

func (d *sherpaDetector) Process(frame []int16) (*Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.spotter == nil || d.stream == nil {
		return nil, errors.NewStd("detector not initialized")
	}

	samples := make([]float32, len(frame))
	for i, s := range frame {
		samples[i] = float32(s) / 32768.0
	}
	d.stream.AcceptWaveform(16000, samples)

	for d.spotter.IsReady(d.stream) {
		d.spotter.Decode(d.stream)
		result := d.spotter.GetResult(d.stream)
		if result.Keyword != "" {
			d.spotter.Reset(d.stream)
			for i, w := range d.words {
				if w == result.Keyword {
					return &Detection{Index: i, Name: w}, nil
				}
			}
			return &Detection{Index: -1, Name: result.Keyword}, nil
		}
	}
	return nil, nil
}

func (d *sherpaDetector) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stream = nil
	d.spotter = nil
	return nil
}
