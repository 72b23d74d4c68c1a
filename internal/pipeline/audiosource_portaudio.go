package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/kawaz/voice-agent/internal/errors"
)

// portAudioSource is the alternate AudioSource backend (SPEC_FULL.md §2.1),
// grounded the same way as malgoSource but on gordonklaus/portaudio's
// callback-free, buffer-polling API: a dedicated goroutine calls
// stream.Read() into a fixed-size buffer in a loop instead of receiving
// push callbacks, the two common shapes PortAudio bindings expose.
type portAudioSource struct {
	id          string
	sampleRate  int
	frameLength int
	gain        atomic.Value

	stream *portaudio.Stream
	cancel context.CancelFunc

	detectorChan chan []int16
	bufferChan   chan []int16
	errorChan    chan error

	running atomic.Bool
	mu      sync.Mutex
}

func newPortAudioSource(id string, sampleRate, frameLength int, _ string, gain float64) (*portAudioSource, error) {
	if frameLength <= 0 {
		frameLength = 512
	}
	if gain == 0 {
		gain = 1.0
	}
	s := &portAudioSource{
		id:           id,
		sampleRate:   sampleRate,
		frameLength:  frameLength,
		detectorChan: make(chan []int16, 8),
		bufferChan:   make(chan []int16, 32),
		errorChan:    make(chan error, 16),
	}
	s.gain.Store(gain)
	return s, nil
}

func (s *portAudioSource) ID() string { return s.id }

func (s *portAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.Newf("audio source %s already running", s.id).
			Category(errors.CategoryState).Build()
	}

	if err := portaudio.Initialize(); err != nil {
		return errors.New(err).
			Category(errors.CategoryAudioSource).
			Context("operation", "portaudio_initialize").
			Build()
	}

	readBuf := make([]int16, ChunkSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.sampleRate), len(readBuf), readBuf)
	if err != nil {
		_ = portaudio.Terminate()
		return errors.New(err).
			Category(errors.CategoryAudioSource).
			Context("operation", "open_default_stream").
			Build()
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return errors.New(err).
			Category(errors.CategoryAudioSource).
			Context("operation", "start_stream").
			Build()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)

	var detectorAccum, bufferAccum []int16
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			default:
			}

			if err := stream.Read(); err != nil {
				select {
				case s.errorChan <- errors.New(err).Category(errors.CategoryAudioSource).Build():
				default:
				}
				continue
			}

			gain, _ := s.gain.Load().(float64)
			samples := make([]int16, len(readBuf))
			for i, raw := range readBuf {
				samples[i] = applyGain(raw, gain)
			}

			detectorAccum = append(detectorAccum, samples...)
			for len(detectorAccum) >= s.frameLength {
				frame := make([]int16, s.frameLength)
				copy(frame, detectorAccum[:s.frameLength])
				detectorAccum = detectorAccum[s.frameLength:]
				select {
				case s.detectorChan <- frame:
				default:
				}
			}

			bufferAccum = append(bufferAccum, samples...)
			for len(bufferAccum) >= ChunkSize {
				chunk := make([]int16, ChunkSize)
				copy(chunk, bufferAccum[:ChunkSize])
				bufferAccum = bufferAccum[ChunkSize:]
				select {
				case s.bufferChan <- chunk:
				default:
				}
			}
		}
	}()

	return nil
}

func (s *portAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.cancel()
	if s.stream != nil {
		_ = s.stream.Stop()
		_ = s.stream.Close()
	}
	_ = portaudio.Terminate()
	s.running.Store(false)
	close(s.detectorChan)
	close(s.bufferChan)
	close(s.errorChan)
	return nil
}

func (s *portAudioSource) DetectorStream() <-chan []int16 { return s.detectorChan }
func (s *portAudioSource) BufferStream() <-chan []int16   { return s.bufferChan }
func (s *portAudioSource) Errors() <-chan error           { return s.errorChan }
func (s *portAudioSource) IsActive() bool                 { return s.running.Load() }

func (s *portAudioSource) Format() AudioFormat {
	return AudioFormat{SampleRate: s.sampleRate, Channels: 1, BitDepth: 16}
}

func (s *portAudioSource) SetGain(gain float64) error {
	if gain < 0.0 || gain > 2.0 {
		return errors.Newf("gain %v out of range [0.0, 2.0]", gain).
			Category(errors.CategoryValidation).Build()
	}
	s.gain.Store(gain)
	return nil
}
