package pipeline

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/kawaz/voice-agent/internal/errors"
)

// malgoSource implements AudioSource with malgo, grounded on the teacher's
// internal/audiocore/sources/malgo.MalgoSource: same InitContext/InitDevice/
// DeviceCallbacks flow, same per-OS backend selection and gain clamping.
// It opens two independent capture devices on the same default input
// (spec.md §4.1): one whose callback batches to frameLength samples for the
// detector stream, one whose callback batches to ChunkSize samples for the
// buffer stream. Neither stream re-chunks the other's output, so a dropped
// frame on one never perturbs the other's cadence or costs it an extra copy.
type malgoSource struct {
	id          string
	deviceName  string
	sampleRate  int
	frameLength int

	ctx         *malgo.AllocatedContext
	detectorDev *malgo.Device
	bufferDev   *malgo.Device
	cancel      context.CancelFunc

	detectorChan chan []int16
	bufferChan   chan []int16
	errorChan    chan error

	detectorAccum []int16
	bufferAccum   []int16

	running atomic.Bool
	gain    atomic.Value // float64

	mu sync.Mutex
}

func newMalgoSource(id string, sampleRate, frameLength int, deviceName string, gain float64) (*malgoSource, error) {
	if frameLength <= 0 {
		frameLength = 512
	}
	if gain == 0 {
		gain = 1.0
	}
	s := &malgoSource{
		id:           id,
		deviceName:   deviceName,
		sampleRate:   sampleRate,
		frameLength:  frameLength,
		detectorChan: make(chan []int16, 8),
		bufferChan:   make(chan []int16, 32),
		errorChan:    make(chan error, 16),
	}
	s.gain.Store(gain)
	return s, nil
}

func (s *malgoSource) ID() string { return s.id }

func (s *malgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.Newf("audio source %s already running", s.id).
			Category(errors.CategoryState).Build()
	}

	backend := malgoBackendForOS()
	malgoCtx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryAudioSource).
			Context("source_id", s.id).
			Context("operation", "init_context").
			Build()
	}
	s.ctx = malgoCtx

	captureCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	detectorDev, err := s.openDevice(malgo.DeviceCallbacks{Data: s.onDetectorData, Stop: s.onDeviceStop})
	if err != nil {
		cancel()
		_ = malgoCtx.Uninit()
		return err
	}
	s.detectorDev = detectorDev

	bufferDev, err := s.openDevice(malgo.DeviceCallbacks{Data: s.onBufferData, Stop: s.onDeviceStop})
	if err != nil {
		detectorDev.Uninit()
		cancel()
		_ = malgoCtx.Uninit()
		return err
	}
	s.bufferDev = bufferDev

	s.running.Store(true)
	go s.monitor(captureCtx)

	return nil
}

// openDevice inits and starts one capture device against the shared malgo
// context, used twice by Start for the detector and buffer captures.
func (s *malgoSource) openDevice(callbacks malgo.DeviceCallbacks) (*malgo.Device, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(s.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryAudioSource).
			Context("source_id", s.id).
			Context("operation", "init_device").
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, errors.New(err).
			Category(errors.CategoryAudioSource).
			Context("source_id", s.id).
			Context("operation", "start_device").
			Build()
	}

	return device, nil
}

func (s *malgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.detectorDev != nil {
		_ = s.detectorDev.Stop()
		s.detectorDev.Uninit()
		s.detectorDev = nil
	}
	if s.bufferDev != nil {
		_ = s.bufferDev.Stop()
		s.bufferDev.Uninit()
		s.bufferDev = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx = nil
	}
	s.running.Store(false)
	close(s.detectorChan)
	close(s.bufferChan)
	close(s.errorChan)
	return nil
}

func (s *malgoSource) monitor(ctx context.Context) {
	<-ctx.Done()
}

func (s *malgoSource) DetectorStream() <-chan []int16 { return s.detectorChan }
func (s *malgoSource) BufferStream() <-chan []int16   { return s.bufferChan }
func (s *malgoSource) Errors() <-chan error           { return s.errorChan }
func (s *malgoSource) IsActive() bool                 { return s.running.Load() }

func (s *malgoSource) Format() AudioFormat {
	return AudioFormat{SampleRate: s.sampleRate, Channels: 1, BitDepth: 16}
}

func (s *malgoSource) SetGain(gain float64) error {
	if gain < 0.0 || gain > 2.0 {
		return errors.Newf("gain %v out of range [0.0, 2.0]", gain).
			Category(errors.CategoryValidation).Build()
	}
	s.gain.Store(gain)
	return nil
}

// decodeGained converts one capture callback's interleaved S16LE bytes into
// gain-adjusted samples; shared by both devices' callbacks.
func (s *malgoSource) decodeGained(in []byte, frameCount uint32) []int16 {
	gain, _ := s.gain.Load().(float64)
	n := int(frameCount)
	samples := make([]int16, n)
	for i := range n {
		raw := int16(in[i*2]) | int16(in[i*2+1])<<8
		samples[i] = applyGain(raw, gain)
	}
	return samples
}

// onDetectorData is the detector device's capture callback: it must not
// block, so frames are batched to frameLength and sent non-blocking,
// dropping (and reporting) on backpressure exactly as spec.md §4.1 permits.
func (s *malgoSource) onDetectorData(_ []byte, in []byte, frameCount uint32) {
	s.detectorAccum = append(s.detectorAccum, s.decodeGained(in, frameCount)...)
	for len(s.detectorAccum) >= s.frameLength {
		frame := make([]int16, s.frameLength)
		copy(frame, s.detectorAccum[:s.frameLength])
		s.detectorAccum = s.detectorAccum[s.frameLength:]
		select {
		case s.detectorChan <- frame:
		default:
			s.reportOverflow("detector_stream")
		}
	}
}

// onBufferData is the buffer device's capture callback, batching to
// ChunkSize independently of the detector device's cadence.
func (s *malgoSource) onBufferData(_ []byte, in []byte, frameCount uint32) {
	s.bufferAccum = append(s.bufferAccum, s.decodeGained(in, frameCount)...)
	for len(s.bufferAccum) >= ChunkSize {
		chunk := make([]int16, ChunkSize)
		copy(chunk, s.bufferAccum[:ChunkSize])
		s.bufferAccum = s.bufferAccum[ChunkSize:]
		select {
		case s.bufferChan <- chunk:
		default:
			s.reportOverflow("buffer_stream")
		}
	}
}

func (s *malgoSource) reportOverflow(stream string) {
	err := errors.Newf("%s overflow on source %s: chunk dropped", stream, s.id).
		Category(errors.CategoryAudioSource).
		Priority(errors.PriorityLow).
		Build()
	select {
	case s.errorChan <- err:
	default:
	}
}

func (s *malgoSource) onDeviceStop() {
	select {
	case s.errorChan <- errors.Newf("audio device for source %s stopped unexpectedly", s.id).
		Category(errors.CategoryAudioSource).Build():
	default:
	}
}

func applyGain(sample int16, gain float64) int16 {
	if gain == 1.0 {
		return sample
	}
	scaled := float64(sample) * gain
	if scaled > 32767 {
		return 32767
	}
	if scaled < -32768 {
		return -32768
	}
	return int16(scaled)
}

func malgoBackendForOS() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}
