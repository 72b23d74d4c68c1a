package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kawaz/voice-agent/internal/conf"
	"github.com/kawaz/voice-agent/internal/events"
	"github.com/kawaz/voice-agent/internal/logging"
	"github.com/kawaz/voice-agent/internal/metrics"
	"github.com/kawaz/voice-agent/internal/notify"
)

// Supervisor owns every long-lived goroutine spec.md §5 names
// (wake_reader, buffer_reader, session_driver, scheduler_tick, worker[N])
// plus the central error sink that turns the shared error channel into
// `error` Events and ambient-bus ErrorEvents, grounded on
// MrWong99-glyphoxa's hotctx.Assembler.Assemble: one errgroup.WithContext
// fans out every concurrent unit and the first failure cancels the rest.
// Unlike that one-shot fan-out, the pipeline's goroutines are meant to run
// forever, so only a genuinely fatal setup error (e.g. the audio device
// failing to open) propagates out of Run; runtime errors from individual
// frames/chunks/requests go through the error channel instead.
type Supervisor struct {
	ctx      *conf.Context
	settings *conf.Settings

	source   AudioSource
	ring     *RingBuffer
	detector Detector
	wakeAdapter *WakeDetectorAdapter
	silence  *SilenceMonitor
	scheduler *Scheduler
	manager  *Manager
	emitter  Emitter
	wsEmitter *WebsocketEmitter
	sink     PersistenceSink
	exporter *SessionExporter

	notifier notify.Notifier
	recorder metrics.Recorder

	errCh     chan error
	wakeCh    chan WakeWordEvent
	silenceCh chan SilenceEvent
	resultCh  chan TranscriptionResult

	logger *logging.Logger
}

// Build wires every component from the root Context's Settings without
// starting anything, mirroring the teacher's cmd package building a
// Settings tree before handing it to analysis.RealtimeAnalysis. Shared
// resources other components need a handle to (the ring buffer, the
// emitter, the scheduler) are registered back onto ctx so the cmd layer
// and diagnostics can look them up without importing Supervisor's
// internals or creating an import cycle.
func Build(ctx *conf.Context) (*Supervisor, error) {
	settings := ctx.Settings
	ring := NewRingBuffer(settings.RingBuffer.Seconds, settings.AudioSource.SampleRate)

	detector, err := NewDetector(settings.Detector.Backend, settings.Detector.ModelPath, settings.Detector.Words)
	if err != nil {
		return nil, err
	}
	if err := detector.Initialize(); err != nil {
		return nil, err
	}

	source, err := NewAudioSource("mic", settings.AudioSource.Backend, settings.AudioSource.SampleRate, detector.FrameLength(), settings.AudioSource.DeviceName, settings.AudioSource.Gain)
	if err != nil {
		return nil, err
	}

	asr, err := NewASR(settings.ASR.Backend, settings.ASR.ModelPath, settings.ASR.APIKey, settings.ASR.Language)
	if err != nil {
		return nil, err
	}

	sink, err := NewPersistenceSink(settings.Persistence.DSN, settings.Persistence.StoreEmbedding)
	if err != nil {
		return nil, err
	}

	notifier, err := notify.New(settings.Notify.URLs, 3, 2*time.Second, 10*time.Second)
	if err != nil {
		return nil, err
	}

	const eventQueueDepth = 256
	errCh := make(chan error, eventQueueDepth)
	wakeCh := make(chan WakeWordEvent, 16)
	silenceCh := make(chan SilenceEvent, 64)
	resultCh := make(chan TranscriptionResult, settings.Scheduler.QueueSize*2)

	var wsEmitter *WebsocketEmitter
	var fanout []Emitter
	if settings.Emitter.WebsocketAddr != "" {
		wsEmitter = NewWebsocketEmitter()
		fanout = append(fanout, wsEmitter)
	}

	emitter, err := NewFileEmitter(settings.Emitter.Path, 256, fanout...)
	if err != nil {
		return nil, err
	}

	chunkDuration := time.Duration(float64(ChunkSize) / float64(settings.AudioSource.SampleRate) * float64(time.Second))
	silence := NewSilenceMonitor(settings.Silence.ThresholdRMS, settings.Silence.Duration, settings.Silence.InitialSilenceIgnore, chunkDuration, silenceCh)

	levels := make(map[Level]LevelConfig, len(settings.Scheduler.Levels))
	for name, cfg := range settings.Scheduler.Levels {
		levels[Level(name)] = cfg
	}

	scheduler := NewScheduler(ring, asr, settings.Scheduler.QueueSize, settings.Scheduler.TickHz, levels, resultCh, errCh, emitter)

	var exporter *SessionExporter
	if settings.Export.Enabled {
		exporter = NewSessionExporter(ring, settings.AudioSource.SampleRate)
	}

	manager := NewManager(scheduler, silence, ring, emitter, sink, exporter, settings.Session.Timeout, settings.Silence.Duration, settings.Session.RepetitionRequired, settings.ASR.Language)

	wakeAdapter := NewWakeDetectorAdapter(detector, ring, wakeCh, errCh)

	ctx.PutResource("ring", ring)
	ctx.PutResource("emitter", emitter)
	ctx.PutResource("scheduler", scheduler)

	return &Supervisor{
		ctx:         ctx,
		settings:    settings,
		source:      source,
		ring:        ring,
		detector:    detector,
		wakeAdapter: wakeAdapter,
		silence:     silence,
		scheduler:   scheduler,
		manager:     manager,
		emitter:     emitter,
		wsEmitter:   wsEmitter,
		sink:        sink,
		exporter:    exporter,
		notifier:    notifier,
		recorder:    metrics.NoOpRecorder{}, // replaced via SetRecorder when the caller registers a Prometheus registry
		errCh:       errCh,
		wakeCh:      wakeCh,
		silenceCh:   silenceCh,
		resultCh:    resultCh,
		logger:      logging.ForService("supervisor"),
	}, nil
}

// SetRecorder installs a Prometheus-backed Recorder in place of the no-op
// default, called once by the cmd layer after building the registry.
func (s *Supervisor) SetRecorder(r metrics.Recorder) {
	s.recorder = r
	s.scheduler.SetRecorder(r)
}

// WebsocketEmitterOrNil exposes the websocket emitter (or nil) so cmd/
// can wire its Handler into the HTTP server without this package importing
// net/http or echo.
func (s *Supervisor) WebsocketEmitterOrNil() *WebsocketEmitter { return s.wsEmitter }

// Run starts every pipeline goroutine and blocks until ctx is canceled,
// then drains in-flight sessions for the given grace period before
// returning. The audio source's Start call is the one setup step allowed
// to fail Run outright; everything after that point degrades through the
// error channel instead of tearing down the whole pipeline.
func (s *Supervisor) Run(ctx context.Context, grace time.Duration) error {
	if err := s.source.Start(ctx); err != nil {
		return err
	}
	defer s.source.Stop()

	eg, egCtx := errgroup.WithContext(ctx)

	// wake_reader runs beside the group rather than in it: it ranges over the
	// detector stream, which only closes when the deferred source.Stop runs
	// after eg.Wait returns.
	go s.wakeAdapter.Run(s.source.DetectorStream())

	eg.Go(func() error {
		s.runBufferReader(egCtx)
		return nil
	})

	eg.Go(func() error {
		s.scheduler.Run(egCtx, s.settings.Scheduler.NumWorkers)
		return nil
	})

	eg.Go(func() error {
		s.manager.Run(egCtx, s.wakeCh, s.silenceCh, s.resultCh, grace)
		return nil
	})

	eg.Go(func() error {
		s.runErrorSink(egCtx)
		return nil
	})

	eg.Go(func() error {
		s.runSourceErrorForwarder(egCtx)
		return nil
	})

	eg.Go(func() error {
		s.runMetricsSampler(egCtx)
		return nil
	})

	return eg.Wait()
}

// runBufferReader is the buffer_reader thread of spec.md §5: append every
// chunk to the ring buffer and hand it to the silence monitor.
func (s *Supervisor) runBufferReader(ctx context.Context) {
	stream := s.source.BufferStream()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			s.ring.Append(chunk)
			s.silence.RunChunk(chunk, s.ring.StreamPosition())
		}
	}
}

// runSourceErrorForwarder relays the AudioSource's own error channel
// (overflow, device glitches) into the shared error sink (spec.md §4.1:
// "the caller logs and continues").
func (s *Supervisor) runSourceErrorForwarder(ctx context.Context) {
	stream := s.source.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-stream:
			if !ok {
				return
			}
			select {
			case s.errCh <- err:
			default:
			}
		}
	}
}

// runErrorSink is the single place `error` Events get emitted (spec.md §6's
// event table), so every component that calls reportError/reportDrop only
// needs to push onto errCh, never import the Emitter itself. Errors are
// also counted on the metrics recorder, published to the ambient events
// bus when one has been initialized, and, at PriorityHigh or above, sent
// to the configured Notifier.
func (s *Supervisor) runErrorSink(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-s.errCh:
			if !ok {
				return
			}
			s.handleError(err)
		}
	}
}

func (s *Supervisor) handleError(err error) {
	component, category, priority := "pipeline", "generic", ""
	if ee, ok := err.(interface {
		GetComponent() string
		GetCategory() string
		GetPriority() string
	}); ok {
		component, category, priority = ee.GetComponent(), ee.GetCategory(), ee.GetPriority()
	}

	s.logger.Error("pipeline error", "component", component, "category", category, "error", err)
	s.recorder.IncError(component)

	if s.emitter != nil {
		s.emitter.Emit(errorEvent(component, err))
	}

	if bus := events.GetEventBus(); bus != nil {
		if ee, ok := err.(events.ErrorEvent); ok {
			bus.TryPublish(ee)
		}
	}

	if priority == "high" || priority == "critical" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if notifyErr := s.notifier.Notify(ctx, "voice-agent error", err.Error()); notifyErr != nil {
			s.logger.Warn("notification delivery failed", "error", notifyErr)
		}
	}
}

// runMetricsSampler periodically refreshes the gauges that reflect
// instantaneous state (ring-buffer occupancy, active sessions, queue
// depth) rather than discrete events, matching SPEC_FULL.md §1.1's
// recorder responsibilities.
func (s *Supervisor) runMetricsSampler(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recorder.SetRingBufferOccupancy(s.ring.OccupancyFraction())
			s.recorder.SetSchedulerQueueDepth(s.scheduler.queue.len())
			s.recorder.SetActiveSessions(s.manager.ActiveSessionCount())
		}
	}
}

// Close releases every resource the supervisor built, best-effort, in
// reverse dependency order.
func (s *Supervisor) Close() error {
	if s.wsEmitter != nil {
		_ = s.wsEmitter.Close()
	}
	if s.emitter != nil {
		_ = s.emitter.Close()
	}
	if s.sink != nil {
		_ = s.sink.Close()
	}
	return s.detector.Cleanup()
}
