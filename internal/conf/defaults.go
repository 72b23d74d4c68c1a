package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig mirrors the teacher's internal/conf.setDefaultConfig:
// every key gets a viper default so a bare config file (or none at all)
// still produces a runnable Settings.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "voice-agent")
	setLogDefaults("main.log")

	viper.SetDefault("audiosource.backend", "malgo")
	viper.SetDefault("audiosource.device_name", "")
	viper.SetDefault("audiosource.sample_rate", 16000)
	viper.SetDefault("audiosource.chunk_size", 512)
	viper.SetDefault("audiosource.gain", 1.0)

	viper.SetDefault("detector.backend", "tflite")
	viper.SetDefault("detector.model_path", "models/wakeword.tflite")
	viper.SetDefault("detector.words", []string{"ok computer"})

	viper.SetDefault("vad.enabled", false)
	viper.SetDefault("vad.model_path", "models/silero_vad.onnx")

	viper.SetDefault("asr.backend", "whispercpp")
	viper.SetDefault("asr.model_path", "models/ggml-base.bin")
	viper.SetDefault("asr.api_key", "")
	viper.SetDefault("asr.language", "en")

	viper.SetDefault("ringbuffer.seconds", 300)

	viper.SetDefault("silence.threshold_rms", 300)
	viper.SetDefault("silence.duration", 2*time.Second)
	viper.SetDefault("silence.initial_silence_ignore", 3*time.Second)

	viper.SetDefault("session.timeout", 30*time.Second)
	viper.SetDefault("session.repetition_required", 3)

	viper.SetDefault("scheduler.num_workers", 2)
	viper.SetDefault("scheduler.queue_size", 8)
	viper.SetDefault("scheduler.tick_hz", 2.0)
	viper.SetDefault("scheduler.levels", defaultLevels())

	viper.SetDefault("persistence.dsn", "")
	viper.SetDefault("persistence.store_embedding", false)

	viper.SetDefault("export.enabled", false)
	viper.SetDefault("export.bitrate", 24000)

	viper.SetDefault("emitter.path", "-")
	viper.SetDefault("emitter.websocket_addr", "")

	viper.SetDefault("notify.urls", []string{})

	viper.SetDefault("http.addr", ":8089")
}

// setLogDefaults follows the teacher's setModuleLogDefaults(name, enabled)
// pattern of scoping a group of related viper defaults under one prefix.
func setLogDefaults(prefix string) {
	viper.SetDefault(prefix+".path", "logs/voice-agent.log")
	viper.SetDefault(prefix+".level", "info")
	viper.SetDefault(prefix+".max_size", int64(10*1024*1024))
	viper.SetDefault(prefix+".rotation", string(RotationDaily))
}

// defaultLevels encodes spec.md §4.6's level table: short/medium/long windows
// plus overlap, final ("ultra") is driven by session end rather than a timer
// so it has no entry here.
func defaultLevels() map[string]LevelConfig {
	return map[string]LevelConfig{
		"short":  {Duration: 3 * time.Second, Overlap: 1 * time.Second},
		"medium": {Duration: 8 * time.Second, Overlap: 2 * time.Second},
		"long":   {Duration: 20 * time.Second, Overlap: 5 * time.Second},
	}
}

// Defaults returns a Settings populated with the same values registered in
// setDefaultConfig, for use before/without a viper Load pass (tests, or
// Setting()'s lazy fallback).
func Defaults() *Settings {
	s := &Settings{}
	s.Debug = false
	s.Main.Name = "voice-agent"
	s.Main.Log = LogConfig{
		Path:     "logs/voice-agent.log",
		Level:    "info",
		MaxSize:  10 * 1024 * 1024,
		Rotation: RotationDaily,
	}

	s.AudioSource = AudioSourceConfig{
		Backend:    "malgo",
		SampleRate: 16000,
		ChunkSize:  512,
		Gain:       1.0,
	}
	s.Detector = DetectorConfig{
		Backend:   "tflite",
		ModelPath: "models/wakeword.tflite",
		Words:     []string{"ok computer"},
	}
	s.VAD = VADConfig{
		Enabled:   false,
		ModelPath: "models/silero_vad.onnx",
	}
	s.ASR = ASRConfig{
		Backend:   "whispercpp",
		ModelPath: "models/ggml-base.bin",
		Language:  "en",
	}

	s.RingBuffer.Seconds = 300

	s.Silence.ThresholdRMS = 300
	s.Silence.Duration = 2 * time.Second
	s.Silence.InitialSilenceIgnore = 3 * time.Second

	s.Session.Timeout = 30 * time.Second
	s.Session.RepetitionRequired = 3

	s.Scheduler.NumWorkers = 2
	s.Scheduler.QueueSize = 8
	s.Scheduler.TickHz = 2.0
	s.Scheduler.Levels = defaultLevels()

	s.Persistence = PersistenceConfig{}
	s.Export = ExportConfig{Bitrate: 24000}
	s.Emitter = EmitterConfig{Path: "-"}
	s.Notify = NotifyConfig{}
	s.HTTP = HTTPConfig{Addr: ":8089"}

	return s
}
