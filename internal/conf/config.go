// Package conf loads and holds runtime configuration for the voice pipeline,
// following the teacher's viper-backed Settings/Context split: Settings is
// the plain data loaded from flags/file/defaults, Context is the root value
// that also carries shared runtime resources (see context.go).
package conf

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// LogRotation selects how the rotating file logger rolls over.
type LogRotation string

const (
	RotationDaily  LogRotation = "daily"
	RotationWeekly LogRotation = "weekly"
	RotationSize   LogRotation = "size"
)

// LogConfig configures the rotating file logger (see internal/logging).
type LogConfig struct {
	Path     string
	Level    string
	MaxSize  int64 // bytes
	Rotation LogRotation
}

// LevelConfig is one row of the transcription scheduler's level table
// (spec.md §4.6): how long a window must be before this level fires, and
// how much consecutive windows of the same level overlap.
type LevelConfig struct {
	Duration time.Duration
	Overlap  time.Duration
}

// AudioSourceConfig configures C1.
type AudioSourceConfig struct {
	Backend    string // "malgo" | "portaudio"
	DeviceName string
	SampleRate int
	ChunkSize  int
	Gain       float64
}

// DetectorConfig configures C3's pluggable wake-word backend.
type DetectorConfig struct {
	Backend   string // "tflite" | "sherpa"
	ModelPath string
	Words     []string
}

// VADConfig configures the optional Silero-VAD refinement of C4.
type VADConfig struct {
	Enabled   bool
	ModelPath string
}

// ASRConfig configures C6's pluggable transcription backend.
type ASRConfig struct {
	Backend   string // "whispercpp" | "deepgram"
	ModelPath string
	APIKey    string
	Language  string
}

// PersistenceConfig configures the append-only sink (spec.md §6).
type PersistenceConfig struct {
	DSN            string
	StoreEmbedding bool
}

// ExportConfig configures the supplemental session-audio exporter (SPEC_FULL §4.8).
type ExportConfig struct {
	Enabled bool
	Bitrate int
}

// EmitterConfig configures the event stream (C7).
type EmitterConfig struct {
	Path            string // line-delimited JSON sink path, "-" for stdout
	WebsocketAddr   string // optional, enables the broadcast sink
}

// NotifyConfig configures shoutrrr-based alerting on `error` events.
type NotifyConfig struct {
	URLs []string
}

// HTTPConfig configures the health/metrics HTTP listener.
type HTTPConfig struct {
	Addr string
}

// Settings holds the full configuration tree for the voice pipeline.
type Settings struct {
	Debug bool

	Main struct {
		Name string
		Log  LogConfig
	}

	AudioSource AudioSourceConfig
	Detector    DetectorConfig
	VAD         VADConfig
	ASR         ASRConfig

	RingBuffer struct {
		Seconds int
	}

	Silence struct {
		ThresholdRMS         int
		Duration             time.Duration
		InitialSilenceIgnore time.Duration
	}

	Session struct {
		Timeout            time.Duration
		RepetitionRequired int
	}

	Scheduler struct {
		NumWorkers int
		QueueSize  int
		TickHz     float64
		Levels     map[string]LevelConfig
	}

	Persistence PersistenceConfig
	Export      ExportConfig
	Emitter     EmitterConfig
	Notify      NotifyConfig
	HTTP        HTTPConfig
}

var (
	globalMu       sync.RWMutex
	globalSettings *Settings
)

// Setting returns the process-wide Settings, initializing defaults on first call.
// Mirrors the teacher's conf.Setting() used throughout its logging/config glue.
func Setting() *Settings {
	globalMu.RLock()
	s := globalSettings
	globalMu.RUnlock()
	if s != nil {
		return s
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalSettings == nil {
		globalSettings = Defaults()
	}
	return globalSettings
}

// SetGlobal installs settings as the process-wide Settings, used once at
// startup after flags/config-file have been merged in.
func SetGlobal(s *Settings) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalSettings = s
}

// Load builds Settings from defaults, an optional YAML config file, and
// environment variables, with viper doing the merging exactly as the
// teacher's internal/conf does.
func Load(configPath string) (*Settings, error) {
	setDefaultConfig()

	v := viper.GetViper()
	v.SetEnvPrefix("VOICEAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	settings := Defaults()
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshalling configuration: %w", err)
	}

	if err := validate(settings); err != nil {
		return nil, err
	}

	SetGlobal(settings)
	return settings, nil
}

func validate(s *Settings) error {
	if s.AudioSource.SampleRate != 16000 {
		return fmt.Errorf("sample_rate %d unsupported: detector and ASR contracts require 16000", s.AudioSource.SampleRate)
	}
	if s.Scheduler.NumWorkers < 1 {
		return fmt.Errorf("num_workers must be >= 1")
	}
	if s.RingBuffer.Seconds <= int(s.Session.Timeout.Seconds()) {
		return fmt.Errorf("buffer_seconds (%d) must exceed session_timeout (%s) so a final request is never evicted", s.RingBuffer.Seconds, s.Session.Timeout)
	}
	return nil
}
