// Package config provides the configuration schema and loader for the voice
// tutor client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a slog level. Unset means info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration. It is typically loaded from a YAML file
// using [Load] or [LoadFromReader]; zero values fall back to the tutoring
// defaults.
type Config struct {
	LogLevel LogLevel `yaml:"log_level"`

	// AutoStart begins each session with the intro and listening.
	AutoStart bool `yaml:"auto_start"`

	Engine    EngineConfig    `yaml:"engine"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// LokutorAPIKey is read from the environment only; see [LoadEnv].
	LokutorAPIKey string `yaml:"-"`
}

// EngineConfig locates the dialogue engine.
type EngineConfig struct {
	// URL is the websocket endpoint, e.g. "wss://tutor.example.com/ws".
	URL string `yaml:"url"`

	// LanguageMode is "urdu" or "english".
	LanguageMode string `yaml:"language_mode"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReadyPollInterval time.Duration `yaml:"ready_poll_interval"`
}

// AudioConfig holds device and resource settings.
type AudioConfig struct {
	SampleRate     int           `yaml:"sample_rate"`
	SampleInterval time.Duration `yaml:"sample_interval"`

	// CacheDir holds recorded and received audio. Empty means a directory
	// under the OS temp dir.
	CacheDir string `yaml:"cache_dir"`

	// Prime runs a throwaway recording on the first session. Defaults to true.
	Prime *bool `yaml:"prime"`
}

// VADConfig tunes voice activity detection. dB values are pointers so that
// an explicit 0 can be told apart from unset.
type VADConfig struct {
	Calibrate          *bool         `yaml:"calibrate"`
	CalibrationWindow  time.Duration `yaml:"calibration_window"`
	OffsetDB           *float64      `yaml:"offset_db"`
	MinThresholdDB     *float64      `yaml:"min_threshold_db"`
	DefaultThresholdDB *float64      `yaml:"default_threshold_db"`
	ProbeWindow        time.Duration `yaml:"probe_window"`
	NoiseFloorDB       *float64      `yaml:"noise_floor_db"`
	FallbackTimeout    time.Duration `yaml:"fallback_timeout"`
}

type SegmenterConfig struct {
	InitialSilenceTimeout time.Duration `yaml:"initial_silence_timeout"`
	SpeechSilenceTimeout  time.Duration `yaml:"speech_silence_timeout"`
	MinSpeechDuration     time.Duration `yaml:"min_speech_duration"`
}

// PlaybackConfig paces the word-by-word drill and names the local assets.
type PlaybackConfig struct {
	ChunkSize    int           `yaml:"chunk_size"`
	ChunkBudget  time.Duration `yaml:"chunk_budget"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ChunkPause   time.Duration `yaml:"chunk_pause"`

	// IntroPath and RetryPath are WAV files played for the intro and retry
	// steps. Empty paths play nothing.
	IntroPath string `yaml:"intro_path"`
	RetryPath string `yaml:"retry_path"`

	// Voice is a synthesis voice, F1-F5 or M1-M5.
	Voice          string  `yaml:"voice"`
	SpeechLanguage string  `yaml:"speech_language"`
	Speed          float64 `yaml:"speed"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics, e.g. ":9090". Empty disables it.
	ListenAddr string `yaml:"listen_addr"`
}
