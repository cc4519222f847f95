package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lokutor-ai/voice-tutor/pkg/orchestrator"
)

// Environment variables read by [LoadEnv].
const (
	EnvLokutorAPIKey = "LOKUTOR_API_KEY"
	EnvEngineURL     = "TUTOR_ENGINE_URL"
	EnvLanguageMode  = "TUTOR_LANGUAGE_MODE"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads the given .env files (".env" when none are given; missing
// files are fine) and applies the environment overrides to cfg. Variables
// already set in the process environment win over .env files.
func LoadEnv(cfg *Config, files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load env: %w", err)
	}

	if v := os.Getenv(EnvLokutorAPIKey); v != "" {
		cfg.LokutorAPIKey = v
	}
	if v := os.Getenv(EnvEngineURL); v != "" {
		cfg.Engine.URL = v
	}
	if v := os.Getenv(EnvLanguageMode); v != "" {
		cfg.Engine.LanguageMode = v
	}
	return Validate(cfg)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Engine
	if cfg.Engine.URL != "" {
		u, err := url.Parse(cfg.Engine.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, fmt.Errorf("engine.url %q must be a ws:// or wss:// URL", cfg.Engine.URL))
		}
	}
	switch orchestrator.LanguageMode(cfg.Engine.LanguageMode) {
	case "", orchestrator.LanguageModeUrdu, orchestrator.LanguageModeEnglish:
	default:
		errs = append(errs, fmt.Errorf("engine.language_mode %q is invalid; valid values: urdu, english", cfg.Engine.LanguageMode))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"engine.connect_timeout", cfg.Engine.ConnectTimeout},
		{"engine.ready_poll_interval", cfg.Engine.ReadyPollInterval},
		{"audio.sample_interval", cfg.Audio.SampleInterval},
		{"vad.calibration_window", cfg.VAD.CalibrationWindow},
		{"vad.probe_window", cfg.VAD.ProbeWindow},
		{"vad.fallback_timeout", cfg.VAD.FallbackTimeout},
		{"segmenter.initial_silence_timeout", cfg.Segmenter.InitialSilenceTimeout},
		{"segmenter.speech_silence_timeout", cfg.Segmenter.SpeechSilenceTimeout},
		{"segmenter.min_speech_duration", cfg.Segmenter.MinSpeechDuration},
		{"playback.chunk_budget", cfg.Playback.ChunkBudget},
		{"playback.poll_interval", cfg.Playback.PollInterval},
		{"playback.chunk_pause", cfg.Playback.ChunkPause},
	}
	for _, d := range durations {
		if d.d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}

	// VAD
	if cfg.VAD.OffsetDB != nil && *cfg.VAD.OffsetDB < 0 {
		errs = append(errs, fmt.Errorf("vad.offset_db %.1f must not be negative", *cfg.VAD.OffsetDB))
	}
	if cfg.VAD.CalibrationWindow > 0 && cfg.VAD.ProbeWindow > 0 && cfg.VAD.ProbeWindow < cfg.VAD.CalibrationWindow {
		errs = append(errs, fmt.Errorf("vad.probe_window %s is shorter than vad.calibration_window %s", cfg.VAD.ProbeWindow, cfg.VAD.CalibrationWindow))
	}

	// Playback
	if cfg.Playback.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("playback.chunk_size %d must not be negative", cfg.Playback.ChunkSize))
	}
	if cfg.Playback.Voice != "" && !slices.Contains(orchestrator.Voices, cfg.Playback.Voice) {
		errs = append(errs, fmt.Errorf("playback.voice %q is invalid; valid values: F1-F5, M1-M5", cfg.Playback.Voice))
	}
	if cfg.Playback.Speed != 0 && (cfg.Playback.Speed < 0.5 || cfg.Playback.Speed > 2.0) {
		errs = append(errs, fmt.Errorf("playback.speed %.2f is out of range [0.5, 2.0]", cfg.Playback.Speed))
	}

	return errors.Join(errs...)
}

// Orchestrator converts cfg into an [orchestrator.Config], reading the intro
// and retry assets from disk.
func (c *Config) Orchestrator() (orchestrator.Config, error) {
	oc := orchestrator.DefaultConfig()
	oc.AutoStart = c.AutoStart

	if c.Engine.LanguageMode != "" {
		oc.LanguageMode = orchestrator.LanguageMode(c.Engine.LanguageMode)
	}
	setDuration(&oc.ConnectTimeout, c.Engine.ConnectTimeout)
	setDuration(&oc.ReadyPollInterval, c.Engine.ReadyPollInterval)

	setDuration(&oc.SampleInterval, c.Audio.SampleInterval)
	if c.Audio.Prime != nil {
		oc.Prime = *c.Audio.Prime
	}

	cal := &oc.Calibration
	if c.VAD.Calibrate != nil {
		cal.Enabled = *c.VAD.Calibrate
	}
	setDuration(&cal.Window, c.VAD.CalibrationWindow)
	setFloat(&cal.OffsetDB, c.VAD.OffsetDB)
	setFloat(&cal.MinThresholdDB, c.VAD.MinThresholdDB)
	setFloat(&cal.DefaultThresholdDB, c.VAD.DefaultThresholdDB)
	setDuration(&cal.ProbeWindow, c.VAD.ProbeWindow)
	setFloat(&cal.NoiseFloorDB, c.VAD.NoiseFloorDB)
	setDuration(&cal.FallbackTimeout, c.VAD.FallbackTimeout)

	setDuration(&oc.Segmenter.InitialSilenceTimeout, c.Segmenter.InitialSilenceTimeout)
	setDuration(&oc.Segmenter.SpeechSilenceTimeout, c.Segmenter.SpeechSilenceTimeout)
	setDuration(&oc.Segmenter.MinSpeechDuration, c.Segmenter.MinSpeechDuration)

	pb := &oc.Playback
	if c.Playback.ChunkSize > 0 {
		pb.ChunkSize = c.Playback.ChunkSize
	}
	setDuration(&pb.ChunkBudget, c.Playback.ChunkBudget)
	setDuration(&pb.PollInterval, c.Playback.PollInterval)
	setDuration(&pb.ChunkPause, c.Playback.ChunkPause)
	if c.Playback.Voice != "" {
		pb.Voice.Voice = c.Playback.Voice
	}
	if c.Playback.SpeechLanguage != "" {
		pb.Voice.Language = c.Playback.SpeechLanguage
	}
	if c.Playback.Speed != 0 {
		pb.Voice.Speed = c.Playback.Speed
	}

	var err error
	if oc.IntroAudio, err = readAsset("playback.intro_path", c.Playback.IntroPath); err != nil {
		return orchestrator.Config{}, err
	}
	if oc.RetryAudio, err = readAsset("playback.retry_path", c.Playback.RetryPath); err != nil {
		return orchestrator.Config{}, err
	}
	return oc, nil
}

func setDuration[T ~int64](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func readAsset(name, path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", name, err)
	}
	return data, nil
}
