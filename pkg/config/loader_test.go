package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lokutor-ai/voice-tutor/pkg/config"
	"github.com/lokutor-ai/voice-tutor/pkg/orchestrator"
)

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	yaml := `
log_level: debug
auto_start: true
engine:
  url: wss://tutor.example.com/ws
  language_mode: english
  connect_timeout: 5s
audio:
  sample_rate: 16000
  sample_interval: 50ms
  prime: false
vad:
  calibrate: false
  default_threshold_db: -35
  offset_db: 0
segmenter:
  initial_silence_timeout: 4s
  speech_silence_timeout: 1200ms
  min_speech_duration: 300ms
playback:
  chunk_size: 3
  chunk_pause: 250ms
  voice: M2
  speed: 0.9
metrics:
  listen_addr: ":9090"
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != config.LogDebug || cfg.Metrics.ListenAddr != ":9090" {
		t.Errorf("unexpected top-level values: %+v", cfg)
	}

	oc, err := cfg.Orchestrator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oc.LanguageMode != orchestrator.LanguageModeEnglish {
		t.Errorf("expected english, got %s", oc.LanguageMode)
	}
	if !oc.AutoStart || oc.Prime {
		t.Errorf("expected auto_start on and prime off, got %v/%v", oc.AutoStart, oc.Prime)
	}
	if oc.ConnectTimeout != 5*time.Second || oc.SampleInterval != 50*time.Millisecond {
		t.Errorf("unexpected timing: %v %v", oc.ConnectTimeout, oc.SampleInterval)
	}
	if oc.Calibration.Enabled || oc.Calibration.DefaultThresholdDB != -35 || oc.Calibration.OffsetDB != 0 {
		t.Errorf("unexpected calibration: %+v", oc.Calibration)
	}
	if oc.Calibration.Window != time.Second {
		t.Errorf("expected default calibration window, got %v", oc.Calibration.Window)
	}
	if oc.Segmenter.SpeechSilenceTimeout != 1200*time.Millisecond || oc.Segmenter.MinSpeechDuration != 300*time.Millisecond {
		t.Errorf("unexpected segmenter: %+v", oc.Segmenter)
	}
	if oc.Playback.ChunkSize != 3 || oc.Playback.ChunkPause != 250*time.Millisecond || oc.Playback.ChunkBudget != time.Second {
		t.Errorf("unexpected playback: %+v", oc.Playback)
	}
	if oc.Playback.Voice.Voice != "M2" || oc.Playback.Voice.Speed != 0.9 || oc.Playback.Voice.Language != "en" {
		t.Errorf("unexpected voice: %+v", oc.Playback.Voice)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oc, err := cfg.Orchestrator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := orchestrator.DefaultConfig()
	if oc.Segmenter != def.Segmenter || oc.Calibration != def.Calibration {
		t.Errorf("expected defaults, got %+v", oc)
	}
	if oc.IntroAudio != nil || oc.RetryAudio != nil {
		t.Error("expected no assets")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("engine:\n  adress: wss://x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
log_level: loud
engine:
  url: http://tutor.example.com
  language_mode: french
segmenter:
  speech_silence_timeout: -1s
playback:
  chunk_size: -1
  voice: Z9
  speed: 3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"log_level", "engine.url", "engine.language_mode", "speech_silence_timeout", "chunk_size", "playback.voice", "playback.speed"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoad_ReadsAssets(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	intro := filepath.Join(dir, "intro.wav")
	if err := os.WriteFile(intro, []byte("RIFFintro"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "tutor.yaml")
	body := "playback:\n  intro_path: " + intro + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oc, err := cfg.Orchestrator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(oc.IntroAudio) != "RIFFintro" {
		t.Errorf("expected intro asset, got %q", oc.IntroAudio)
	}

	cfg.Playback.RetryPath = filepath.Join(dir, "missing.wav")
	if _, err := cfg.Orchestrator(); err == nil || !strings.Contains(err.Error(), "retry_path") {
		t.Errorf("expected retry_path error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv(config.EnvLokutorAPIKey, "")
	os.Unsetenv(config.EnvLokutorAPIKey)
	t.Setenv(config.EnvEngineURL, "ws://127.0.0.1:8080/ws")
	t.Setenv(config.EnvLanguageMode, "")

	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("LOKUTOR_API_KEY=from-file\nTUTOR_ENGINE_URL=wss://ignored/ws\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	if err := config.LoadEnv(cfg, envFile); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LokutorAPIKey != "from-file" {
		t.Errorf("expected key from .env, got %q", cfg.LokutorAPIKey)
	}
	if cfg.Engine.URL != "ws://127.0.0.1:8080/ws" {
		t.Errorf("expected process env to win, got %q", cfg.Engine.URL)
	}
}

func TestLoadEnv_MissingFileIsFine(t *testing.T) {
	t.Setenv(config.EnvLanguageMode, "klingon")

	cfg := &config.Config{}
	err := config.LoadEnv(cfg, filepath.Join(t.TempDir(), ".env"))
	if err == nil || !strings.Contains(err.Error(), "language_mode") {
		t.Errorf("expected language_mode validation error, got %v", err)
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	if !config.LogWarn.IsValid() || config.LogLevel("trace").IsValid() {
		t.Error("unexpected IsValid result")
	}
	if config.LogLevel("").Slog().String() != "INFO" {
		t.Errorf("expected INFO for unset level, got %s", config.LogLevel("").Slog())
	}
}
