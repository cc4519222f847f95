package orchestrator

import "time"

// CalibrationConfig tunes the adaptive voice threshold.
type CalibrationConfig struct {
	// Enabled turns calibration on. Platforms whose raw metering is reliable
	// classify against DefaultThresholdDB for the whole recording.
	Enabled bool

	// Window is how long after recording start the peak level is tracked.
	Window time.Duration

	OffsetDB       float64
	MinThresholdDB float64

	// DefaultThresholdDB is used until calibration completes.
	DefaultThresholdDB float64

	// ProbeWindow is how long to wait for any level above NoiseFloorDB
	// before metering is considered broken.
	ProbeWindow  time.Duration
	NoiseFloorDB float64

	// FallbackTimeout ends the recording unconditionally once metering is
	// considered broken.
	FallbackTimeout time.Duration
}

// SegmenterConfig holds the dialogue-tuning silence policy.
type SegmenterConfig struct {
	// InitialSilenceTimeout applies while the user has not started talking.
	InitialSilenceTimeout time.Duration

	// SpeechSilenceTimeout applies once speech has begun.
	SpeechSilenceTimeout time.Duration

	// MinSpeechDuration is the shortest voiced span forwarded for upload.
	MinSpeechDuration time.Duration
}

// PlaybackConfig paces the word-by-word drill.
type PlaybackConfig struct {
	ChunkSize    int
	ChunkBudget  time.Duration
	PollInterval time.Duration
	ChunkPause   time.Duration
	Voice        VoiceParams
}

type Config struct {
	LanguageMode LanguageMode

	// SampleInterval is the amplitude metering period.
	SampleInterval time.Duration

	// ReadyPollInterval is how often Start checks channel readiness.
	ReadyPollInterval time.Duration
	ConnectTimeout    time.Duration

	// Prime runs the throwaway priming recording on the first Start.
	Prime bool

	// AutoStart begins the conversation as soon as a session is connected.
	AutoStart bool

	// IntroAudio and RetryAudio are local WAV or PCM assets. Empty assets
	// count as played.
	IntroAudio []byte
	RetryAudio []byte

	Calibration CalibrationConfig
	Segmenter   SegmenterConfig
	Playback    PlaybackConfig
}

func DefaultConfig() Config {
	return Config{
		LanguageMode:      LanguageModeUrdu,
		SampleInterval:    100 * time.Millisecond,
		ReadyPollInterval: 100 * time.Millisecond,
		ConnectTimeout:    10 * time.Second,
		Prime:             true,
		Calibration: CalibrationConfig{
			Enabled:            true,
			Window:             1000 * time.Millisecond,
			OffsetDB:           20,
			MinThresholdDB:     -90,
			DefaultThresholdDB: -40,
			ProbeWindow:        2000 * time.Millisecond,
			NoiseFloorDB:       -160,
			FallbackTimeout:    3000 * time.Millisecond,
		},
		Segmenter: SegmenterConfig{
			InitialSilenceTimeout: 5 * time.Second,
			SpeechSilenceTimeout:  1500 * time.Millisecond,
			MinSpeechDuration:     500 * time.Millisecond,
		},
		Playback: PlaybackConfig{
			ChunkSize:    2,
			ChunkBudget:  1000 * time.Millisecond,
			PollInterval: 100 * time.Millisecond,
			ChunkPause:   300 * time.Millisecond,
			Voice:        VoiceParams{Language: "en", Speed: 0.8},
		},
	}
}
