package orchestrator

import (
	"context"
	"time"

	"github.com/lokutor-ai/voice-tutor/pkg/audio"
	"github.com/lokutor-ai/voice-tutor/pkg/protocol"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// AudioSession is the part of [audio.Manager] the conversation drives.
type AudioSession interface {
	ConfigureForRecording() error
	ConfigureForPlayback() error
	RequestPermission(ctx context.Context) error
	Prime(ctx context.Context)
	// Format is assumed for headerless PCM assets.
	Format() audio.Format

	StartRecording(onSample func(amplitudeDb float64, isRecording bool), interval time.Duration) (audio.RecordingHandle, error)
	StopRecording(h audio.RecordingHandle) (audio.Recording, error)
	// Recording reports the active recording, if any.
	Recording() (audio.RecordingHandle, bool)

	Play(uri string) (audio.PlaybackHandle, error)
	PlayPCM(f audio.Format, pcm []byte) (audio.PlaybackHandle, error)
	OnComplete(h audio.PlaybackHandle, cb func()) error
	StopAll() error
}

// ResourceStore holds recorded utterances and received audio frames.
type ResourceStore = audio.ResourceStore

// VoiceParams selects the synthesized voice.
type VoiceParams struct {
	Voice    string
	Language string
	Speed    float64
}

// SpeechSynthesizer is the text-to-speech capability.
type SpeechSynthesizer interface {
	// Speak starts speaking text and returns without waiting for it to finish.
	Speak(text string, params VoiceParams) error

	// StopAll silences any ongoing or pending speech.
	StopAll()
}

// SpeechFailureReporter is implemented by synthesizers that fail after Speak
// returned. Failures of speech silenced by StopAll are not reported.
type SpeechFailureReporter interface {
	OnFailure(f func(error))
}

// Channel is an ordered duplex connection to the dialogue engine.
type Channel interface {
	// Connect starts connecting and returns without waiting. onMessage and
	// onAudio receive text and binary frames in arrival order; onClose reports
	// a closure the client did not ask for.
	Connect(ctx context.Context, onMessage, onAudio func([]byte), onClose func(error)) error

	// Ready reports whether Send may be used.
	Ready() bool

	// Send queues an event without waiting for delivery.
	Send(ev protocol.Event) error

	Close() error
}

// Dialer returns a fresh, unconnected Channel for each session.
type Dialer func() Channel

// LanguageMode is the language_mode value attached to outbound events.
type LanguageMode string

const (
	LanguageModeUrdu    LanguageMode = "urdu"
	LanguageModeEnglish LanguageMode = "english"
)
