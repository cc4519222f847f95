package protocol

import (
	"encoding/base64"
	"encoding/json"
)

// Outbound event types.
const (
	TypeWordByWordComplete = "word_by_word_complete"
	TypeFeedbackComplete   = "feedback_complete"
	TypeYouSaidComplete    = "you_said_complete"
)

// Event is an outbound client message.
type Event interface {
	// Encode returns the JSON text frame.
	Encode() ([]byte, error)
}

// Upload carries one recorded utterance.
type Upload struct {
	AudioBase64  string `json:"audio_base64"`
	Filename     string `json:"filename"`
	LanguageMode string `json:"language_mode"`
}

// NewUpload base64-encodes audio.
func NewUpload(audio []byte, filename, languageMode string) Upload {
	return Upload{
		AudioBase64:  base64.StdEncoding.EncodeToString(audio),
		Filename:     filename,
		LanguageMode: languageMode,
	}
}

func (u Upload) Encode() ([]byte, error) { return json.Marshal(u) }

// WordByWordComplete reports that a pronunciation drill finished.
type WordByWordComplete struct {
	Sentence     string
	LanguageMode string
}

func (e WordByWordComplete) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Type         string `json:"type"`
		Sentence     string `json:"sentence"`
		LanguageMode string `json:"language_mode"`
	}{TypeWordByWordComplete, e.Sentence, e.LanguageMode})
}

// FeedbackComplete reports that feedback audio finished playing.
type FeedbackComplete struct {
	LanguageMode string
}

func (e FeedbackComplete) Encode() ([]byte, error) {
	return encodeTyped(TypeFeedbackComplete, e.LanguageMode)
}

// YouSaidComplete reports that the "you said" playback finished.
type YouSaidComplete struct {
	LanguageMode string
}

func (e YouSaidComplete) Encode() ([]byte, error) {
	return encodeTyped(TypeYouSaidComplete, e.LanguageMode)
}

// Text is the manual text input path. It is sent as a plain text frame.
type Text string

func (t Text) Encode() ([]byte, error) { return []byte(t), nil }

func encodeTyped(typ, languageMode string) ([]byte, error) {
	return json.Marshal(struct {
		Type         string `json:"type"`
		LanguageMode string `json:"language_mode"`
	}{typ, languageMode})
}

var (
	_ Event = Upload{}
	_ Event = WordByWordComplete{}
	_ Event = FeedbackComplete{}
	_ Event = YouSaidComplete{}
	_ Event = Text("")
)
