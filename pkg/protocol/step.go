// Package protocol defines the message shapes exchanged with the remote
// dialogue engine: inbound step messages and outbound client events.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Step tags the phase of the tutoring dialogue the engine wants next.
// The set is closed; ParseStep rejects anything else.
type Step string

const (
	StepNoSpeech             Step = "no_speech"
	StepRetry                Step = "retry"
	StepAwaitNext            Step = "await_next"
	StepFeedback             Step = "feedback_step"
	StepYouSaidAudio         Step = "you_said_audio"
	StepRepeatPrompt         Step = "repeat_prompt"
	StepWordByWord           Step = "word_by_word"
	StepFullSentenceAudio    Step = "full_sentence_audio"
	StepEnglishInputEdgeCase Step = "english_input_edge_case"
)

// Steps lists every known step in protocol order.
var Steps = []Step{
	StepNoSpeech,
	StepRetry,
	StepAwaitNext,
	StepFeedback,
	StepYouSaidAudio,
	StepRepeatPrompt,
	StepWordByWord,
	StepFullSentenceAudio,
	StepEnglishInputEdgeCase,
}

// ParseStep validates a raw step tag.
func ParseStep(s string) (Step, error) {
	for _, step := range Steps {
		if string(step) == s {
			return step, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStep, s)
}

// StepMessage is an inbound structured message. Optional fields are empty
// when absent.
type StepMessage struct {
	Step            Step     `json:"step"`
	Response        string   `json:"response,omitempty"`
	EnglishSentence string   `json:"english_sentence,omitempty"`
	UrduSentence    string   `json:"urdu_sentence,omitempty"`
	Words           []string `json:"words,omitempty"`
}

// DecodeStep parses an inbound text frame. Unknown step tags return the
// partially decoded message together with an error wrapping ErrUnknownStep so
// callers can log the tag.
func DecodeStep(data []byte) (StepMessage, error) {
	var raw struct {
		Step            *string  `json:"step"`
		Response        string   `json:"response"`
		EnglishSentence string   `json:"english_sentence"`
		UrduSentence    string   `json:"urdu_sentence"`
		Words           []string `json:"words"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return StepMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if raw.Step == nil {
		return StepMessage{}, fmt.Errorf("%w: missing step", ErrMalformedMessage)
	}

	msg := StepMessage{
		Step:            Step(*raw.Step),
		Response:        raw.Response,
		EnglishSentence: raw.EnglishSentence,
		UrduSentence:    raw.UrduSentence,
		Words:           raw.Words,
	}
	if _, err := ParseStep(*raw.Step); err != nil {
		return msg, err
	}
	return msg, nil
}
