package orchestrator

// Phase is the canonical conversation phase. Exactly one is active.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseProcessing
	PhaseSpeaking
	PhasePlayingIntro
	PhasePlayingAwaitNext
	PhasePlayingRetry
	PhasePlayingFeedback
	PhaseWordByWord
	PhasePlayingYouSaid
	PhaseEnglishEdgeCase
	PhaseError
)

var phaseNames = [...]string{
	PhaseIdle:             "idle",
	PhaseListening:        "listening",
	PhaseProcessing:       "processing",
	PhaseSpeaking:         "speaking",
	PhasePlayingIntro:     "playing_intro",
	PhasePlayingAwaitNext: "playing_await_next",
	PhasePlayingRetry:     "playing_retry",
	PhasePlayingFeedback:  "playing_feedback",
	PhaseWordByWord:       "word_by_word",
	PhasePlayingYouSaid:   "playing_you_said",
	PhaseEnglishEdgeCase:  "english_edge_case",
	PhaseError:            "error",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// StopReason records how the last recording ended.
type StopReason int

const (
	StopNone StopReason = iota
	StopSilenceTimeout
	StopManual
)

func (r StopReason) String() string {
	switch r {
	case StopSilenceTimeout:
		return "silence_timeout"
	case StopManual:
		return "manual_stop"
	default:
		return "none"
	}
}

// TrackKind names what a playback track is for.
type TrackKind int

const (
	TrackIntro TrackKind = iota
	TrackRetry
	TrackFeedbackAwaiting
	TrackAwaitNext
	TrackYouSaid
	TrackEnglishEdgeCase
	TrackGeneric
	TrackSpeechSynthesis
)

func (k TrackKind) String() string {
	switch k {
	case TrackIntro:
		return "intro"
	case TrackRetry:
		return "retry"
	case TrackFeedbackAwaiting:
		return "feedback_awaiting"
	case TrackAwaitNext:
		return "await_next"
	case TrackYouSaid:
		return "you_said"
	case TrackEnglishEdgeCase:
		return "english_edge_case"
	case TrackGeneric:
		return "generic"
	case TrackSpeechSynthesis:
		return "speech_synthesis"
	default:
		return "unknown"
	}
}

// SpeakingContext remembers why the AI started speaking, which decides the
// transition taken when playback ends.
type SpeakingContext int

const (
	ContextNone SpeakingContext = iota
	ContextFeedback
	ContextYouSaid
	ContextAwaitNext
	ContextEnglishEdgeCase
	ContextGeneric
)

func (c SpeakingContext) String() string {
	switch c {
	case ContextFeedback:
		return "feedback"
	case ContextYouSaid:
		return "you_said"
	case ContextAwaitNext:
		return "await_next"
	case ContextEnglishEdgeCase:
		return "english_edge_case"
	case ContextGeneric:
		return "generic"
	default:
		return "none"
	}
}

// track returns the playback track kind used for audio in this context.
func (c SpeakingContext) track() TrackKind {
	switch c {
	case ContextFeedback:
		return TrackFeedbackAwaiting
	case ContextYouSaid:
		return TrackYouSaid
	case ContextAwaitNext:
		return TrackAwaitNext
	case ContextEnglishEdgeCase:
		return TrackEnglishEdgeCase
	default:
		return TrackGeneric
	}
}

type Speaker int

const (
	SpeakerAI Speaker = iota
	SpeakerUser
)

func (s Speaker) String() string {
	if s == SpeakerUser {
		return "user"
	}
	return "ai"
}
