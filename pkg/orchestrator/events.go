package orchestrator

// EventType tags events delivered to the UI.
type EventType string

const (
	PhaseChanged       EventType = "PHASE_CHANGED"
	TranscriptAppended EventType = "TRANSCRIPT_APPENDED"
	NoSpeechDetected   EventType = "NO_SPEECH_DETECTED"
	WordProgressed     EventType = "WORD_PROGRESS"
	SessionError       EventType = "SESSION_ERROR"
	// Level carries the latest amplitude in dB (float64). Level events are
	// dropped when the consumer falls behind.
	Level EventType = "LEVEL"
)

// PhaseChange is the payload of PhaseChanged.
type PhaseChange struct {
	From Phase
	To   Phase
}

type OrchestratorEvent struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

// loop events

type event interface{ isEvent() }

type evSessionStarted struct {
	ch     Channel
	id     string
	result chan error
}

// reply reports whether the session went live. result is buffered.
func (e evSessionStarted) reply(err error) {
	if e.result != nil {
		e.result <- err
	}
}

type evReset struct{}

type evAutoStart struct{}

type evManualStop struct{}

type evSendText struct{ text string }

type evSample struct {
	gen       uint64
	db        float64
	recording bool
}

type evSilenceTimer struct{ gen uint64 }

type evMessage struct {
	ch   Channel
	data []byte
}

type evAudio struct {
	ch   Channel
	data []byte
}

type evChannelClosed struct {
	ch  Channel
	err error
}

type evTrackDone struct {
	gen  uint64
	kind TrackKind
	err  error
}

type evWordProgress struct {
	gen uint64
	p   WordProgress
}

type evWordByWordDone struct {
	gen uint64
	err error
}

type evPermission struct{ granted bool }

func (evSessionStarted) isEvent() {}
func (evReset) isEvent()          {}
func (evAutoStart) isEvent()      {}
func (evManualStop) isEvent()     {}
func (evSendText) isEvent()       {}
func (evSample) isEvent()         {}
func (evSilenceTimer) isEvent()   {}
func (evMessage) isEvent()        {}
func (evAudio) isEvent()          {}
func (evChannelClosed) isEvent()  {}
func (evTrackDone) isEvent()      {}
func (evWordProgress) isEvent()   {}
func (evWordByWordDone) isEvent() {}
func (evPermission) isEvent()     {}
