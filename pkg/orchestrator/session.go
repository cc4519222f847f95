package orchestrator

import (
	"slices"
	"time"
)

// TranscriptEntry is one line of the conversation log.
type TranscriptEntry struct {
	Text      string    `json:"text"`
	Speaker   Speaker   `json:"speaker"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingSentence is the sentence of a queued or running pronunciation drill.
type PendingSentence struct {
	Source      string   `json:"source"`
	Translation string   `json:"translation"`
	Words       []string `json:"words"`
}

// Session is the live conversation. It is owned by the orchestrator's event
// loop and never touched from other goroutines; readers use Snapshot.
type Session struct {
	ID string

	Phase      Phase
	Transcript []TranscriptEntry
	LastStop   StopReason
	Pending    *PendingSentence

	// Speaking is the reason for the current Speaking phase.
	Speaking SpeakingContext

	// Awaiting is the context the next audio frame belongs to while Idle.
	Awaiting SpeakingContext

	// SuppressAutoListen skips the next automatic return to Listening.
	SuppressAutoListen bool

	IntroPlayed bool
}

func NewSession(id string) *Session {
	return &Session{ID: id}
}

func (s *Session) appendTranscript(text string, speaker Speaker, at time.Time) TranscriptEntry {
	e := TranscriptEntry{Text: text, Speaker: speaker, Timestamp: at}
	s.Transcript = append(s.Transcript, e)
	return e
}

// Snapshot is an immutable copy of a Session.
type Snapshot struct {
	SessionID  string
	Phase      Phase
	Transcript []TranscriptEntry
	LastStop   StopReason
	Pending    *PendingSentence
	Speaking   SpeakingContext
	Awaiting   SpeakingContext
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		SessionID:  s.ID,
		Phase:      s.Phase,
		Transcript: slices.Clone(s.Transcript),
		LastStop:   s.LastStop,
		Speaking:   s.Speaking,
		Awaiting:   s.Awaiting,
	}
	if s.Pending != nil {
		p := *s.Pending
		p.Words = slices.Clone(p.Words)
		snap.Pending = &p
	}
	return snap
}
