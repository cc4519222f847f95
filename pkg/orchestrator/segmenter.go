package orchestrator

import "time"

// SegmentState is the per-recording utterance state.
type SegmentState int

const (
	AwaitingSpeech SegmentState = iota
	InSpeech
)

func (s SegmentState) String() string {
	if s == InSpeech {
		return "in_speech"
	}
	return "awaiting_speech"
}

// Utterance is the outcome of one recording.
type Utterance struct {
	// StoppedBySilence is false when the user stopped the recording.
	StoppedBySilence bool

	// Valid is set when the voiced span reaches the minimum speech duration.
	Valid bool

	// Voiced is the span from the first to the last voice sample.
	Voiced time.Duration

	// SpeechStarted reports whether any voice sample was seen.
	SpeechStarted bool
}

// Segmenter decides when an utterance ends. It owns the silence deadline of
// one recording; the caller runs a single timer and calls Expire when it
// fires. Not safe for concurrent use.
type Segmenter struct {
	cfg SegmenterConfig

	state           SegmentState
	speechStartedAt time.Time
	lastVoiceAt     time.Time
	deadline        time.Time
	fallback        bool
	done            bool
}

// NewSegmenter starts segmenting a recording that began at started.
func NewSegmenter(cfg SegmenterConfig, started time.Time) *Segmenter {
	return &Segmenter{
		cfg:      cfg,
		deadline: started.Add(cfg.InitialSilenceTimeout),
	}
}

// Observe feeds one classified sample. Voice moves the deadline out;
// silence lets it count down.
func (s *Segmenter) Observe(a Activity, now time.Time) {
	if s.done || s.fallback || a != Voice {
		return
	}
	if s.state == AwaitingSpeech {
		s.state = InSpeech
		s.speechStartedAt = now
	}
	s.lastVoiceAt = now
	s.deadline = now.Add(s.timeout())
}

func (s *Segmenter) timeout() time.Duration {
	if s.state == InSpeech {
		return s.cfg.SpeechSilenceTimeout
	}
	return s.cfg.InitialSilenceTimeout
}

// ArmFallback stops amplitude-based detection after metering was found to be
// broken. The recording is assumed to hold speech from started on and ends
// unconditionally at now+timeout.
func (s *Segmenter) ArmFallback(started, now time.Time, timeout time.Duration) {
	if s.done || s.fallback {
		return
	}
	s.fallback = true
	if s.state == AwaitingSpeech {
		s.state = InSpeech
		s.speechStartedAt = started
	}
	s.deadline = now.Add(timeout)
}

// Deadline returns when the utterance ends absent further voice.
func (s *Segmenter) Deadline() time.Time { return s.deadline }

func (s *Segmenter) State() SegmentState { return s.state }

// Fallback reports whether the fallback deadline is armed.
func (s *Segmenter) Fallback() bool { return s.fallback }

// Expire completes the utterance if now is at or past the deadline.
// Otherwise it returns false and the caller rearms its timer for Deadline.
func (s *Segmenter) Expire(now time.Time) (Utterance, bool) {
	if s.done || now.Before(s.deadline) {
		return Utterance{}, false
	}
	return s.complete(now, true), true
}

// Stop completes the utterance immediately on a manual stop.
func (s *Segmenter) Stop(now time.Time) (Utterance, bool) {
	if s.done {
		return Utterance{}, false
	}
	return s.complete(now, false), true
}

func (s *Segmenter) complete(now time.Time, bySilence bool) Utterance {
	s.done = true
	u := Utterance{StoppedBySilence: bySilence}
	if s.state != InSpeech {
		return u
	}
	u.SpeechStarted = true

	end := s.lastVoiceAt
	if s.fallback {
		end = now
	}
	if end.Before(s.speechStartedAt) {
		end = s.speechStartedAt
	}
	u.Voiced = end.Sub(s.speechStartedAt)
	u.Valid = u.Voiced >= s.cfg.MinSpeechDuration
	return u
}
