package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/voice-tutor/pkg/audio"
)

// Track is one playback on the speaker.
type Track struct {
	Kind TrackKind

	// URI names a read-once resource in the store.
	URI string

	// Data is an in-memory WAV or PCM asset, used when URI is empty.
	Data []byte
}

// WordProgress reports a chunk of the word-by-word drill being spoken.
type WordProgress struct {
	Index int
	Total int
	Text  string
}

// Chunk splits words into groups of size; the last group may be shorter.
// Blank words are dropped.
func Chunk(words []string, size int) [][]string {
	if size <= 0 {
		size = 2
	}
	var clean []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			clean = append(clean, w)
		}
	}
	var chunks [][]string
	for len(clean) > 0 {
		n := min(size, len(clean))
		chunks = append(chunks, clean[:n:n])
		clean = clean[n:]
	}
	return chunks
}

// Sequencer owns ordered, cancellable playback: at most one track or speech
// drill is active, and starting one stops whatever was playing.
type Sequencer struct {
	audio  AudioSession
	speech SpeechSynthesizer
	guard  *Guard
	cfg    PlaybackConfig
	logger Logger

	// mu orders Speak calls against StopAll.
	mu      sync.Mutex
	gen     uint64
	failGen uint64
	failErr error

	wait func(d time.Duration, stale func() bool) bool
}

func NewSequencer(a AudioSession, speech SpeechSynthesizer, guard *Guard, cfg PlaybackConfig, logger Logger) *Sequencer {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	s := &Sequencer{
		audio:  a,
		speech: speech,
		guard:  guard,
		cfg:    cfg,
		logger: logger,
	}
	s.wait = s.pollWait
	if r, ok := speech.(SpeechFailureReporter); ok {
		r.OnFailure(s.speechFailed)
	}
	return s
}

// PlayTrack stops the active track and starts t. onDone runs once when t
// finishes naturally; it never runs for a track that was replaced or
// stopped. A returned error wraps ErrPlaybackFailed and means onDone will not
// run.
func (s *Sequencer) PlayTrack(t Track, onDone func(error)) error {
	gen := s.next()
	s.stopActive()

	if err := s.audio.ConfigureForPlayback(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPlaybackFailed, t.Kind, err)
	}

	var (
		h   audio.PlaybackHandle
		err error
	)
	switch {
	case t.URI != "":
		h, err = s.audio.Play(t.URI)
	case len(t.Data) > 0:
		h, err = s.playAsset(t.Data)
	default:
		err = errors.New("empty track")
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPlaybackFailed, t.Kind, err)
	}

	err = s.audio.OnComplete(h, func() {
		if s.current(gen) && onDone != nil {
			onDone(nil)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPlaybackFailed, t.Kind, err)
	}
	s.logger.Debug("track started", "kind", t.Kind.String())
	return nil
}

func (s *Sequencer) playAsset(data []byte) (audio.PlaybackHandle, error) {
	if audio.IsWav(data) {
		f, pcm, err := audio.DecodeWav(data)
		if err != nil {
			return 0, err
		}
		return s.audio.PlayPCM(f, pcm)
	}
	return s.audio.PlayPCM(s.audio.Format(), data)
}

// SpeakWordByWord speaks words in chunks, pausing ChunkBudget after each
// chunk and ChunkPause between chunks. Waits poll for cancellation every
// PollInterval; cancelled may be nil. onDone runs once on natural completion,
// or with an error wrapping ErrPlaybackFailed when synthesis fails. It does
// not run when the drill is cancelled, stopped or replaced.
func (s *Sequencer) SpeakWordByWord(words []string, onProgress func(WordProgress), cancelled func() bool, onDone func(error)) {
	chunks := Chunk(words, s.cfg.ChunkSize)
	gen := s.next()
	s.stopActive()
	if err := s.audio.ConfigureForPlayback(); err != nil {
		s.logger.Warn("failed to configure playback for drill", "err", err)
	}

	stale := func() bool {
		return !s.guard.Active() || !s.current(gen) || (cancelled != nil && cancelled())
	}
	go s.drill(gen, chunks, stale, onProgress, onDone)
}

func (s *Sequencer) drill(gen uint64, chunks [][]string, stale func() bool, onProgress func(WordProgress), onDone func(error)) {
	fail := func(i int, err error) {
		s.logger.Warn("word-by-word synthesis failed", "chunk", i, "err", err)
		if !stale() && onDone != nil {
			onDone(fmt.Errorf("%w: %s: %v", ErrPlaybackFailed, TrackSpeechSynthesis, err))
		}
	}
	halted := func() bool {
		return stale() || s.failure(gen) != nil
	}

	for i, chunk := range chunks {
		if stale() {
			return
		}
		text := strings.Join(chunk, " ")
		spoke, err := s.speakChunk(gen, text)
		if !spoke {
			return
		}
		if err != nil {
			fail(i, err)
			return
		}
		if onProgress != nil {
			onProgress(WordProgress{Index: i, Total: len(chunks), Text: text})
		}

		if !s.wait(s.cfg.ChunkBudget, halted) || (i < len(chunks)-1 && !s.wait(s.cfg.ChunkPause, halted)) {
			if err := s.failure(gen); err != nil {
				fail(i, err)
			}
			return
		}
		if err := s.failure(gen); err != nil {
			fail(i, err)
			return
		}
	}
	if !stale() && onDone != nil {
		onDone(nil)
	}
}

// speechFailed records a failure reported after Speak returned against the
// drill that is current.
func (s *Sequencer) speechFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGen, s.failErr = s.gen, err
}

func (s *Sequencer) failure(gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGen != gen {
		return nil
	}
	return s.failErr
}

// speakChunk reports false when the drill was cancelled before speaking.
func (s *Sequencer) speakChunk(gen uint64, text string) (bool, error) {
	var (
		spoke bool
		err   error
	)
	s.guard.Run(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			return
		}
		spoke = true
		err = s.speech.Speak(text, s.cfg.Voice)
	})
	return spoke, err
}

func (s *Sequencer) pollWait(d time.Duration, stale func() bool) bool {
	poll := s.cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := time.Now().Add(d)
	for {
		if stale() {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		time.Sleep(min(poll, remaining))
	}
}

// SetVoice changes the synthesis voice for chunks spoken from now on.
func (s *Sequencer) SetVoice(v VoiceParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Voice = v
}

// Voice returns the current synthesis voice.
func (s *Sequencer) Voice() VoiceParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Voice
}

// StopAll cancels the active drill and stops speech and playback.
func (s *Sequencer) StopAll() {
	s.next()
	s.stopActive()
}

func (s *Sequencer) stopActive() {
	s.speech.StopAll()
	if err := s.audio.StopAll(); err != nil {
		s.logger.Warn("failed to stop playback", "err", err)
	}
}

func (s *Sequencer) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

func (s *Sequencer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}
