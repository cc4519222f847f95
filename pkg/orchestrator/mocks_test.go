package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/voice-tutor/pkg/audio"
	"github.com/lokutor-ai/voice-tutor/pkg/protocol"
)

// ---- fakes ----

type MockStore struct {
	mu   sync.Mutex
	next int
	data map[string][]byte
}

func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string][]byte)}
}

func (s *MockStore) Put(data []byte, ext string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	uri := fmt.Sprintf("mem://res-%d%s", s.next, ext)
	s.data[uri] = append([]byte(nil), data...)
	return uri, nil
}

func (s *MockStore) Take(uri string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[uri]
	if !ok {
		return nil, errors.New("not found")
	}
	delete(s.data, uri)
	return d, nil
}

func (s *MockStore) Discard(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, uri)
	return nil
}

func (s *MockStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

type MockAudio struct {
	mu    sync.Mutex
	store *MockStore

	recordErr  error
	recordData []byte
	playErr    error

	recHandle audio.RecordingHandle
	recording bool
	onSample  func(float64, bool)
	starts    int
	stops     int

	nextPlay  audio.PlaybackHandle
	callbacks map[audio.PlaybackHandle]func()
	played    []string
	stopAlls  int
}

func NewMockAudio(store *MockStore) *MockAudio {
	return &MockAudio{
		store:      store,
		recordData: []byte("RIFFrecorded"),
		callbacks:  make(map[audio.PlaybackHandle]func()),
	}
}

func (a *MockAudio) ConfigureForRecording() error { return nil }

func (a *MockAudio) ConfigureForPlayback() error { return nil }

func (a *MockAudio) RequestPermission(context.Context) error { return nil }

func (a *MockAudio) Prime(context.Context) {}

func (a *MockAudio) Format() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1}
}

func (a *MockAudio) StartRecording(onSample func(float64, bool), _ time.Duration) (audio.RecordingHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recordErr != nil {
		return 0, a.recordErr
	}
	if a.recording {
		return 0, audio.ErrDeviceBusy
	}
	a.recHandle++
	a.recording = true
	a.onSample = onSample
	a.starts++
	return a.recHandle, nil
}

func (a *MockAudio) StopRecording(h audio.RecordingHandle) (audio.Recording, error) {
	a.mu.Lock()
	if !a.recording || h != a.recHandle {
		a.mu.Unlock()
		return audio.Recording{}, audio.ErrUnknownHandle
	}
	a.recording = false
	a.onSample = nil
	a.stops++
	data := a.recordData
	a.mu.Unlock()

	uri, _ := a.store.Put(data, ".wav")
	return audio.Recording{Handle: h, URI: uri, Bytes: len(data)}, nil
}

func (a *MockAudio) Recording() (audio.RecordingHandle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recHandle, a.recording
}

func (a *MockAudio) Play(uri string) (audio.PlaybackHandle, error) {
	if _, err := a.store.Take(uri); err != nil {
		return 0, err
	}
	return a.startPlayback(uri)
}

func (a *MockAudio) PlayPCM(_ audio.Format, pcm []byte) (audio.PlaybackHandle, error) {
	return a.startPlayback(fmt.Sprintf("pcm:%d", len(pcm)))
}

func (a *MockAudio) startPlayback(name string) (audio.PlaybackHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.playErr != nil {
		return 0, a.playErr
	}
	a.nextPlay++
	a.played = append(a.played, name)
	return a.nextPlay, nil
}

func (a *MockAudio) OnComplete(h audio.PlaybackHandle, cb func()) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks[h] = cb
	return nil
}

func (a *MockAudio) StopAll() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopAlls++
	return nil
}

// Complete fires the completion callback of playback h.
func (a *MockAudio) Complete(h audio.PlaybackHandle) {
	a.mu.Lock()
	cb := a.callbacks[h]
	delete(a.callbacks, h)
	a.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Finish completes the most recent playback.
func (a *MockAudio) Finish() {
	a.mu.Lock()
	h := a.nextPlay
	a.mu.Unlock()
	a.Complete(h)
}

// Sample delivers one meter reading to the active recording.
func (a *MockAudio) Sample(db float64) {
	a.mu.Lock()
	cb := a.onSample
	a.mu.Unlock()
	if cb != nil {
		cb(db, true)
	}
}

func (a *MockAudio) Played() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.played...)
}

func (a *MockAudio) Starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts
}

func (a *MockAudio) IsRecording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recording
}

type MockSpeech struct {
	mu       sync.Mutex
	speakErr error
	spoken   []string
	voices   []VoiceParams
	stopAlls int
}

func (s *MockSpeech) Speak(text string, params VoiceParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speakErr != nil {
		return s.speakErr
	}
	s.spoken = append(s.spoken, text)
	s.voices = append(s.voices, params)
	return nil
}

func (s *MockSpeech) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAlls++
}

func (s *MockSpeech) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type MockChannel struct {
	mu         sync.Mutex
	connectErr error
	ready      bool
	closed     int
	sent       []protocol.Event

	// dropOnReady closes the connection from the server side the first time
	// Ready would report true.
	dropOnReady bool

	onMessage func([]byte)
	onAudio   func([]byte)
	onClose   func(error)
}

func (c *MockChannel) Connect(_ context.Context, onMessage, onAudio func([]byte), onClose func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.onMessage, c.onAudio, c.onClose = onMessage, onAudio, onClose
	c.ready = true
	return nil
}

func (c *MockChannel) Ready() bool {
	c.mu.Lock()
	ready := c.ready && c.closed == 0
	drop := ready && c.dropOnReady
	c.dropOnReady = false
	c.mu.Unlock()
	if drop {
		c.Drop(io.EOF)
	}
	return ready
}

func (c *MockChannel) Send(ev protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return errors.New("channel closed")
	}
	c.sent = append(c.sent, ev)
	return nil
}

func (c *MockChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// Message delivers an inbound text frame.
func (c *MockChannel) Message(s string) {
	c.mu.Lock()
	cb := c.onMessage
	c.mu.Unlock()
	cb([]byte(s))
}

// Audio delivers an inbound binary frame.
func (c *MockChannel) Audio(data []byte) {
	c.mu.Lock()
	cb := c.onAudio
	c.mu.Unlock()
	cb(data)
}

// Drop simulates the server closing the connection.
func (c *MockChannel) Drop(err error) {
	c.mu.Lock()
	cb := c.onClose
	c.ready = false
	c.mu.Unlock()
	cb(err)
}

func (c *MockChannel) Sent() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Event(nil), c.sent...)
}

func (c *MockChannel) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var (
	_ AudioSession      = (*MockAudio)(nil)
	_ ResourceStore     = (*MockStore)(nil)
	_ SpeechSynthesizer = (*MockSpeech)(nil)
	_ Channel           = (*MockChannel)(nil)
)

// ---- harness ----

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Prime = false
	cfg.ReadyPollInterval = 5 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.Calibration.Enabled = false
	cfg.Segmenter.MinSpeechDuration = 0
	cfg.Playback.ChunkBudget = time.Millisecond
	cfg.Playback.ChunkPause = time.Millisecond
	cfg.Playback.PollInterval = time.Millisecond
	return cfg
}

type harness struct {
	t      *testing.T
	orch   *Orchestrator
	store  *MockStore
	audio  *MockAudio
	speech *MockSpeech

	mu       sync.Mutex
	channels []*MockChannel
	events   []OrchestratorEvent

	// dialed, when set, adjusts each new channel before it connects.
	dialed func(*MockChannel)
}

func newHarness(t *testing.T, configure func(*Config), opts ...Option) *harness {
	t.Helper()
	cfg := testConfig()
	if configure != nil {
		configure(&cfg)
	}

	h := &harness{t: t, store: NewMockStore(), speech: &MockSpeech{}}
	h.audio = NewMockAudio(h.store)
	dial := func() Channel {
		h.mu.Lock()
		defer h.mu.Unlock()
		ch := &MockChannel{}
		if h.dialed != nil {
			h.dialed(ch)
		}
		h.channels = append(h.channels, ch)
		return ch
	}

	orch, err := New(h.audio, h.store, h.speech, dial, cfg, opts...)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	h.orch = orch

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Run(ctx)
	}()
	go func() {
		for ev := range orch.Events() {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// start connects a session and waits until it is live.
func (h *harness) start() {
	h.t.Helper()
	prev := h.orch.Snapshot().SessionID
	if err := h.orch.Start(context.Background()); err != nil {
		h.t.Fatalf("Expected no error, got %v", err)
	}
	waitFor(h.t, "session to start", func() bool {
		s := h.orch.Snapshot()
		return s.SessionID != "" && s.SessionID != prev && s.Phase == PhaseIdle
	})
}

func (h *harness) channel() *MockChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.channels) == 0 {
		h.t.Fatal("Expected a dialed channel")
	}
	return h.channels[len(h.channels)-1]
}

func (h *harness) dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

func (h *harness) countEvents(t EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ev := range h.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (h *harness) waitPhase(p Phase) {
	h.t.Helper()
	waitFor(h.t, "phase "+p.String(), func() bool {
		return h.orch.Snapshot().Phase == p
	})
}

// toProcessing moves a live session into Processing with typed input.
func (h *harness) toProcessing() {
	h.t.Helper()
	if err := h.orch.SendText("hello"); err != nil {
		h.t.Fatalf("Expected no error, got %v", err)
	}
	h.waitPhase(PhaseProcessing)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func sentTypes(evs []protocol.Event) string {
	var names []string
	for _, ev := range evs {
		names = append(names, fmt.Sprintf("%T", ev))
	}
	return strings.Join(names, ",")
}
