// Package orchestrator runs a real-time voice tutoring conversation: it
// listens to the microphone, segments utterances, uploads them to the
// dialogue engine and sequences the engine's spoken replies through a fixed
// set of conversation phases.
//
// All session state is owned by a single event loop ([Orchestrator.Run]).
// Audio metering, timers, playback completion and channel traffic are
// delivered to it as events, and every event is handled under the lifecycle
// [Guard] so nothing happens once focus is lost.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/voice-tutor/pkg/audio"
	"github.com/lokutor-ai/voice-tutor/pkg/observe"
)

const (
	inboxSize  = 256
	eventsSize = 1024
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. *slog.Logger satisfies Logger.
func WithLogger(l Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records conversation metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator is the conversation state machine.
type Orchestrator struct {
	audio   AudioSession
	store   ResourceStore
	speech  SpeechSynthesizer
	dial    Dialer
	config  Config
	logger  Logger
	metrics *observe.Metrics

	guard *Guard
	seq   *Sequencer

	inbox   chan event
	events  chan OrchestratorEvent
	done    chan struct{}
	running atomic.Bool
	exited  atomic.Bool

	chMu    sync.Mutex
	channel Channel

	timerMu sync.Mutex
	timer   *time.Timer

	drillGen atomic.Uint64
	snap     atomic.Pointer[Snapshot]

	// Owned by the event loop.
	ctx      context.Context
	dead     Channel
	sess     *Session
	live     bool
	rec      recordingState
	trackGen uint64
}

type recordingState struct {
	active    bool
	gen       uint64
	handle    audio.RecordingHandle
	startedAt time.Time
	cal       *Calibrator
	seg       *Segmenter
}

// New creates an orchestrator. dial is called once per session for a fresh
// channel to the dialogue engine.
func New(a AudioSession, store ResourceStore, speech SpeechSynthesizer, dial Dialer, config Config, opts ...Option) (*Orchestrator, error) {
	if a == nil || store == nil || speech == nil || dial == nil {
		return nil, ErrNilDependency
	}
	o := &Orchestrator{
		audio:  a,
		store:  store,
		speech: speech,
		dial:   dial,
		config: config,
		logger: &NoOpLogger{},
		inbox:  make(chan event, inboxSize),
		events: make(chan OrchestratorEvent, eventsSize),
		done:   make(chan struct{}),
		guard:  NewGuard(),
		sess:   NewSession(""),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.seq = NewSequencer(a, speech, o.guard, config.Playback, o.logger)
	o.publish()
	return o, nil
}

// Run processes events until ctx is cancelled. It must be called exactly
// once. On return all resources are released and Events is closed.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("orchestrator: already running")
	}
	o.ctx = ctx
	defer func() {
		o.guard.Deactivate()
		o.release()
		if o.live {
			o.live = false
			o.metrics.SessionEnded(context.WithoutCancel(ctx))
		}
		close(o.done)
		close(o.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-o.inbox:
			o.dispatch(ev)
		}
	}
}

func (o *Orchestrator) dispatch(ev event) {
	if _, ok := ev.(evReset); ok {
		o.reset()
	} else if !o.guard.Run(func() { o.handle(ev) }) {
		o.logger.Debug("event dropped without focus", "event", fmt.Sprintf("%T", ev))
		if s, ok := ev.(evSessionStarted); ok {
			s.reply(ErrFocusLost)
		}
		return
	}
	o.publish()
}

// Start tears down any previous session and connects a new one. It blocks
// until the dialogue engine channel reports ready, ctx ends or the connect
// timeout passes. Run must be running. A channel that closes before the
// session goes live leaves the conversation in Error and returns ErrNotReady.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.guard.Deactivate()
	o.Teardown()
	o.exited.Store(false)
	o.guard.Activate()

	if err := o.audio.RequestPermission(ctx); err != nil {
		o.logger.Warn("microphone permission not granted", "err", err)
	}
	if o.config.Prime {
		o.audio.Prime(ctx)
	}

	ch := o.dial()
	if ch == nil {
		return fmt.Errorf("%w: dialer returned no channel", ErrNilDependency)
	}
	o.chMu.Lock()
	o.channel = ch
	o.chMu.Unlock()

	closed := make(chan error, 1)
	err := ch.Connect(ctx,
		func(data []byte) { o.postWait(evMessage{ch: ch, data: data}) },
		func(data []byte) { o.postWait(evAudio{ch: ch, data: data}) },
		func(err error) {
			select {
			case closed <- err:
			default:
			}
			o.post(evChannelClosed{ch: ch, err: err})
		},
	)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := o.awaitReady(ctx, ch, closed); err != nil {
		ch.Close()
		return err
	}

	select {
	case err := <-closed:
		ch.Close()
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	default:
	}

	id := uuid.NewString()
	o.logger.Info("dialogue engine connected", "session_id", id)
	result := make(chan error, 1)
	o.postWait(evSessionStarted{ch: ch, id: id, result: result})
	select {
	case err := <-result:
		if err != nil {
			ch.Close()
			return err
		}
		return nil
	case <-o.done:
		return ErrNotReady
	}
}

func (o *Orchestrator) awaitReady(ctx context.Context, ch Channel, closed <-chan error) error {
	timeout := o.config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	poll := o.config.ReadyPollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for !ch.Ready() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case err := <-closed:
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		case <-ticker.C:
		}
	}
	return nil
}

// AutoStart begins the conversation from Idle: the intro on the first call
// of a session, listening afterwards.
func (o *Orchestrator) AutoStart() {
	o.post(evAutoStart{})
}

// ManualStop ends the current recording immediately.
func (o *Orchestrator) ManualStop() {
	o.post(evManualStop{})
}

// SendText sends typed input to the dialogue engine instead of speech.
func (o *Orchestrator) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("orchestrator: empty text")
	}
	if !o.guard.Active() {
		return ErrFocusLost
	}
	o.post(evSendText{text: text})
	return nil
}

// FocusLost stops all conversation activity. When it returns no guarded
// work is running; resources are then released and the session reset to
// Idle. It must not be called from an event handler.
func (o *Orchestrator) FocusLost() {
	if o.guard.Deactivate() {
		o.logger.Info("focus lost", "session_id", o.Snapshot().SessionID)
	}
	o.Teardown()
}

// FocusGained starts a fresh session unless the conversation was exited.
func (o *Orchestrator) FocusGained(ctx context.Context) error {
	if o.exited.Load() {
		return nil
	}
	return o.Start(ctx)
}

// Exit ends the conversation for good. Only Start revives it.
func (o *Orchestrator) Exit() {
	o.exited.Store(true)
	o.guard.Deactivate()
	o.Teardown()
}

// Teardown cancels the silence timer, stops recording, playback and speech,
// closes the channel and resets the session to Idle. It is idempotent and
// safe to call concurrently.
func (o *Orchestrator) Teardown() {
	o.release()
	o.postWait(evReset{})
}

func (o *Orchestrator) release() {
	o.stopTimer()
	if h, ok := o.audio.Recording(); ok {
		if rec, err := o.audio.StopRecording(h); err == nil && rec.URI != "" {
			o.discard(rec.URI)
		}
	}
	o.seq.StopAll()

	o.chMu.Lock()
	ch := o.channel
	o.channel = nil
	o.chMu.Unlock()
	if ch != nil {
		if err := ch.Close(); err != nil {
			o.logger.Warn("failed to close channel", "err", err)
		}
	}

	if p, ok := o.store.(interface{ Purge() (int, error) }); ok {
		if n, err := p.Purge(); err != nil {
			o.logger.Warn("failed to purge audio cache", "err", err)
		} else if n > 0 {
			o.logger.Debug("purged audio cache", "files", n)
		}
	}
}

// Events delivers UI events. It is closed when Run returns. Control events
// wait for buffer space while the conversation holds focus; once focus is
// lost they are dropped instead, so FocusLost and Exit may be called from the
// goroutine that reads Events.
func (o *Orchestrator) Events() <-chan OrchestratorEvent {
	return o.events
}

// Snapshot returns a copy of the session as of the last handled event.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.snap.Load()
}

// Active reports whether the conversation holds focus.
func (o *Orchestrator) Active() bool {
	return o.guard.Active()
}

func (o *Orchestrator) GetConfig() Config {
	return o.config
}

func (o *Orchestrator) publish() {
	snap := o.sess.snapshot()
	o.snap.Store(&snap)
}

// post queues ev without blocking the caller. When the inbox is full the
// event is delivered from a new goroutine.
func (o *Orchestrator) post(ev event) {
	select {
	case o.inbox <- ev:
		return
	case <-o.done:
		return
	default:
	}
	go o.postWait(ev)
}

// postWait queues ev in order, blocking while the inbox is full. It must not
// be called from the event loop.
func (o *Orchestrator) postWait(ev event) {
	select {
	case o.inbox <- ev:
	case <-o.done:
	}
}

// postSample drops samples the loop cannot take right away.
func (o *Orchestrator) postSample(ev evSample) {
	select {
	case o.inbox <- ev:
	default:
	}
}

func (o *Orchestrator) currentChannel() Channel {
	o.chMu.Lock()
	defer o.chMu.Unlock()
	return o.channel
}

func (o *Orchestrator) armTimer(gen uint64, deadline time.Time) {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(time.Until(deadline), func() {
		o.post(evSilenceTimer{gen: gen})
	})
}

func (o *Orchestrator) stopTimer() {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

func (o *Orchestrator) discard(uri string) {
	if err := o.store.Discard(uri); err != nil {
		o.logger.Warn("failed to discard audio resource", "uri", uri, "err", err)
	}
}

func (o *Orchestrator) emit(t EventType, data interface{}) {
	ev := OrchestratorEvent{Type: t, SessionID: o.sess.ID, Data: data}
	if t == Level {
		select {
		case o.events <- ev:
		default:
		}
		return
	}
	select {
	case o.events <- ev:
		return
	default:
	}
	select {
	case o.events <- ev:
	case <-o.guard.Stopped():
		o.logger.Warn("event dropped after focus loss, events not drained", "type", string(t))
	case <-o.ctx.Done():
	}
}
