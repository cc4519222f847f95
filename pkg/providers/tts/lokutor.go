// Package tts speaks drill text through the Lokutor streaming synthesis API.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/voice-tutor/pkg/audio"
	"github.com/lokutor-ai/voice-tutor/pkg/orchestrator"
)

// ErrClosed is returned by Speak after Close.
var ErrClosed = errors.New("tts: speaker closed")

// Player renders synthesized PCM. *audio.Manager satisfies it.
type Player interface {
	PlayPCM(f audio.Format, pcm []byte) (audio.PlaybackHandle, error)
	OnComplete(h audio.PlaybackHandle, cb func()) error
	Stop(h audio.PlaybackHandle) error
}

// Option configures a LokutorSpeaker.
type Option func(*LokutorSpeaker)

// WithEndpoint overrides the API scheme and host, e.g. "ws", "127.0.0.1:8080".
func WithEndpoint(scheme, host string) Option {
	return func(s *LokutorSpeaker) {
		s.scheme = scheme
		s.host = host
	}
}

// WithFormat sets the PCM format the API returns. Defaults to 44.1 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(s *LokutorSpeaker) { s.format = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *LokutorSpeaker) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout bounds one synthesis request.
func WithTimeout(d time.Duration) Option {
	return func(s *LokutorSpeaker) { s.timeout = d }
}

// LokutorSpeaker is an [orchestrator.SpeechSynthesizer]. Speak returns as
// soon as the request is queued; requests are synthesized and played one
// after another in call order until StopAll drops them.
type LokutorSpeaker struct {
	apiKey  string
	host    string
	scheme  string
	format  audio.Format
	timeout time.Duration
	player  Player
	logger  *slog.Logger

	// connMu serialises requests on the shared connection.
	connMu sync.Mutex
	conn   *websocket.Conn

	mu        sync.Mutex
	cond      *sync.Cond
	gen       uint64
	queue     []request
	cancel    context.CancelFunc
	playing   audio.PlaybackHandle
	onFailure func(error)
	closed    bool
	started   bool
	wg        sync.WaitGroup
}

type request struct {
	gen    uint64
	text   string
	params orchestrator.VoiceParams
}

func NewLokutorSpeaker(apiKey string, player Player, opts ...Option) *LokutorSpeaker {
	s := &LokutorSpeaker{
		apiKey:  apiKey,
		host:    "api.lokutor.com",
		scheme:  "wss",
		format:  audio.Format{SampleRate: 44100, Channels: 1},
		timeout: 15 * time.Second,
		player:  player,
		logger:  slog.Default(),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnFailure registers f to receive synthesis and playback failures of
// queued requests. Requests dropped by StopAll are not reported. f runs on
// the speaker's worker goroutine.
func (s *LokutorSpeaker) OnFailure(f func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = f
}

// Speak queues text to be spoken after everything queued before it.
func (s *LokutorSpeaker) Speak(text string, params orchestrator.VoiceParams) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("tts: empty text")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.started {
		s.started = true
		s.wg.Add(1)
		go s.run()
	}
	s.queue = append(s.queue, request{gen: s.gen, text: text, params: params})
	s.cond.Signal()
	return nil
}

func (s *LokutorSpeaker) run() {
	defer s.wg.Done()
	for {
		req, ctx, cancel, ok := s.dequeue()
		if !ok {
			return
		}
		s.speak(ctx, req)
		cancel()
	}
}

func (s *LokutorSpeaker) dequeue() (request, context.Context, context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return request{}, nil, nil, false
	}
	req := s.queue[0]
	s.queue = s.queue[1:]
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return req, ctx, cancel, true
}

// speak synthesizes and plays one request, returning once playback ended or
// the request was stopped.
func (s *LokutorSpeaker) speak(ctx context.Context, req request) {
	synthCtx, cancel := context.WithTimeout(ctx, s.timeout)
	pcm, err := s.Synthesize(synthCtx, req.text, req.params)
	cancel()
	if err != nil {
		s.fail(req.gen, fmt.Errorf("synthesize %q: %w", req.text, err))
		return
	}

	s.mu.Lock()
	if req.gen != s.gen || len(pcm) == 0 {
		s.mu.Unlock()
		return
	}
	h, err := s.player.PlayPCM(s.format, pcm)
	if err != nil {
		s.mu.Unlock()
		s.fail(req.gen, fmt.Errorf("play %q: %w", req.text, err))
		return
	}
	s.playing = h
	s.mu.Unlock()

	done := make(chan struct{})
	if err := s.player.OnComplete(h, func() { close(done) }); err != nil {
		return
	}
	// Playback stopped by another owner never completes.
	limit := time.NewTimer(audio.PCMDuration(len(pcm), s.format) + time.Second)
	defer limit.Stop()
	select {
	case <-done:
	case <-ctx.Done():
	case <-limit.C:
	}

	s.mu.Lock()
	if s.playing == h {
		s.playing = 0
	}
	s.mu.Unlock()
}

func (s *LokutorSpeaker) fail(gen uint64, err error) {
	s.mu.Lock()
	current := gen == s.gen
	f := s.onFailure
	s.mu.Unlock()
	if !current {
		return
	}
	s.logger.Warn("speech failed", "err", err)
	if f != nil {
		f(err)
	}
}

// StopAll drops queued requests, cancels the one in progress and stops
// speech playback.
func (s *LokutorSpeaker) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.queue = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.playing != 0 {
		if err := s.player.Stop(s.playing); err != nil {
			s.logger.Warn("failed to stop speech", "err", err)
		}
		s.playing = 0
	}
}

func (s *LokutorSpeaker) getConn(ctx context.Context) (*websocket.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}

	u := url.URL{Scheme: s.scheme, Host: s.host, Path: "/ws", RawQuery: "api_key=" + url.QueryEscape(s.apiKey)}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lokutor: %w", err)
	}

	conn.SetReadLimit(10 * 1024 * 1024)

	s.conn = conn
	return conn, nil
}

// Synthesize returns the full PCM rendering of text.
func (s *LokutorSpeaker) Synthesize(ctx context.Context, text string, params orchestrator.VoiceParams) ([]byte, error) {
	var pcm []byte
	err := s.StreamSynthesize(ctx, text, params, func(chunk []byte) error {
		pcm = append(pcm, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pcm, nil
}

// StreamSynthesize sends one synthesis request and hands each binary frame
// to onChunk until the server sends EOS.
func (s *LokutorSpeaker) StreamSynthesize(ctx context.Context, text string, params orchestrator.VoiceParams, onChunk func([]byte) error) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	conn, err := s.getConn(ctx)
	if err != nil {
		return err
	}

	voice := params.Voice
	if voice == "" {
		voice = "F1"
	}
	lang := params.Language
	if lang == "" {
		lang = "en"
	}
	speed := params.Speed
	if speed <= 0 {
		speed = 1.0
	}
	req := map[string]interface{}{
		"text":    text,
		"voice":   voice,
		"lang":    lang,
		"speed":   speed,
		"steps":   6,
		"visemes": false,
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		s.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			s.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("failed to read from lokutor: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if strings.HasPrefix(msg, "ERR:") {
				return fmt.Errorf("lokutor error: %s", msg)
			}
		}
	}
}

func (s *LokutorSpeaker) Name() string {
	return "lokutor"
}

// Close stops speech, waits for background requests and closes the
// connection.
func (s *LokutorSpeaker) Close() error {
	s.StopAll()
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		err := s.conn.Close(websocket.StatusNormalClosure, "")
		s.conn = nil
		return err
	}
	return nil
}

var (
	_ orchestrator.SpeechSynthesizer     = (*LokutorSpeaker)(nil)
	_ orchestrator.SpeechFailureReporter = (*LokutorSpeaker)(nil)
)
