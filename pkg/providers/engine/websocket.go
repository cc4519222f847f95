// Package engine connects to the remote dialogue engine over a single
// websocket. Text frames carry step messages, binary frames carry audio.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/voice-tutor/pkg/protocol"
)

const (
	defaultOutboxSize  = 32
	defaultReadLimit   = 16 * 1024 * 1024
	defaultDialTimeout = 10 * time.Second
)

// Option configures a WebSocketChannel.
type Option func(*WebSocketChannel)

// WithHeader sets HTTP headers sent with the upgrade request.
func WithHeader(h http.Header) Option {
	return func(c *WebSocketChannel) {
		c.header = h
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *WebSocketChannel) {
		c.logger = l
	}
}

// WithDialTimeout bounds the connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *WebSocketChannel) {
		c.dialTimeout = d
	}
}

// WithOutboxSize sets how many events may wait for the writer.
func WithOutboxSize(n int) Option {
	return func(c *WebSocketChannel) {
		c.outboxSize = n
	}
}

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// WebSocketChannel is an ordered duplex channel to the dialogue engine. It
// never reconnects: once the connection drops the channel is finished and
// onClose is reported.
type WebSocketChannel struct {
	url         string
	header      http.Header
	logger      *slog.Logger
	dialTimeout time.Duration
	outboxSize  int

	ready  atomic.Bool
	closed atomic.Bool

	mu      sync.Mutex
	started bool
	conn    *websocket.Conn
	outbox  chan frame
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWebSocketChannel creates a channel for the given ws:// or wss:// URL.
func NewWebSocketChannel(url string, opts ...Option) *WebSocketChannel {
	c := &WebSocketChannel{
		url:         url,
		logger:      slog.Default(),
		dialTimeout: defaultDialTimeout,
		outboxSize:  defaultOutboxSize,
	}
	for _, o := range opts {
		o(c)
	}
	c.outbox = make(chan frame, c.outboxSize)
	c.done = make(chan struct{})
	return c
}

// Connect starts dialing in the background and returns immediately. Callers
// poll Ready before sending. onMessage receives text frames, onAudio binary
// frames, both in arrival order on a single goroutine. onClose is called once
// when the connection fails or the engine closes it; it is not called after a
// local Close.
func (c *WebSocketChannel) Connect(ctx context.Context, onMessage, onAudio func([]byte), onClose func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if c.started {
		return errors.New("engine: already connected")
	}
	c.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	go c.run(runCtx, onMessage, onAudio, onClose)
	return nil
}

func (c *WebSocketChannel) run(ctx context.Context, onMessage, onAudio func([]byte), onClose func(error)) {
	defer close(c.done)

	dialCtx, cancelDial := context.WithTimeout(ctx, c.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{HTTPHeader: c.header})
	cancelDial()
	if err != nil {
		c.finish(onClose, fmt.Errorf("engine: dial: %w", err))
		return
	}
	conn.SetReadLimit(defaultReadLimit)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	if c.closed.Load() {
		conn.CloseNow()
		return
	}
	c.ready.Store(true)
	c.logger.Info("engine channel connected", "url", c.url)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx, conn, onMessage, onAudio) })
	g.Go(func() error { return c.writeLoop(gctx, conn) })
	err = g.Wait()

	c.ready.Store(false)
	conn.CloseNow()
	c.finish(onClose, err)
}

func (c *WebSocketChannel) finish(onClose func(error), err error) {
	if c.closed.Swap(true) {
		return
	}
	c.ready.Store(false)
	c.logger.Warn("engine channel closed", "err", err)
	if onClose != nil {
		onClose(err)
	}
}

func (c *WebSocketChannel) readLoop(ctx context.Context, conn *websocket.Conn, onMessage, onAudio func([]byte)) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				return fmt.Errorf("engine: closed by peer (%d): %w", status, err)
			}
			return fmt.Errorf("engine: read: %w", err)
		}
		switch typ {
		case websocket.MessageText:
			if onMessage != nil {
				onMessage(data)
			}
		case websocket.MessageBinary:
			if onAudio != nil {
				onAudio(data)
			}
		}
	}
}

func (c *WebSocketChannel) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-c.outbox:
			if err := conn.Write(ctx, f.typ, f.data); err != nil {
				return fmt.Errorf("engine: write: %w", err)
			}
		}
	}
}

// Ready reports whether the connection is open for sending.
func (c *WebSocketChannel) Ready() bool {
	return c.ready.Load()
}

// Send queues an event for the writer. It never waits for the network.
func (c *WebSocketChannel) Send(ev protocol.Event) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.ready.Load() {
		return ErrNotConnected
	}
	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("engine: encode: %w", err)
	}
	select {
	case c.outbox <- frame{typ: websocket.MessageText, data: data}:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Close shuts the connection down without reporting onClose. It never
// blocks on the network and is safe to call more than once from any
// goroutine.
func (c *WebSocketChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.ready.Store(false)

	c.mu.Lock()
	conn, cancel := c.conn, c.cancel
	c.mu.Unlock()

	switch {
	case conn != nil:
		go func() {
			conn.Close(websocket.StatusNormalClosure, "session ended")
			cancel()
		}()
	case cancel != nil:
		cancel()
	}
	return nil
}

// Done is closed once the connection goroutines have exited. It never closes
// for a channel that was not connected.
func (c *WebSocketChannel) Done() <-chan struct{} {
	return c.done
}
