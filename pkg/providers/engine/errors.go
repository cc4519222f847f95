package engine

import "errors"

var (
	// ErrNotConnected is returned by Send before the connection is ready.
	ErrNotConnected = errors.New("engine: channel not connected")

	// ErrClosed is returned after the channel was closed.
	ErrClosed = errors.New("engine: channel closed")

	// ErrOutboxFull is returned when the write queue cannot take another event.
	ErrOutboxFull = errors.New("engine: outbox full")
)
