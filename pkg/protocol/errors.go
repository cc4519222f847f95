package protocol

import "errors"

var (
	// ErrUnknownStep is returned for a step tag outside the closed Step set.
	ErrUnknownStep = errors.New("protocol: unknown step")

	// ErrMalformedMessage is returned when an inbound frame is not a step object.
	ErrMalformedMessage = errors.New("protocol: malformed message")
)
