package orchestrator

import "errors"

var (
	// ErrSessionError is reported when the session enters the terminal error phase.
	ErrSessionError = errors.New("conversation session failed")

	// ErrNotReady is returned when the dialogue engine channel never became ready.
	ErrNotReady = errors.New("dialogue engine channel not ready")

	// ErrPlaybackFailed wraps synthesis and playback failures of a single track.
	ErrPlaybackFailed = errors.New("playback failed")

	// ErrNilDependency is returned when a required collaborator is nil.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrFocusLost is returned by operations attempted without foreground focus.
	ErrFocusLost = errors.New("conversation does not hold focus")
)
