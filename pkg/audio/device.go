package audio

import "context"

// Mode is the shared audio session mode. Mobile and desktop audio stacks
// route the microphone and speaker differently depending on it.
type Mode int

const (
	ModeIdle Mode = iota
	ModeRecord
	ModePlayback
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRecord:
		return "record"
	case ModePlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// Stream is an open capture or playback stream on a Device.
type Stream interface {
	// Close stops the stream and releases the hardware. Calling Close more
	// than once is safe.
	Close() error
}

// Device is the hardware backend brokered by [Manager]. No other component
// talks to a Device directly.
type Device interface {
	// SetMode switches the audio session between recording and playback.
	// Returns an error when the platform refuses the mode.
	SetMode(mode Mode) error

	// StartCapture opens the microphone. onFrame receives little-endian 16-bit
	// PCM in format f and may be invoked on a driver thread; it must not block.
	StartCapture(f Format, onFrame func(pcm []byte)) (Stream, error)

	// StartPlayback renders pcm and invokes onDrained exactly once after the
	// last sample was played, unless the stream was closed first. onDrained
	// must be dispatched off the driver thread.
	StartPlayback(f Format, pcm []byte, onDrained func()) (Stream, error)
}

// Permissions is the microphone permission primitive of the host platform.
type Permissions interface {
	// Granted reports whether microphone access is currently allowed.
	Granted() bool

	// Request prompts the user. It returns false when the user declines.
	Request(ctx context.Context) (bool, error)
}

// AlwaysGranted is a [Permissions] for platforms without a permission model.
type AlwaysGranted struct{}

func (AlwaysGranted) Granted() bool { return true }

func (AlwaysGranted) Request(context.Context) (bool, error) { return true, nil }

var _ Permissions = AlwaysGranted{}

// ResourceStore persists recorded and received audio as named resources.
type ResourceStore interface {
	// Put stores data and returns its resource URI.
	Put(data []byte, ext string) (string, error)

	// Take reads the resource and removes it (read-once).
	Take(uri string) ([]byte, error)

	// Discard removes the resource without reading it.
	Discard(uri string) error
}
