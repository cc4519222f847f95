package audio

import "errors"

var (
	// ErrAudioConfig is returned when the platform refuses the requested
	// record/playback mode (e.g. another app holds exclusive audio focus).
	ErrAudioConfig = errors.New("audio mode configuration denied")

	// ErrPermissionDenied is returned when microphone permission is missing
	// or the user declined the permission request.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceBusy is returned when a recording is already active.
	ErrDeviceBusy = errors.New("recording device busy")

	// ErrUnknownHandle is returned for playback handles the manager never issued
	ErrUnknownHandle = errors.New("unknown audio handle")

	// ErrInvalidWAV is returned when a resource does not carry a PCM16 WAV payload.
	ErrInvalidWAV = errors.New("invalid wav data")
)
