// Package audio owns the device audio session: record/playback mode, the
// microphone, amplitude metering and playback of audio resources.
//
// [Manager] is the only component that touches the hardware. It enforces at
// most one active recording and at most one active playback, makes
// StopRecording idempotent and guarantees that a playback completion callback
// fires exactly once, or never when the playback was stopped.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultSampleInterval = 100 * time.Millisecond

// RecordingHandle identifies one recording session.
type RecordingHandle uint64

// PlaybackHandle identifies one playback.
type PlaybackHandle uint64

// Recording is the result of a stopped recording.
type Recording struct {
	Handle RecordingHandle

	// URI names the WAV resource in the ResourceStore. Empty when nothing
	// could be persisted.
	URI string

	// Duration is the length of the captured audio.
	Duration time.Duration

	// Bytes is the size of the captured PCM payload.
	Bytes int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithFormat sets the capture format and the format assumed for headerless
// playback payloads. Defaults to 16 kHz mono.
func WithFormat(f Format) Option {
	return func(m *Manager) {
		m.format = f
	}
}

// WithPermissions sets the permission primitive. Defaults to [AlwaysGranted].
func WithPermissions(p Permissions) Option {
	return func(m *Manager) {
		m.perms = p
	}
}

// Manager brokers the microphone and speaker. It is safe for concurrent use.
type Manager struct {
	device Device
	store  ResourceStore
	perms  Permissions
	format Format
	logger *slog.Logger

	mu         sync.Mutex
	mode       Mode
	nextHandle uint64
	rec        *recording
	lastRec    *recording
	active     *playback
	playbacks  map[PlaybackHandle]*playback

	primeOnce sync.Once
}

// NewManager creates a Manager on top of device, persisting recordings and
// reading playback resources through store.
func NewManager(device Device, store ResourceStore, opts ...Option) *Manager {
	m := &Manager{
		device:    device,
		store:     store,
		perms:     AlwaysGranted{},
		format:    Format{SampleRate: 16000, Channels: 1},
		logger:    slog.Default(),
		playbacks: make(map[PlaybackHandle]*playback),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Format returns the capture format.
func (m *Manager) Format() Format {
	return m.format
}

// ConfigureForRecording switches the session to record mode. It is a no-op
// when already in record mode. Any in-flight playback is stopped without
// firing its completion.
func (m *Manager) ConfigureForRecording() error {
	m.mu.Lock()
	if m.mode == ModeRecord {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.device.SetMode(ModeRecord); err != nil {
		return fmt.Errorf("%w: record mode: %v", ErrAudioConfig, err)
	}

	m.mu.Lock()
	m.mode = ModeRecord
	p := m.active
	m.mu.Unlock()

	if p != nil {
		m.stopPlayback(p)
	}
	return nil
}

// ConfigureForPlayback switches the session to playback mode. It is a no-op
// when already in playback mode.
func (m *Manager) ConfigureForPlayback() error {
	m.mu.Lock()
	if m.mode == ModePlayback {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.device.SetMode(ModePlayback); err != nil {
		return fmt.Errorf("%w: playback mode: %v", ErrAudioConfig, err)
	}

	m.mu.Lock()
	m.mode = ModePlayback
	m.mu.Unlock()
	return nil
}

// Mode returns the current session mode.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// RequestPermission asks for microphone access if it is not granted yet.
func (m *Manager) RequestPermission(ctx context.Context) error {
	if m.perms.Granted() {
		return nil
	}
	ok, err := m.perms.Request(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// ---- recording ----

type recording struct {
	handle    RecordingHandle
	startedAt time.Time

	mu      sync.Mutex
	stream  Stream
	pcm     bytes.Buffer
	metered int

	stop chan struct{}
	done chan struct{}

	finish sync.Once
	result Recording
	err    error
}

func (r *recording) write(pcm []byte) {
	r.mu.Lock()
	r.pcm.Write(pcm)
	r.mu.Unlock()
}

// level returns the level of the PCM captured since the previous call.
func (r *recording) level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := r.pcm.Bytes()
	if r.metered >= len(data) {
		return SilenceFloorDB
	}
	lvl := LevelDB(data[r.metered:])
	r.metered = len(data)
	return lvl
}

func (r *recording) meter(onSample func(amplitudeDb float64, isRecording bool), interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			if onSample != nil {
				onSample(r.level(), false)
			}
			return
		case <-ticker.C:
			if onSample != nil {
				onSample(r.level(), true)
			}
		}
	}
}

// StartRecording opens the microphone and starts metering. onSample receives
// the level of the audio captured during each interval, in dBFS; it is
// called with isRecording=false once after the recording stops. onSample
// runs on the metering goroutine and must not block.
func (m *Manager) StartRecording(onSample func(amplitudeDb float64, isRecording bool), interval time.Duration) (RecordingHandle, error) {
	if !m.perms.Granted() {
		return 0, ErrPermissionDenied
	}
	if interval <= 0 {
		interval = defaultSampleInterval
	}

	m.mu.Lock()
	if m.rec != nil {
		m.mu.Unlock()
		return 0, ErrDeviceBusy
	}
	m.nextHandle++
	r := &recording{
		handle:    RecordingHandle(m.nextHandle),
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.rec = r
	m.mu.Unlock()

	go r.meter(onSample, interval)

	stream, err := m.device.StartCapture(m.format, r.write)
	if err != nil {
		m.mu.Lock()
		if m.rec == r {
			m.rec = nil
		}
		m.mu.Unlock()
		r.finish.Do(func() {
			close(r.stop)
			<-r.done
		})
		return 0, fmt.Errorf("start capture: %w", err)
	}

	r.mu.Lock()
	select {
	case <-r.stop:
		// Stopped by a concurrent StopRecording before the stream was ready.
		r.mu.Unlock()
		_ = stream.Close()
		return r.handle, nil
	default:
	}
	r.stream = stream
	r.mu.Unlock()

	m.logger.Debug("recording started", "handle", r.handle)
	return r.handle, nil
}

// StopRecording stops the recording identified by h and persists it as a WAV
// resource. Calling it again for the same handle returns the same result and
// a nil error. Unknown handles return the zero Recording and nil.
func (m *Manager) StopRecording(h RecordingHandle) (Recording, error) {
	m.mu.Lock()
	var r *recording
	switch {
	case m.rec != nil && m.rec.handle == h:
		r = m.rec
		m.rec = nil
		m.lastRec = r
	case m.lastRec != nil && m.lastRec.handle == h:
		r = m.lastRec
	}
	m.mu.Unlock()

	if r == nil {
		return Recording{}, nil
	}

	var err error
	r.finish.Do(func() {
		r.err = m.finalize(r)
		err = r.err
	})
	return r.result, err
}

func (m *Manager) finalize(r *recording) error {
	close(r.stop)
	<-r.done

	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	pcm := make([]byte, r.pcm.Len())
	copy(pcm, r.pcm.Bytes())
	r.mu.Unlock()

	r.result = Recording{
		Handle:   r.handle,
		Duration: PCMDuration(len(pcm), m.format),
		Bytes:    len(pcm),
	}

	var closeErr error
	if stream != nil {
		closeErr = stream.Close()
	}

	uri, err := m.store.Put(NewWavBuffer(pcm, m.format.SampleRate), ".wav")
	if err != nil {
		return fmt.Errorf("persist recording: %w", err)
	}
	r.result.URI = uri

	m.logger.Debug("recording stopped", "handle", r.handle, "duration", r.result.Duration)
	if closeErr != nil {
		return fmt.Errorf("close capture: %w", closeErr)
	}
	return nil
}

// Recording reports the handle of the active recording, if any.
func (m *Manager) Recording() (RecordingHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return 0, false
	}
	return m.rec.handle, true
}

// Prime performs a throwaway near-zero-length recording to flush platform
// audio-buffer artifacts before the first real recording. It runs at most
// once per Manager; failures are logged and swallowed.
func (m *Manager) Prime(ctx context.Context) {
	m.primeOnce.Do(func() {
		if !m.perms.Granted() {
			m.logger.Debug("skipping audio priming: no microphone permission")
			return
		}
		if err := m.ConfigureForRecording(); err != nil {
			m.logger.Warn("audio priming failed", "err", err)
			return
		}
		h, err := m.StartRecording(nil, 10*time.Millisecond)
		if err != nil {
			m.logger.Warn("audio priming failed", "err", err)
			return
		}
		select {
		case <-ctx.Done():
		case <-time.After(20 * time.Millisecond):
		}
		rec, err := m.StopRecording(h)
		if err != nil {
			m.logger.Warn("audio priming failed", "err", err)
		}
		if rec.URI != "" {
			if err := m.store.Discard(rec.URI); err != nil {
				m.logger.Debug("discard priming recording", "err", err)
			}
		}
	})
}

// ---- playback ----

type playState int

const (
	statePlaying playState = iota
	stateCompleted
	stateStopped
)

type playback struct {
	handle PlaybackHandle

	mu     sync.Mutex
	state  playState
	stream Stream
	cb     func()
	fired  bool
}

// Play loads the resource at uri (read-once) and starts playing it. WAV
// payloads are decoded; anything else is treated as raw PCM in the manager's
// format. Any active playback is stopped first.
func (m *Manager) Play(uri string) (PlaybackHandle, error) {
	data, err := m.store.Take(uri)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", uri, err)
	}

	format := m.format
	pcm := data
	if IsWav(data) {
		format, pcm, err = DecodeWav(data)
		if err != nil {
			return 0, err
		}
	}
	return m.PlayPCM(format, pcm)
}

// PlayPCM plays raw 16-bit PCM. Any active playback is stopped first.
func (m *Manager) PlayPCM(f Format, pcm []byte) (PlaybackHandle, error) {
	m.mu.Lock()
	prev := m.active
	m.nextHandle++
	p := &playback{handle: PlaybackHandle(m.nextHandle)}
	m.active = p
	// Handles of earlier playbacks are retired once a new one starts.
	m.playbacks = map[PlaybackHandle]*playback{p.handle: p}
	m.mu.Unlock()

	if prev != nil {
		m.stopPlayback(prev)
	}

	stream, err := m.device.StartPlayback(f, pcm, func() { m.complete(p) })
	if err != nil {
		m.mu.Lock()
		if m.active == p {
			m.active = nil
		}
		delete(m.playbacks, p.handle)
		m.mu.Unlock()
		return 0, fmt.Errorf("start playback: %w", err)
	}

	p.mu.Lock()
	if p.state == statePlaying {
		p.stream = stream
		stream = nil
	}
	p.mu.Unlock()
	if stream != nil {
		// Finished or stopped before the stream was handed back.
		_ = stream.Close()
	}

	m.logger.Debug("playback started", "handle", p.handle, "duration", PCMDuration(len(pcm), f))
	return p.handle, nil
}

// OnComplete registers cb to run once the playback finishes naturally. If it
// already finished, cb runs immediately. cb never runs for a stopped playback.
func (m *Manager) OnComplete(h PlaybackHandle, cb func()) error {
	m.mu.Lock()
	p, ok := m.playbacks[h]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}

	p.mu.Lock()
	switch p.state {
	case statePlaying:
		p.cb = cb
		p.mu.Unlock()
	case stateCompleted:
		if p.fired {
			p.mu.Unlock()
			return nil
		}
		p.fired = true
		p.mu.Unlock()
		cb()
	default:
		p.mu.Unlock()
	}
	return nil
}

// Stop stops the playback identified by h and suppresses its completion.
// Stopping a finished or unknown playback is a no-op.
func (m *Manager) Stop(h PlaybackHandle) error {
	m.mu.Lock()
	p, ok := m.playbacks[h]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.stopPlayback(p)
}

// StopAll stops the active playback, if any.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	p := m.active
	m.mu.Unlock()
	if p == nil {
		return nil
	}
	return m.stopPlayback(p)
}

// Playing reports the handle of the active playback, if any.
func (m *Manager) Playing() (PlaybackHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return 0, false
	}
	return m.active.handle, true
}

func (m *Manager) stopPlayback(p *playback) error {
	p.mu.Lock()
	if p.state != statePlaying {
		p.mu.Unlock()
		return nil
	}
	p.state = stateStopped
	p.cb = nil
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()

	m.release(p)
	if stream != nil {
		return stream.Close()
	}
	return nil
}

func (m *Manager) complete(p *playback) {
	p.mu.Lock()
	if p.state != statePlaying {
		p.mu.Unlock()
		return
	}
	p.state = stateCompleted
	stream := p.stream
	p.stream = nil
	cb := p.cb
	if cb != nil {
		p.fired = true
	}
	p.mu.Unlock()

	m.release(p)
	if stream != nil {
		_ = stream.Close()
	}
	if cb != nil {
		cb()
	}
}

func (m *Manager) release(p *playback) {
	m.mu.Lock()
	if m.active == p {
		m.active = nil
	}
	m.mu.Unlock()
}
