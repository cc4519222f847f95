package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoDevice is a [Device] backed by miniaudio through malgo. Desktop audio
// stacks have no exclusive session modes, so SetMode only records the mode.
type MalgoDevice struct {
	ctx *malgo.AllocatedContext

	mu   sync.Mutex
	mode Mode
}

// NewMalgoDevice initialises a miniaudio context using the default backends.
func NewMalgoDevice() (*MalgoDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return &MalgoDevice{ctx: ctx}, nil
}

// Close releases the miniaudio context.
func (d *MalgoDevice) Close() error {
	err := d.ctx.Uninit()
	d.ctx.Free()
	return err
}

// SetMode records the requested session mode.
func (d *MalgoDevice) SetMode(mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
	return nil
}

// StartCapture opens the default capture device as signed 16-bit PCM.
func (d *MalgoDevice) StartCapture(f Format, onFrame func(pcm []byte)) (Stream, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(max(f.Channels, 1))
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Alsa.NoMMap = 1

	onSamples := func(_, pInput []byte, _ uint32) {
		if len(pInput) == 0 {
			return
		}
		frame := make([]byte, len(pInput))
		copy(frame, pInput)
		onFrame(frame)
	}

	dev, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start capture device: %w", err)
	}
	return &malgoStream{dev: dev}, nil
}

// StartPlayback opens the default playback device and renders pcm once.
func (d *MalgoDevice) StartPlayback(f Format, pcm []byte, onDrained func()) (Stream, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(max(f.Channels, 1))
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Alsa.NoMMap = 1

	var (
		mu      sync.Mutex
		pending = pcm
		drained sync.Once
	)
	onSamples := func(pOutput, _ []byte, _ uint32) {
		mu.Lock()
		n := copy(pOutput, pending)
		pending = pending[n:]
		empty := len(pending) == 0
		mu.Unlock()

		// Fill the remainder with silence.
		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
		if empty && n < len(pOutput) {
			// Never block the driver thread.
			drained.Do(func() { go onDrained() })
		}
	}

	dev, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		return nil, fmt.Errorf("malgo: init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start playback device: %w", err)
	}
	return &malgoStream{dev: dev}, nil
}

type malgoStream struct {
	dev  *malgo.Device
	once sync.Once
	err  error
}

func (s *malgoStream) Close() error {
	s.once.Do(func() {
		s.err = s.dev.Stop()
		s.dev.Uninit()
	})
	return s.err
}

var _ Device = (*MalgoDevice)(nil)
