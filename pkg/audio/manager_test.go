package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---- fakes ----

type fakeStream struct {
	closed atomic.Int32
}

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeDevice struct {
	mu         sync.Mutex
	modeErr    error
	captureErr error
	modes      []Mode
	onFrame    func([]byte)
	drains     []func()
	captures   int
	playbacks  int
	streams    []*fakeStream
}

func (d *fakeDevice) SetMode(mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.modeErr != nil {
		return d.modeErr
	}
	d.modes = append(d.modes, mode)
	return nil
}

func (d *fakeDevice) StartCapture(_ Format, onFrame func([]byte)) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	d.captures++
	d.onFrame = onFrame
	s := &fakeStream{}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) StartPlayback(_ Format, _ []byte, onDrained func()) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playbacks++
	d.drains = append(d.drains, onDrained)
	s := &fakeStream{}
	d.streams = append(d.streams, s)
	return s, nil
}

// drain simulates the driver finishing playback number i.
func (d *fakeDevice) drain(i int) {
	d.mu.Lock()
	fn := d.drains[i]
	d.mu.Unlock()
	fn()
}

func (d *fakeDevice) feed(pcm []byte) {
	d.mu.Lock()
	fn := d.onFrame
	d.mu.Unlock()
	fn(pcm)
}

type memStore struct {
	mu    sync.Mutex
	next  int
	items map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string][]byte)}
}

func (s *memStore) Put(data []byte, ext string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	uri := fmt.Sprintf("mem://%d%s", s.next, ext)
	s.items[uri] = data
	return uri, nil
}

func (s *memStore) Take(uri string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.items[uri]
	if !ok {
		return nil, errors.New("not found")
	}
	delete(s.items, uri)
	return data, nil
}

func (s *memStore) Discard(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, uri)
	return nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type denyingPermissions struct {
	requested int
}

func (p *denyingPermissions) Granted() bool { return false }

func (p *denyingPermissions) Request(context.Context) (bool, error) {
	p.requested++
	return false, nil
}

func loudPCM(n int) []byte {
	pcm := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		pcm[i] = 0xFF
		pcm[i+1] = 0x3F
	}
	return pcm
}

// ---- recording ----

func TestStartRecording_DeviceBusy(t *testing.T) {
	m := NewManager(&fakeDevice{}, newMemStore())

	h, err := m.StartRecording(nil, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	defer m.StopRecording(h)

	if _, err := m.StartRecording(nil, 10*time.Millisecond); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("second StartRecording error = %v, want ErrDeviceBusy", err)
	}
}

func TestStartRecording_PermissionDenied(t *testing.T) {
	perms := &denyingPermissions{}
	m := NewManager(&fakeDevice{}, newMemStore(), WithPermissions(perms))

	if _, err := m.StartRecording(nil, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("StartRecording error = %v, want ErrPermissionDenied", err)
	}
	if err := m.RequestPermission(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("RequestPermission error = %v, want ErrPermissionDenied", err)
	}
	if perms.requested != 1 {
		t.Errorf("permission requested %d times, want 1", perms.requested)
	}
}

func TestStartRecording_CaptureFailureReleasesDevice(t *testing.T) {
	dev := &fakeDevice{captureErr: errors.New("no mic")}
	m := NewManager(dev, newMemStore())

	if _, err := m.StartRecording(nil, 0); err == nil {
		t.Fatal("expected error from failing capture")
	}
	if _, ok := m.Recording(); ok {
		t.Error("failed recording must not stay active")
	}

	dev.mu.Lock()
	dev.captureErr = nil
	dev.mu.Unlock()
	h, err := m.StartRecording(nil, 0)
	if err != nil {
		t.Fatalf("StartRecording after failure: %v", err)
	}
	m.StopRecording(h)
}

func TestStopRecording_Idempotent(t *testing.T) {
	store := newMemStore()
	m := NewManager(&fakeDevice{}, store, WithFormat(Format{SampleRate: 8000, Channels: 1}))
	dev := m.device.(*fakeDevice)

	h, err := m.StartRecording(nil, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	dev.feed(make([]byte, 8000)) // 0.5s at 8 kHz mono

	first, err := m.StopRecording(h)
	if err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if first.URI == "" {
		t.Fatal("expected a persisted recording")
	}
	if first.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", first.Duration)
	}

	second, err := m.StopRecording(h)
	if err != nil {
		t.Errorf("second StopRecording returned error: %v", err)
	}
	if second != first {
		t.Errorf("second StopRecording = %+v, want %+v", second, first)
	}
	if store.len() != 1 {
		t.Errorf("store holds %d resources, want 1", store.len())
	}

	if rec, err := m.StopRecording(RecordingHandle(999)); err != nil || rec != (Recording{}) {
		t.Errorf("unknown handle = (%+v, %v), want zero and nil", rec, err)
	}
}

func TestStopRecording_ConcurrentCallers(t *testing.T) {
	m := NewManager(&fakeDevice{}, newMemStore())
	h, err := m.StartRecording(nil, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]Recording, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = m.StopRecording(h)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r != results[0] {
			t.Errorf("result %d = %+v, want %+v", i, r, results[0])
		}
	}
}

func TestStartRecording_MetersSamples(t *testing.T) {
	m := NewManager(&fakeDevice{}, newMemStore())
	dev := m.device.(*fakeDevice)

	samples := make(chan float64, 64)
	stopped := make(chan struct{}, 1)
	h, err := m.StartRecording(func(db float64, recording bool) {
		if !recording {
			stopped <- struct{}{}
			return
		}
		select {
		case samples <- db:
		default:
		}
	}, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	dev.feed(loudPCM(320))

	deadline := time.After(time.Second)
	for {
		select {
		case db := <-samples:
			if db > -20 {
				m.StopRecording(h)
				select {
				case <-stopped:
				case <-time.After(time.Second):
					t.Fatal("no final isRecording=false sample")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for a loud sample")
		}
	}
}

// ---- playback ----

func TestPlay_CompletionFiresOnce(t *testing.T) {
	store := newMemStore()
	dev := &fakeDevice{}
	m := NewManager(dev, store)

	uri, _ := store.Put(NewWavBuffer(make([]byte, 64), 16000), ".wav")
	h, err := m.Play(uri)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	var fired atomic.Int32
	if err := m.OnComplete(h, func() { fired.Add(1) }); err != nil {
		t.Fatalf("OnComplete: %v", err)
	}

	dev.drain(0)
	dev.drain(0)
	m.Stop(h)

	if got := fired.Load(); got != 1 {
		t.Errorf("completion fired %d times, want 1", got)
	}
	if _, ok := m.Playing(); ok {
		t.Error("playback still active after completion")
	}
}

func TestPlay_CompletionBeforeRegistration(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, newMemStore())

	h, err := m.PlayPCM(m.Format(), make([]byte, 32))
	if err != nil {
		t.Fatalf("PlayPCM: %v", err)
	}
	dev.drain(0)

	var fired atomic.Int32
	m.OnComplete(h, func() { fired.Add(1) })
	m.OnComplete(h, func() { fired.Add(1) })
	if got := fired.Load(); got != 1 {
		t.Errorf("completion fired %d times, want 1", got)
	}
}

func TestStop_SuppressesCompletion(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, newMemStore())

	h, _ := m.PlayPCM(m.Format(), make([]byte, 32))
	var fired atomic.Int32
	m.OnComplete(h, func() { fired.Add(1) })

	if err := m.Stop(h); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	dev.drain(0)

	if fired.Load() != 0 {
		t.Error("completion fired for a stopped playback")
	}
	if dev.streams[0].closed.Load() == 0 {
		t.Error("stream not closed on Stop")
	}
}

func TestPlay_AtMostOneActive(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, newMemStore())

	var fired [3]atomic.Int32
	var handles [3]PlaybackHandle
	for i := range handles {
		h, err := m.PlayPCM(m.Format(), make([]byte, 32))
		if err != nil {
			t.Fatalf("PlayPCM %d: %v", i, err)
		}
		handles[i] = h
		idx := i
		m.OnComplete(h, func() { fired[idx].Add(1) })

		active, ok := m.Playing()
		if !ok || active != h {
			t.Fatalf("active playback = %v/%v, want %v", active, ok, h)
		}
	}

	for i := range handles {
		dev.drain(i)
	}
	if fired[0].Load() != 0 || fired[1].Load() != 0 {
		t.Error("superseded playbacks must not complete")
	}
	if fired[2].Load() != 1 {
		t.Error("latest playback did not complete")
	}
}

func TestPlay_MissingResource(t *testing.T) {
	m := NewManager(&fakeDevice{}, newMemStore())
	if _, err := m.Play("mem://missing"); err == nil {
		t.Error("expected error for missing resource")
	}
}

func TestOnComplete_UnknownHandle(t *testing.T) {
	m := NewManager(&fakeDevice{}, newMemStore())
	if err := m.OnComplete(42, func() {}); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("OnComplete error = %v, want ErrUnknownHandle", err)
	}
}

// ---- session ----

func TestConfigure_Idempotent(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, newMemStore())

	for i := 0; i < 3; i++ {
		if err := m.ConfigureForRecording(); err != nil {
			t.Fatalf("ConfigureForRecording: %v", err)
		}
	}
	if err := m.ConfigureForPlayback(); err != nil {
		t.Fatalf("ConfigureForPlayback: %v", err)
	}
	if err := m.ConfigureForPlayback(); err != nil {
		t.Fatalf("ConfigureForPlayback: %v", err)
	}
	if len(dev.modes) != 2 {
		t.Errorf("device saw %d mode switches, want 2", len(dev.modes))
	}
}

func TestConfigure_Denied(t *testing.T) {
	m := NewManager(&fakeDevice{modeErr: errors.New("focus held")}, newMemStore())
	if err := m.ConfigureForRecording(); !errors.Is(err, ErrAudioConfig) {
		t.Errorf("ConfigureForRecording error = %v, want ErrAudioConfig", err)
	}
	if err := m.ConfigureForPlayback(); !errors.Is(err, ErrAudioConfig) {
		t.Errorf("ConfigureForPlayback error = %v, want ErrAudioConfig", err)
	}
}

func TestConfigureForRecording_InterruptsPlayback(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, newMemStore())

	h, _ := m.PlayPCM(m.Format(), make([]byte, 32))
	var fired atomic.Int32
	m.OnComplete(h, func() { fired.Add(1) })

	if err := m.ConfigureForRecording(); err != nil {
		t.Fatalf("ConfigureForRecording: %v", err)
	}
	dev.drain(0)
	if _, ok := m.Playing(); ok {
		t.Error("playback survived switch to record mode")
	}
	if fired.Load() != 0 {
		t.Error("interrupted playback must not complete")
	}
}

func TestPrime_OnceAndSwallowsErrors(t *testing.T) {
	store := newMemStore()
	dev := &fakeDevice{}
	m := NewManager(dev, store)

	m.Prime(context.Background())
	m.Prime(context.Background())

	if dev.captures != 1 {
		t.Errorf("priming captured %d times, want 1", dev.captures)
	}
	if store.len() != 0 {
		t.Error("priming recording was not discarded")
	}
	if _, ok := m.Recording(); ok {
		t.Error("priming left a recording active")
	}

	failing := NewManager(&fakeDevice{captureErr: errors.New("boom")}, store)
	failing.Prime(context.Background()) // must not panic
}
