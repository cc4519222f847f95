package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Voices are the synthesis voices offered by the speech backend.
var Voices = []string{"F1", "F2", "F3", "F4", "F5", "M1", "M2", "M3", "M4", "M5"}

// Conversation is the high-level API for one tutoring screen. It owns the
// orchestrator's event loop and maps screen lifecycle onto it.
//
// Example:
//
//	conv, _ := orchestrator.NewConversation(mgr, store, speaker, dial, orchestrator.DefaultConfig())
//	if err := conv.Open(ctx); err != nil {
//		return err
//	}
//	defer conv.Close()
//	for ev := range conv.Events() {
//		render(ev)
//	}
type Conversation struct {
	orch *Orchestrator

	mu     sync.Mutex
	cancel context.CancelFunc
	loop   chan error
}

// NewConversation creates a conversation. Nothing starts until Open.
func NewConversation(a AudioSession, store ResourceStore, speech SpeechSynthesizer, dial Dialer, config Config, opts ...Option) (*Conversation, error) {
	orch, err := New(a, store, speech, dial, config, opts...)
	if err != nil {
		return nil, err
	}
	return &Conversation{orch: orch}, nil
}

// Open starts the event loop and connects the first session. The loop keeps
// running after a failed connect so the caller can retry with FocusGained.
func (c *Conversation) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.loop == nil {
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.cancel = cancel
		c.loop = make(chan error, 1)
		go func() { c.loop <- c.orch.Run(loopCtx) }()
	}
	c.mu.Unlock()

	return c.orch.Start(ctx)
}

// Close exits the conversation and stops the event loop.
func (c *Conversation) Close() error {
	c.mu.Lock()
	cancel, loop := c.cancel, c.loop
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	c.orch.Exit()
	cancel()
	return <-loop
}

// SetVoice changes the voice used for word-by-word drills (F1-F5, M1-M5).
func (c *Conversation) SetVoice(voice string) error {
	voice = strings.ToUpper(strings.TrimSpace(voice))
	for _, v := range Voices {
		if v == voice {
			p := c.orch.seq.Voice()
			p.Voice = voice
			c.orch.seq.SetVoice(p)
			return nil
		}
	}
	return fmt.Errorf("invalid voice: %s (must be F1-F5 or M1-M5)", voice)
}

// SetSpeed changes the drill speech rate. Speeds outside (0, 2] are rejected.
func (c *Conversation) SetSpeed(speed float64) error {
	if speed <= 0 || speed > 2 {
		return fmt.Errorf("invalid speed: %v", speed)
	}
	p := c.orch.seq.Voice()
	p.Speed = speed
	c.orch.seq.SetVoice(p)
	return nil
}

func (c *Conversation) AutoStart()                 { c.orch.AutoStart() }
func (c *Conversation) Stop()                      { c.orch.ManualStop() }
func (c *Conversation) SendText(text string) error { return c.orch.SendText(text) }

// FocusLost pauses the conversation when the screen goes to the background.
func (c *Conversation) FocusLost() { c.orch.FocusLost() }

// FocusGained resumes with a fresh session.
func (c *Conversation) FocusGained(ctx context.Context) error { return c.orch.FocusGained(ctx) }

// Exit leaves the conversation. Only Open or FocusGained after a new Open
// revive it.
func (c *Conversation) Exit() { c.orch.Exit() }

func (c *Conversation) Events() <-chan OrchestratorEvent { return c.orch.Events() }

func (c *Conversation) Snapshot() Snapshot { return c.orch.Snapshot() }

func (c *Conversation) GetSessionID() string { return c.orch.Snapshot().SessionID }

func (c *Conversation) GetTranscript() []TranscriptEntry { return c.orch.Snapshot().Transcript }

func (c *Conversation) GetConfig() Config { return c.orch.GetConfig() }
