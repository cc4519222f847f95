package orchestrator

import (
	"context"
	"testing"
)

func newTestConversation(t *testing.T) (*Conversation, *MockChannel) {
	t.Helper()
	store := NewMockStore()
	ch := &MockChannel{}
	conv, err := NewConversation(NewMockAudio(store), store, &MockSpeech{}, func() Channel { return ch }, testConfig())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	return conv, ch
}

func TestConversation(t *testing.T) {
	conv, ch := newTestConversation(t)
	if err := conv.Open(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	waitFor(t, "session", func() bool { return conv.GetSessionID() != "" })

	t.Run("SetVoice", func(t *testing.T) {
		if err := conv.SetVoice("m3"); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got := conv.orch.seq.Voice().Voice; got != "M3" {
			t.Errorf("Expected M3, got %s", got)
		}
		if err := conv.SetVoice("X9"); err == nil {
			t.Error("Expected error for invalid voice")
		}
	})

	t.Run("SetSpeed", func(t *testing.T) {
		if err := conv.SetSpeed(1.2); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got := conv.orch.seq.Voice().Speed; got != 1.2 {
			t.Errorf("Expected 1.2, got %v", got)
		}
		if err := conv.SetSpeed(0); err == nil {
			t.Error("Expected error for zero speed")
		}
	})

	t.Run("SendText", func(t *testing.T) {
		if err := conv.SendText("salaam"); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		waitFor(t, "transcript", func() bool { return len(conv.GetTranscript()) == 1 })
		if len(ch.Sent()) != 1 {
			t.Errorf("Expected 1 event sent, got %d", len(ch.Sent()))
		}
	})

	t.Run("Close", func(t *testing.T) {
		if err := conv.Close(); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if ch.Closed() == 0 {
			t.Error("Expected the channel to be closed")
		}
		if _, ok := <-conv.Events(); ok {
			// Drain whatever was buffered before close.
			for range conv.Events() {
			}
		}
		if err := conv.Close(); err != nil {
			t.Errorf("Expected a second Close to be a no-op, got %v", err)
		}
	})
}

func TestConversationGetConfig(t *testing.T) {
	conv, _ := newTestConversation(t)
	if conv.GetConfig().LanguageMode != LanguageModeUrdu {
		t.Errorf("Expected urdu, got %s", conv.GetConfig().LanguageMode)
	}
}
