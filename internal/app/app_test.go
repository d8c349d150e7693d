package app

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/davidkral/storybooth/internal/capture"
	"github.com/davidkral/storybooth/internal/flow"
)

type nullSource struct{}

func (nullSource) Open(context.Context, capture.SourceConfig) (capture.Stream, error) {
	return nil, capture.ErrHardwareUnavailable
}

func testConfig() Config {
	return Config{
		FollowUpURL:        "https://api.example.com/followup",
		BatchTranscribeURL: "https://api.example.com/transcribe",
		CheckpointInterval: 5,
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	cfg := testConfig()
	cfg.BatchTranscribeURL = ""
	if _, err := New(cfg, nullSource{}, logger); err == nil {
		t.Error("expected error without BATCH_TRANSCRIBE_URL")
	}

	cfg = testConfig()
	cfg.FollowUpURL = ""
	if _, err := New(cfg, nullSource{}, logger); err == nil {
		t.Error("expected error without FOLLOWUP_URL")
	}

	if _, err := New(testConfig(), nil, logger); err == nil {
		t.Error("expected error without a capture source")
	}
}

func TestNewConversationLifecycle(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	a, err := New(testConfig(), nullSource{}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	conv, release, err := a.NewConversation(ConversationRequest{Question: "Tell me a story"})
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if conv == nil {
		t.Fatal("expected a conversation")
	}
	if got := a.sessions.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}
	release()
	if got := a.sessions.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount after release = %d, want 0", got)
	}
}

func TestNewConversationRejectedWhileDraining(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	a, err := New(testConfig(), nullSource{}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	a.Drain()

	if _, _, err := a.NewConversation(ConversationRequest{Question: "q"}); err != ErrDraining {
		t.Fatalf("err = %v, want ErrDraining", err)
	}
}

func TestNotifyCompleteFansOutShareInvites(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	a, err := New(testConfig(), nullSource{}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	// No APNs credentials configured: every push degrades to a no-op, so the
	// completion fan-out must run clean for owner and share targets alike.
	a.notifyComplete(ConversationRequest{
		Question:    "Tell me a story",
		DeviceToken: "owner-device",
		SharerName:  "Grandma",
		ShareWith:   []string{"device-a", "device-b"},
	}, flow.Outcome{Saved: true, SavedID: "c1", Exchanges: 3, AwardedCredit: 12})
}

func TestNewConversationValidatesQuestion(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	a, err := New(testConfig(), nullSource{}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, _, err := a.NewConversation(ConversationRequest{}); err == nil {
		t.Error("expected error for empty question")
	}
	if got := a.sessions.ActiveCount(); got != 0 {
		t.Fatalf("failed conversation must release its slot, ActiveCount = %d", got)
	}
}
