package notify

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestNewAPNsClientMissingConfig(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	client, err := NewAPNsClient(APNsConfig{}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client for missing configuration")
	}
	if !strings.Contains(buf.String(), "push notifications disabled") {
		t.Fatalf("expected disabled log line, got %q", buf.String())
	}
}

func TestNewAPNsClientBadKeyPath(t *testing.T) {
	logger := log.New(&bytes.Buffer{}, "", 0)

	_, err := NewAPNsClient(APNsConfig{
		KeyPath:  "/nonexistent/key.p8",
		KeyID:    "KEY123",
		TeamID:   "TEAM123",
		BundleID: "com.example.storybooth",
	}, logger)
	if err == nil {
		t.Fatal("expected error for unreadable key file")
	}
}

func TestNilClientSendsAreNoOps(t *testing.T) {
	var c *APNsClient

	if err := c.SendConversationSaved("token", SavedNotification{ConversationID: "abc"}); err != nil {
		t.Fatalf("nil client SendConversationSaved = %v, want nil", err)
	}
	if err := c.SendShareInvite("token", "Grandma", "Tell me about your childhood"); err != nil {
		t.Fatalf("nil client SendShareInvite = %v, want nil", err)
	}
}
