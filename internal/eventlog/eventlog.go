package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of conversation event
type EventType string

const (
	EventConversationStarted EventType = "conversation_started"
	EventCaptureStarted      EventType = "capture_started"
	EventCaptureStopped      EventType = "capture_stopped"
	EventStreamDowngraded    EventType = "stream_downgraded"
	EventTranscriptPending   EventType = "transcript_pending"
	EventTranscriptFailed    EventType = "transcript_failed"
	EventExchangeConfirmed   EventType = "exchange_confirmed"
	EventTurnDiscarded       EventType = "turn_discarded"
	EventCheckpointOffered   EventType = "checkpoint_offered"
	EventFollowUpGenerated   EventType = "follow_up_generated"
	EventFollowUpExhausted   EventType = "follow_up_exhausted"
	EventReviewEntered       EventType = "review_entered"
	EventSaveFailed          EventType = "save_failed"
	EventConversationSaved   EventType = "conversation_saved"
	EventConversationClosed  EventType = "conversation_closed"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, conversationID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || conversationID == "" {
		return nil // Silently skip if no DB or conversation ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO conversation_events (conversation_ref, event_type, event_data)
		VALUES ($1, $2, $3)
	`, conversationID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(conversationID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || conversationID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, conversationID, eventType, data)
	}()
}
