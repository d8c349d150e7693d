// Package store persists completed conversations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidkral/storybooth/internal/credits"
	"github.com/davidkral/storybooth/internal/ledger"
)

// ErrSaveFailed indicates the conversation could not be persisted. The review
// state surfaces it and offers a retry; the ledger is never touched.
var ErrSaveFailed = errors.New("failed to save conversation")

// SaveRequest is the ledger snapshot plus review-screen metadata. ClientRef
// is the caller's idempotency key: retrying a failed save with the same ref
// persists the conversation exactly once.
type SaveRequest struct {
	ClientRef        string `json:"client_ref"`
	OriginalQuestion string `json:"original_question"`
	Summary          string `json:"summary"`
	Audience         string `json:"audience,omitempty"` // sharing-scope selection
	Attachments      []string
	Exchanges        []ledger.Exchange
}

// SaveResult reports the persisted conversation.
type SaveResult struct {
	SavedID       string `json:"saved_id"`
	AwardedCredit int    `json:"awarded_credit"`
}

// Saver persists a conversation. Must be retry-safe on ClientRef.
type Saver interface {
	SaveConversation(ctx context.Context, req SaveRequest) (SaveResult, error)
}

// Store is the Postgres-backed saver.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// SaveConversation persists the conversation and its exchanges in ledger
// order. Credit is awarded only on first insert; a retry with the same
// ClientRef updates the summary and awards nothing further.
func (s *Store) SaveConversation(ctx context.Context, req SaveRequest) (SaveResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return SaveResult{}, fmt.Errorf("%w: begin: %v", ErrSaveFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		existingID     string
		existingCredit int
	)
	err = tx.QueryRow(ctx, `
		SELECT id, awarded_credit FROM conversations WHERE client_ref = $1
	`, req.ClientRef).Scan(&existingID, &existingCredit)
	alreadySaved := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return SaveResult{}, fmt.Errorf("%w: lookup: %v", ErrSaveFailed, err)
	}

	attachmentsJSON, err := json.Marshal(req.Attachments)
	if err != nil {
		attachmentsJSON = []byte("[]")
	}

	var id string
	if alreadySaved {
		id = existingID
		_, err = tx.Exec(ctx, `
			UPDATE conversations
			SET summary = $2, audience = $3, attachments = $4
			WHERE id = $1
		`, id, req.Summary, req.Audience, attachmentsJSON)
		if err != nil {
			return SaveResult{}, fmt.Errorf("%w: update: %v", ErrSaveFailed, err)
		}
	} else {
		err = tx.QueryRow(ctx, `
			INSERT INTO conversations (id, client_ref, original_question, summary, audience, attachments, created_at)
			VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
			RETURNING id
		`, req.ClientRef, req.OriginalQuestion, req.Summary, req.Audience, attachmentsJSON, time.Now().UTC()).Scan(&id)
		if err != nil {
			return SaveResult{}, fmt.Errorf("%w: insert: %v", ErrSaveFailed, err)
		}
	}

	for i, e := range req.Exchanges {
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_exchanges (conversation_id, position, question, response, audio_ref, confirmed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (conversation_id, position) DO NOTHING
		`, id, i+1, e.Question, e.Response, e.AudioRef, e.ConfirmedAt)
		if err != nil {
			return SaveResult{}, fmt.Errorf("%w: insert exchange %d: %v", ErrSaveFailed, i+1, err)
		}
	}

	// A retry reports the credit from the first insert, never a second award.
	credit := existingCredit
	if !alreadySaved {
		responses := make([]string, 0, len(req.Exchanges))
		for _, e := range req.Exchanges {
			responses = append(responses, e.Response)
		}
		credit = credits.CalculateAward(credits.MetricsFromResponses(responses))
		_, err = tx.Exec(ctx, `
			UPDATE conversations SET awarded_credit = $2 WHERE id = $1
		`, id, credit)
		if err != nil {
			return SaveResult{}, fmt.Errorf("%w: award credit: %v", ErrSaveFailed, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SaveResult{}, fmt.Errorf("%w: commit: %v", ErrSaveFailed, err)
	}
	return SaveResult{SavedID: id, AwardedCredit: credit}, nil
}
