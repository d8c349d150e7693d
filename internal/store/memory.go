package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/davidkral/storybooth/internal/credits"
)

// Memory is an in-process saver used when no database is configured and in
// tests. Same idempotency contract as the Postgres store.
type Memory struct {
	mu    sync.Mutex
	saved map[string]SaveResult // keyed by ClientRef
	Store map[string]SaveRequest
}

func NewMemory() *Memory {
	return &Memory{
		saved: make(map[string]SaveResult),
		Store: make(map[string]SaveRequest),
	}
}

func (m *Memory) SaveConversation(_ context.Context, req SaveRequest) (SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A replay updates the content but keeps the original id and credit.
	if res, ok := m.saved[req.ClientRef]; ok {
		m.Store[req.ClientRef] = req
		return res, nil
	}

	responses := make([]string, 0, len(req.Exchanges))
	for _, e := range req.Exchanges {
		responses = append(responses, e.Response)
	}

	res := SaveResult{
		SavedID:       uuid.NewString(),
		AwardedCredit: credits.CalculateAward(credits.MetricsFromResponses(responses)),
	}
	m.saved[req.ClientRef] = res
	m.Store[req.ClientRef] = req
	return res, nil
}
