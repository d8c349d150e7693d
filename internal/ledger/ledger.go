// Package ledger holds the ordered record of confirmed question/response pairs.
package ledger

import (
	"strings"
	"sync"
	"time"
)

// Exchange is one confirmed question/response pair. Immutable once appended.
type Exchange struct {
	Question    string    `json:"question"`
	Response    string    `json:"response"`
	AudioRef    string    `json:"audio_ref,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Ledger is the append-only record of a conversation's confirmed exchanges.
// Append is the only mutator; entries are never edited or reordered.
type Ledger struct {
	mu      sync.RWMutex
	entries []Exchange
}

func New() *Ledger {
	return &Ledger{}
}

// Append adds a confirmed exchange. Called exactly once per confirmed turn.
func (l *Ledger) Append(e Exchange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Len returns the number of confirmed exchanges.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot returns an independent copy of all exchanges in confirmation order.
func (l *Ledger) Snapshot() []Exchange {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Exchange, len(l.entries))
	copy(out, l.entries)
	return out
}

// Summary concatenates responses in ledger order. It is a pure function of
// the ledger contents so the review screen can regenerate it reproducibly.
func (l *Ledger) Summary() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	parts := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		if t := strings.TrimSpace(e.Response); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
