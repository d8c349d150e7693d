package stt

import (
	"strings"
	"sync"
)

// TranscriptState merges interim and final provider results into a running
// transcript. Finalized text only grows; interim text is fully replaced on
// each message. Messages are applied in arrival order — the latest interim is
// authoritative for the unsettled tail.
type TranscriptState struct {
	mu        sync.Mutex
	finalized string
	interim   string
}

// Apply merges one provider result into the transcript.
func (t *TranscriptState) Apply(r Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.SegmentFinal {
		if r.Text != "" {
			t.finalized += r.Text + " "
		}
		t.interim = ""
		return
	}
	t.interim = r.Text
}

// Current returns settled speech plus the freshest guess for in-flight
// speech, for live display.
func (t *TranscriptState) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.finalized + t.interim)
}

// FinalText returns the transcript handed to the turn controller at stop:
// trimmed finalized text, falling back to the trailing interim when no
// segment finalized.
func (t *TranscriptState) FinalText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f := strings.TrimSpace(t.finalized); f != "" {
		return f
	}
	return strings.TrimSpace(t.interim)
}

// FinalizedLen reports the length of the finalized portion.
func (t *TranscriptState) FinalizedLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.finalized)
}
