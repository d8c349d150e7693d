// Package speech plays the posed question out loud via the text-to-speech
// collaborator. Playback is fire-and-forget: the conversation flow never
// blocks on it and no state transition depends on its completion.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Speaker speaks a question. Implementations must not block the caller.
type Speaker interface {
	Speak(ctx context.Context, text string)
}

// HTTPSpeaker posts the question text to the playback endpoint and ignores
// the outcome beyond logging.
type HTTPSpeaker struct {
	endpoint   string
	voiceID    string
	httpClient *http.Client
	logger     *log.Logger
}

// NewHTTPSpeaker creates a playback client. An empty endpoint disables
// playback entirely.
func NewHTTPSpeaker(endpoint, voiceID string, httpClient *http.Client, logger *log.Logger) *HTTPSpeaker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSpeaker{
		endpoint:   endpoint,
		voiceID:    voiceID,
		httpClient: httpClient,
		logger:     logger,
	}
}

type speakRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
}

// Speak dispatches playback in the background.
func (s *HTTPSpeaker) Speak(ctx context.Context, text string) {
	if s.endpoint == "" || text == "" {
		return
	}

	go func() {
		// Detached from the turn's context: playback may outlive the state
		// transition that triggered it.
		reqCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		body, err := json.Marshal(speakRequest{Text: text, VoiceID: s.voiceID})
		if err != nil {
			return
		}

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			s.logger.Printf("speech: failed to create playback request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			s.logger.Printf("speech: playback request failed: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			s.logger.Printf("speech: playback returned status %d", resp.StatusCode)
		}
	}()
}
