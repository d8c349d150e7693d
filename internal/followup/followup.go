// Package followup asks the follow-up generation collaborator for the next
// question of a conversation.
package followup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrFollowUpUnavailable indicates the collaborator failed. The caller treats
// it as "no further question" and moves to review; it never blocks the user.
var ErrFollowUpUnavailable = errors.New("follow-up generation unavailable")

// ExchangePair is one confirmed question/response pair sent for context.
type ExchangePair struct {
	Question string `json:"question"`
	Response string `json:"response"`
}

// Request carries the full conversation context for follow-up generation.
type Request struct {
	OriginalQuestion string         `json:"original_question"`
	QuestionType     string         `json:"question_type,omitempty"`
	Exchanges        []ExchangePair `json:"exchanges"`
}

// Decision is the collaborator's verdict: either the next question or a
// signal that no further question is warranted.
type Decision struct {
	Question  string
	ShouldEnd bool
}

// Generator produces the next question for a conversation.
type Generator interface {
	NextQuestion(ctx context.Context, req Request) (Decision, error)
}

// HTTPGenerator calls the follow-up endpoint over HTTP.
type HTTPGenerator struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPGenerator creates a follow-up client for the given endpoint.
func NewHTTPGenerator(endpoint string, httpClient *http.Client) *HTTPGenerator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPGenerator{endpoint: endpoint, httpClient: httpClient}
}

// followUpResponse is the collaborator's wire format.
type followUpResponse struct {
	FollowUpQuestion string `json:"follow_up_question"`
	ShouldEnd        bool   `json:"should_end"`
}

// NextQuestion posts the conversation context and returns the decision.
// An empty question in the response is treated as should-end.
func (g *HTTPGenerator) NextQuestion(ctx context.Context, req Request) (Decision, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: marshal request: %v", ErrFollowUpUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrFollowUpUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrFollowUpUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Decision{}, fmt.Errorf("%w: %s - %s", ErrFollowUpUnavailable, resp.Status, string(respBody))
	}

	var out followUpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Decision{}, fmt.Errorf("%w: decode response: %v", ErrFollowUpUnavailable, err)
	}

	question := strings.TrimSpace(out.FollowUpQuestion)
	if out.ShouldEnd || question == "" {
		return Decision{ShouldEnd: true}, nil
	}
	return Decision{Question: question}, nil
}
