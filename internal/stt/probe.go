package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Probe queries the live-capability endpoint. The result is cached for the
// lifetime of the streaming token so a conversation probes at most once while
// its credentials remain valid.
type Probe struct {
	endpoint   string
	httpClient *http.Client
	logger     *log.Logger

	mu        sync.Mutex
	cached    *Capability
	expiresAt time.Time
}

// NewProbe creates a capability probe client.
func NewProbe(endpoint string, httpClient *http.Client, logger *log.Logger) *Probe {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Probe{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Check returns the live capability, using the cached response while its
// token is still valid. A probe failure means live is unavailable; the caller
// selects batch for the conversation.
func (p *Probe) Check(ctx context.Context) (Capability, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && (p.expiresAt.IsZero() || time.Now().Before(p.expiresAt)) {
		return *p.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return Capability{}, fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Capability{}, fmt.Errorf("capability probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Capability{}, fmt.Errorf("capability probe error: %s - %s", resp.Status, string(body))
	}

	var cap Capability
	if err := json.NewDecoder(resp.Body).Decode(&cap); err != nil {
		return Capability{}, fmt.Errorf("failed to decode probe response: %w", err)
	}

	p.cached = &cap
	p.expiresAt = tokenExpiry(cap.Token)
	if cap.Available && !p.expiresAt.IsZero() {
		p.logger.Printf("stt: live capability cached until %s", p.expiresAt.Format(time.RFC3339))
	}
	return cap, nil
}

// tokenExpiry reads the exp claim from the streaming token without verifying
// the signature — the engine is not the token's audience, it only needs to
// know when to re-probe. Returns zero time when no expiry is readable.
func tokenExpiry(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	// Refresh slightly early so a nearly-expired token is never dialed with.
	return exp.Time.Add(-30 * time.Second)
}
