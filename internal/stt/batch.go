package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// BatchClient uploads a complete recording to the batch transcription
// endpoint and returns one full-text result.
type BatchClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewBatchClient creates a batch transcription client.
func NewBatchClient(endpoint string, httpClient *http.Client) *BatchClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &BatchClient{endpoint: endpoint, httpClient: httpClient}
}

// Transcribe uploads the recording with its media kind ("voice" or "video")
// and returns the transcription. Failures wrap ErrTranscriptionFailed so the
// caller can offer manual text entry instead of losing the turn.
func (c *BatchClient) Transcribe(ctx context.Context, recording []byte, kind string) (BatchResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("recording", "recording.wav")
	if err != nil {
		return BatchResult{}, fmt.Errorf("%w: build upload: %v", ErrTranscriptionFailed, err)
	}
	if _, err := part.Write(recording); err != nil {
		return BatchResult{}, fmt.Errorf("%w: build upload: %v", ErrTranscriptionFailed, err)
	}
	if err := w.WriteField("kind", kind); err != nil {
		return BatchResult{}, fmt.Errorf("%w: build upload: %v", ErrTranscriptionFailed, err)
	}
	if err := w.Close(); err != nil {
		return BatchResult{}, fmt.Errorf("%w: build upload: %v", ErrTranscriptionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return BatchResult{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return BatchResult{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return BatchResult{}, fmt.Errorf("%w: %s - %s", ErrTranscriptionFailed, resp.Status, string(respBody))
	}

	var result BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return BatchResult{}, fmt.Errorf("%w: decode response: %v", ErrTranscriptionFailed, err)
	}
	return result, nil
}
