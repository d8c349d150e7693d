// Package stt provides live (streaming) and batch speech-to-text clients.
package stt

import "errors"

var (
	// ErrStreamFailure indicates the live streaming connection broke. The
	// caller downgrades to the batch path; it is not user-facing.
	ErrStreamFailure = errors.New("streaming transcription failed")

	// ErrTranscriptionFailed indicates the batch endpoint could not produce a
	// transcript. The turn still reaches confirmation with an empty editable
	// transcript.
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// Result is one inbound message from the streaming provider.
type Result struct {
	Text         string  // transcribed text (interim or final)
	Confidence   float64 // confidence score (0-1)
	SegmentFinal bool    // provider accepted this segment as final
}

// Capability is the live-capability probe response. Queried once per
// conversation; when Available is false the conversation uses batch only.
type Capability struct {
	Available bool   `json:"available"`
	SocketURL string `json:"socket_url"`
	Token     string `json:"token"` // short-lived JWT for the streaming socket
}

// BatchResult is the batch transcription endpoint response.
type BatchResult struct {
	Transcription string `json:"transcription"`
	AudioURL      string `json:"audio_url,omitempty"`
}
