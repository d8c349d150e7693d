package stt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "voice", r.FormValue("kind"))

		file, header, err := r.FormFile("recording")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "recording.wav", header.Filename)

		_ = json.NewEncoder(w).Encode(BatchResult{
			Transcription: "I went to the lake.",
			AudioURL:      "https://cdn.example.com/rec/1.wav",
		})
	}))
	defer srv.Close()

	c := NewBatchClient(srv.URL, srv.Client())
	result, err := c.Transcribe(context.Background(), []byte("RIFF...."), "voice")
	require.NoError(t, err)
	assert.Equal(t, "I went to the lake.", result.Transcription)
	assert.Equal(t, "https://cdn.example.com/rec/1.wav", result.AudioURL)
}

func TestBatchTranscribeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewBatchClient(srv.URL, srv.Client())
	_, err := c.Transcribe(context.Background(), []byte("RIFF...."), "voice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTranscriptionFailed))
}
