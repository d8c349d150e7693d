package stt

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(os.Stdout, "", log.LstdFlags)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "stream",
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestProbeCachesWhileTokenValid(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(Capability{
			Available: true,
			SocketURL: "wss://example.invalid/listen",
			Token:     signedToken(t, time.Now().Add(10*time.Minute)),
		})
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, srv.Client(), testLogger())

	first, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Available)

	second, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load(), "second check must hit the cache")
}

func TestProbeRefreshesExpiredToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(Capability{
			Available: true,
			SocketURL: "wss://example.invalid/listen",
			// Already inside the refresh margin.
			Token: signedToken(t, time.Now().Add(5*time.Second)),
		})
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, srv.Client(), testLogger())

	_, err := p.Check(context.Background())
	require.NoError(t, err)
	_, err = p.Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load(), "stale token must trigger a re-probe")
}

func TestProbeUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Capability{Available: false})
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, srv.Client(), testLogger())
	cap, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, cap.Available)
}

func TestProbeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, srv.Client(), testLogger())
	_, err := p.Check(context.Background())
	assert.Error(t, err)
}
