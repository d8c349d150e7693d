package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LiveConfig holds negotiation parameters for the streaming connection.
type LiveConfig struct {
	SampleRate     int  // e.g. 16000
	Channels       int  // e.g. 1 for mono
	Punctuate      bool
	InterimResults bool
	EndpointingMs  int // milliseconds of silence for endpointing, 0 for provider default
}

// DefaultLiveConfig returns the negotiation parameters the capture pipeline
// uses: 16 kHz mono linear PCM with interim results, punctuation, and ~300ms
// silence endpointing.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		SampleRate:     16000,
		Channels:       1,
		Punctuate:      true,
		InterimResults: true,
		EndpointingMs:  300,
	}
}

// LiveClient is one duplex streaming connection to the live speech provider.
// Audio frames go out as little-endian 16-bit PCM binary messages; inbound
// results are merged into a TranscriptState in arrival order.
type LiveClient struct {
	conn      *websocket.Conn
	state     TranscriptState
	logger    *log.Logger
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex

	errMu   sync.Mutex
	readErr error
}

// liveResponse is the provider's websocket result message.
type liveResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

// DialLive opens a streaming connection using the capability probe's socket
// URL and short-lived token.
func DialLive(ctx context.Context, cap Capability, cfg LiveConfig, logger *log.Logger) (*LiveClient, error) {
	url := fmt.Sprintf("%s?encoding=linear16&sample_rate=%d&channels=%d&punctuate=%t&interim_results=%t",
		cap.SocketURL,
		cfg.SampleRate,
		cfg.Channels,
		cfg.Punctuate,
		cfg.InterimResults,
	)
	if cfg.EndpointingMs > 0 {
		url += fmt.Sprintf("&endpointing=%d", cfg.EndpointingMs)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cap.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrStreamFailure, err)
	}

	c := &LiveClient{
		conn:     conn,
		logger:   logger,
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// WriteFrame encodes one float32 audio frame to 16-bit PCM and pushes it onto
// the connection. Returns ErrStreamFailure if the connection has broken,
// including read-side failures observed since the previous frame.
func (c *LiveClient) WriteFrame(ctx context.Context, frame []float32) error {
	if err := c.err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return fmt.Errorf("%w: connection closed", ErrStreamFailure)
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, EncodePCM16(frame)); err != nil {
		c.setErr(err)
		return fmt.Errorf("%w: send: %v", ErrStreamFailure, err)
	}
	return nil
}

// Current returns the running transcript for live display.
func (c *LiveClient) Current() string {
	return c.state.Current()
}

// Finish gracefully ends the stream and returns the merged transcript:
// finalized text when any segment settled, otherwise the trailing interim.
// A non-nil error means the stream broke mid-turn and the caller should fall
// back to batch transcription of the raw recording.
func (c *LiveClient) Finish(ctx context.Context) (string, error) {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	c.writeMu.Unlock()

	// Give the provider a moment to flush trailing finals.
	select {
	case <-c.readDone:
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
	}

	_ = c.Close()

	if err := c.err(); err != nil {
		return c.state.FinalText(), fmt.Errorf("%w: %v", ErrStreamFailure, err)
	}
	return c.state.FinalText(), nil
}

// Close tears down the connection. Idempotent and safe to call redundantly
// from stop, ceiling timeout, downgrade, and session teardown.
func (c *LiveClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *LiveClient) readLoop() {
	defer close(c.readDone)

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Closed by us.
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.setErr(err)
				}
			}
			return
		}

		var resp liveResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			c.logger.Printf("stt: failed to parse live response: %v", err)
			continue
		}
		if resp.Type != "Results" {
			continue
		}

		var text string
		var confidence float64
		if len(resp.Channel.Alternatives) > 0 {
			text = resp.Channel.Alternatives[0].Transcript
			confidence = resp.Channel.Alternatives[0].Confidence
		}
		if text == "" && !resp.IsFinal {
			continue
		}

		c.state.Apply(Result{
			Text:         text,
			Confidence:   confidence,
			SegmentFinal: resp.IsFinal,
		})
	}
}

func (c *LiveClient) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

func (c *LiveClient) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStreamFailure, c.readErr)
}
