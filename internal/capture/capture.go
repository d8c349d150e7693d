// Package capture acquires microphone hardware, runs the pre-roll countdown,
// and turns a capture session into a transcript or a raw recording. The
// hardware handle is owned exclusively by the active session and is released
// on every exit path: explicit stop, duration ceiling, downgrade, and
// component teardown.
package capture

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/davidkral/storybooth/internal/stt"
)

var (
	// ErrHardwareUnavailable indicates device permission was denied or no
	// capture device exists. User-facing; the caller offers typed input.
	ErrHardwareUnavailable = errors.New("capture hardware unavailable")

	// ErrAlreadyCapturing indicates a session is already open. This is a
	// guard condition and should never surface to the user.
	ErrAlreadyCapturing = errors.New("a capture session is already active")
)

// Mode is the media kind being captured.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeVideo Mode = "video"
)

// TranscriptionMode selects the live streaming path or record-then-upload.
type TranscriptionMode string

const (
	TranscriptionLive  TranscriptionMode = "live"
	TranscriptionBatch TranscriptionMode = "batch"
)

// Status is the capture session lifecycle state.
type Status int32

const (
	StatusCountingDown Status = iota
	StatusRecording
	StatusStopped
)

// FrameSink receives live audio frames during a session. Implemented by
// stt.LiveClient; a failing sink downgrades the session to the batch path
// without interrupting raw capture.
type FrameSink interface {
	WriteFrame(ctx context.Context, frame []float32) error
	Finish(ctx context.Context) (string, error)
	Close() error
}

// Result is what a stopped session yields: always the raw recording, plus a
// live-merged transcript when the streaming path survived to stop.
type Result struct {
	Raw             []byte  // WAV container of the complete recording
	Transcript      *string // non-nil only when live transcription succeeded
	DurationSeconds float64
	Downgraded      bool // live path failed mid-turn; transcribe Raw instead
}

// BeginRequest describes one capture turn.
type BeginRequest struct {
	Mode          Mode
	Transcription TranscriptionMode
	Sink          FrameSink // non-nil only for the live path
}

// Config holds capture tuning. Zero values select the defaults.
type Config struct {
	Countdown   time.Duration // pre-roll before hardware activation (default 3s)
	MaxDuration time.Duration // hard ceiling that auto-stops (default 300s)
	SampleRate  int           // default 16000
	FrameSize   int           // samples per frame (default 4096)
}

func (c Config) withDefaults() Config {
	if c.Countdown == 0 {
		c.Countdown = 3 * time.Second
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = 300 * time.Second
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.FrameSize == 0 {
		c.FrameSize = 4096
	}
	return c
}

// Controller owns capture hardware access. At most one session is active at a
// time.
type Controller struct {
	cfg    Config
	source Source
	logger *log.Logger

	mu     sync.Mutex
	active *Session
}

// New creates a capture controller over the given hardware source.
func New(cfg Config, source Source, logger *log.Logger) *Controller {
	return &Controller{cfg: cfg.withDefaults(), source: source, logger: logger}
}

// Session is one exclusive capture of the hardware. Created by Begin,
// destroyed by Stop (or the ceiling, or controller Close).
type Session struct {
	ID            string
	Mode          Mode
	Transcription TranscriptionMode
	StartedAt     time.Time

	controller *Controller
	stream     Stream
	sink       FrameSink

	status  atomic.Int32
	elapsed atomic.Int64

	mu         sync.Mutex
	raw        []byte
	downgraded bool

	done     chan struct{}
	pumpDone chan struct{}
	stopOnce sync.Once
	result   Result
}

// Begin reserves the capture slot, runs the cancellable countdown, then
// acquires the hardware and starts pumping frames. Countdown cancellation
// returns before any hardware is touched.
func (c *Controller) Begin(ctx context.Context, req BeginRequest) (*Session, error) {
	s := &Session{
		ID:            uuid.NewString(),
		Mode:          req.Mode,
		Transcription: req.Transcription,
		controller:    c,
		sink:          req.Sink,
		done:          make(chan struct{}),
		pumpDone:      make(chan struct{}),
	}
	s.status.Store(int32(StatusCountingDown))

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyCapturing
	}
	c.active = s
	c.mu.Unlock()

	select {
	case <-time.After(c.cfg.Countdown):
	case <-ctx.Done():
		c.release(s)
		return nil, ctx.Err()
	}

	stream, err := c.source.Open(ctx, SourceConfig{
		Mode:       req.Mode,
		SampleRate: c.cfg.SampleRate,
		FrameSize:  c.cfg.FrameSize,
	})
	if err != nil {
		c.release(s)
		return nil, err
	}

	s.stream = stream
	s.StartedAt = time.Now().UTC()
	s.status.Store(int32(StatusRecording))

	go s.pump()
	go s.watchCeiling(c.cfg.MaxDuration)

	c.logger.Printf("capture: session %s started (mode=%s, transcription=%s)", s.ID, s.Mode, s.Transcription)
	return s, nil
}

// Stop ends the session and returns its result. Safe to call redundantly:
// explicit stop, ceiling timeout, and teardown all converge here and the
// hardware is released exactly once.
func (c *Controller) Stop(ctx context.Context, s *Session) (Result, error) {
	s.finalize(ctx)
	return s.result, nil
}

// Close tears down any active session. Used on component teardown.
func (c *Controller) Close() error {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s != nil {
		s.finalize(context.Background())
	}
	return nil
}

func (c *Controller) release(s *Session) {
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()
}

// Status returns the session lifecycle state.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// Done is closed when the session has stopped, whether by explicit stop, the
// duration ceiling, or teardown. After Done fires, Stop returns the result
// without further side effects.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ElapsedSeconds reports how long the session has been recording.
func (s *Session) ElapsedSeconds() int64 {
	return s.elapsed.Load()
}

// LiveTranscript returns the current merged transcript for display, or ""
// when the session has no live sink.
func (s *Session) LiveTranscript() string {
	s.mu.Lock()
	sink, downgraded := s.sink, s.downgraded
	s.mu.Unlock()
	if sink == nil || downgraded {
		return ""
	}
	if cur, ok := sink.(interface{ Current() string }); ok {
		return cur.Current()
	}
	return ""
}

/// pump drains hardware frames: raw PCM is always accumulated so a mid-turn
// downgrade still has the full recording; live frames additionally go to the
// sink until it fails.
func (s *Session) pump() {
	defer close(s.pumpDone)

	ctx := context.Background()
	for frame := range s.stream.Frames() {
		pcm := stt.EncodePCM16(frame)

		s.mu.Lock()
		s.raw = append(s.raw, pcm...)
		sink, downgraded := s.sink, s.downgraded
		s.mu.Unlock()

		if sink == nil || downgraded {
			continue
		}
		if err := sink.WriteFrame(ctx, frame); err != nil {
			s.controller.logger.Printf("capture: live stream failed, downgrading to batch: %v", err)
			s.markDowngraded()
		}
	}
}

func (s *Session) markDowngraded() {
	s.mu.Lock()
	already := s.downgraded
	s.downgraded = true
	sink := s.sink
	s.mu.Unlock()
	if !already && sink != nil {
		_ = sink.Close()
	}
}

// watchCeiling advances the elapsed counter at 1 Hz and auto-stops at the
// hard duration ceiling.
func (s *Session) watchCeiling(max time.Duration) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			e := s.elapsed.Add(1)
			if time.Duration(e)*time.Second >= max {
				s.controller.logger.Printf("capture: session %s hit duration ceiling, stopping", s.ID)
				go s.finalize(context.Background())
				return
			}
		}
	}
}

// finalize is the single teardown routine all stop paths converge on.
func (s *Session) finalize(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.status.Store(int32(StatusStopped))
		close(s.done)

		if s.stream != nil {
			_ = s.stream.Close()
			<-s.pumpDone
		}

		s.mu.Lock()
		raw := s.raw
		downgraded := s.downgraded
		sink := s.sink
		s.mu.Unlock()

		res := Result{
			Raw:        EncodeWAV(raw, s.controller.cfg.SampleRate, 1),
			Downgraded: downgraded,
		}
		if !s.StartedAt.IsZero() {
			res.DurationSeconds = time.Since(s.StartedAt).Seconds()
		}

		if sink != nil && !downgraded {
			text, err := sink.Finish(ctx)
			if err != nil {
				s.controller.logger.Printf("capture: stream failed at stop, falling back to batch: %v", err)
				res.Downgraded = true
			} else {
				res.Transcript = &text
			}
		}
		if sink != nil {
			_ = sink.Close()
		}

		s.controller.release(s)
		s.result = res
		s.controller.logger.Printf("capture: session %s stopped after %.1fs", s.ID, res.DurationSeconds)
	})
}
