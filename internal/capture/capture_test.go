package capture

import (
	"context"
	"errors"
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(os.Stdout, "", log.LstdFlags)
}

type fakeStream struct {
	frames chan []float32
	closes atomic.Int32
}

func newFakeStream(frames ...[]float32) *fakeStream {
	ch := make(chan []float32, len(frames)+1)
	for _, f := range frames {
		ch <- f
	}
	return &fakeStream{frames: ch}
}

func (f *fakeStream) Frames() <-chan []float32 { return f.frames }

func (f *fakeStream) Close() error {
	if f.closes.Add(1) == 1 {
		close(f.frames)
	}
	return nil
}

type fakeSource struct {
	opens   atomic.Int32
	openErr error
	stream  *fakeStream
}

func (f *fakeSource) Open(ctx context.Context, cfg SourceConfig) (Stream, error) {
	f.opens.Add(1)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

type fakeSink struct {
	writeErr   error
	finishText string
	finishErr  error

	writes   atomic.Int32
	finishes atomic.Int32
	closes   atomic.Int32
}

func (f *fakeSink) WriteFrame(ctx context.Context, frame []float32) error {
	f.writes.Add(1)
	return f.writeErr
}

func (f *fakeSink) Finish(ctx context.Context) (string, error) {
	f.finishes.Add(1)
	return f.finishText, f.finishErr
}

func (f *fakeSink) Close() error {
	f.closes.Add(1)
	return nil
}

func fastConfig() Config {
	return Config{
		Countdown:   10 * time.Millisecond,
		MaxDuration: 300 * time.Second,
		SampleRate:  16000,
		FrameSize:   4,
	}
}

func TestBatchCaptureYieldsRawRecording(t *testing.T) {
	src := &fakeSource{stream: newFakeStream([]float32{0, 0.5, -0.5, 1})}
	c := New(fastConfig(), src, testLogger())

	s, err := c.Begin(context.Background(), BeginRequest{Mode: ModeVoice, Transcription: TranscriptionBatch})
	require.NoError(t, err)
	assert.Equal(t, StatusRecording, s.Status())

	// Let the pump drain the preloaded frame.
	time.Sleep(50 * time.Millisecond)

	result, err := c.Stop(context.Background(), s)
	require.NoError(t, err)
	assert.Nil(t, result.Transcript)
	assert.False(t, result.Downgraded)
	// 44-byte WAV header plus 4 samples of 16-bit PCM.
	assert.Len(t, result.Raw, 44+8)
	assert.Equal(t, StatusStopped, s.Status())
}

func TestLiveCaptureYieldsTranscript(t *testing.T) {
	src := &fakeSource{stream: newFakeStream([]float32{0.1, 0.2, 0.3, 0.4})}
	sink := &fakeSink{finishText: "I went to the lake."}
	c := New(fastConfig(), src, testLogger())

	s, err := c.Begin(context.Background(), BeginRequest{
		Mode:          ModeVoice,
		Transcription: TranscriptionLive,
		Sink:          sink,
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	result, err := c.Stop(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, result.Transcript)
	assert.Equal(t, "I went to the lake.", *result.Transcript)
	assert.False(t, result.Downgraded)
	assert.GreaterOrEqual(t, sink.writes.Load(), int32(1))
	assert.GreaterOrEqual(t, sink.closes.Load(), int32(1), "sink must be released")
}

func TestSinkFailureDowngradesWithoutLosingAudio(t *testing.T) {
	src := &fakeSource{stream: newFakeStream([]float32{0.1, 0.2, 0.3, 0.4})}
	sink := &fakeSink{writeErr: errors.New("socket broke")}
	c := New(fastConfig(), src, testLogger())

	s, err := c.Begin(context.Background(), BeginRequest{
		Mode:          ModeVoice,
		Transcription: TranscriptionLive,
		Sink:          sink,
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	result, err := c.Stop(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Downgraded)
	assert.Nil(t, result.Transcript)
	assert.Len(t, result.Raw, 44+8, "raw audio must survive the downgrade")
	assert.Equal(t, int32(0), sink.finishes.Load(), "a downgraded sink is not finished")
}

func TestFinishFailureDowngradesAtStop(t *testing.T) {
	src := &fakeSource{stream: newFakeStream([]float32{0.1, 0.2, 0.3, 0.4})}
	sink := &fakeSink{finishErr: errors.New("stream broke at close")}
	c := New(fastConfig(), src, testLogger())

	s, err := c.Begin(context.Background(), BeginRequest{
		Mode:          ModeVoice,
		Transcription: TranscriptionLive,
		Sink:          sink,
	})
	require.NoError(t, err)

	result, err := c.Stop(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Downgraded)
	assert.Nil(t, result.Transcript)
}

func TestCountdownCancelTouchesNoHardware(t *testing.T) {
	src := &fakeSource{stream: newFakeStream()}
	cfg := fastConfig()
	cfg.Countdown = 200 * time.Millisecond
	c := New(cfg, src, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Begin(ctx, BeginRequest{Mode: ModeVoice, Transcription: TranscriptionBatch})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), src.opens.Load(), "no hardware may be acquired on cancelled countdown")

	// The slot must be free again.
	src.stream = newFakeStream()
	cfg2 := fastConfig()
	c2 := New(cfg2, src, testLogger())
	s, err := c2.Begin(context.Background(), BeginRequest{Mode: ModeVoice, Transcription: TranscriptionBatch})
	require.NoError(t, err)
	_, _ = c2.Stop(context.Background(), s)
}

func TestAlreadyCapturing(t *testing.T) {
	src := &fakeSource{stream: newFakeStream()}
	c := New(fastConfig(), src, testLogger())

	s, err := c.Begin(context.Background(), BeginRequest{Mode: ModeVoice, Transcription: TranscriptionBatch})
	require.NoError(t, err)

	_, err = c.Begin(context.Background(), BeginRequest{Mode: ModeVoice, Transcription: TranscriptionBatch})
	assert.ErrorIs(t, err, ErrAlreadyCapturing)

	_, err = c.Stop(context.Background(), s)
	require.NoError(t, err)

	// Released slot accepts a new session.
	src.stream = newFakeStream()
	s2, err := c.Begin(context.Background(), BeginRequest{Mode: ModeVoice, Transcription: TranscriptionBatch})
	require.NoError(t, err)
	_, _ = c.Stop(context.Background(), s2)
}

func TestTeardownIdempotent(t *testing.T) {
	src := &fakeSource{stream: newFakeStream([]float32{0.1, 0.2, 0.3, 0.4})}
	c := New(fastConfig(), src, testLogger())

	s, err := c.Begin(context.Background(), BeginRequest{Mode: ModeVoice, Transcription: TranscriptionBatch})
	require.NoError(t, err)

	first, err := c.Stop(context.Background(), s)
	require.NoError(t, err)

	// Redundant stop, as when an explicit stop races the ceiling timeout.
	second, err := c.Stop(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, first.Raw, second.Raw)

	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), src.stream.closes.Load(), "hardware released exactly once")
}

func TestHardwareUnavailable(t *testing.T) {
	src := &fakeSource{openErr: ErrHardwareUnavailable}
	c := New(fastConfig(), src, testLogger())

	_, err := c.Begin(context.Background(), BeginRequest{Mode: ModeVoice, Transcription: TranscriptionBatch})
	assert.ErrorIs(t, err, ErrHardwareUnavailable)

	// Failed acquisition must free the slot.
	src.openErr = nil
	src.stream = newFakeStream()
	s, err := c.Begin(context.Background(), BeginRequest{Mode: ModeVoice, Transcription: TranscriptionBatch})
	require.NoError(t, err)
	_, _ = c.Stop(context.Background(), s)
}

func TestDurationCeilingAutoStops(t *testing.T) {
	src := &fakeSource{stream: newFakeStream()}
	cfg := fastConfig()
	cfg.MaxDuration = 1 * time.Second
	c := New(cfg, src, testLogger())

	s, err := c.Begin(context.Background(), BeginRequest{Mode: ModeVoice, Transcription: TranscriptionBatch})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Status() == StatusStopped
	}, 5*time.Second, 50*time.Millisecond, "ceiling must auto-stop the session")

	// Explicit stop after the ceiling fired is still clean.
	_, err = c.Stop(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.stream.closes.Load())
}
