package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// PulseSource captures microphone audio from the PulseAudio default source.
// Video capture uses the same source for its audio track; video frames are
// the presentation layer's concern.
type PulseSource struct {
	appName string
}

// NewPulseSource creates a PulseAudio-backed hardware source.
func NewPulseSource(appName string) *PulseSource {
	if appName == "" {
		appName = "storybooth"
	}
	return &PulseSource{appName: appName}
}

// Open connects to the Pulse server and starts a float32 record stream on the
// default source. Connection or device failures wrap ErrHardwareUnavailable.
func (p *PulseSource) Open(ctx context.Context, cfg SourceConfig) (Stream, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(p.appName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect pulse server: %v", ErrHardwareUnavailable, err)
	}

	source, err := client.DefaultSource()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: resolve default source: %v", ErrHardwareUnavailable, err)
	}

	ps := &pulseStream{
		client: client,
		frames: make(chan []float32, 32),
		stopCh: make(chan struct{}),
		size:   cfg.FrameSize,
	}

	writer := pulse.NewWriter(writerFunc(ps.onPCM), pulseproto.FormatFloat32LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(cfg.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(cfg.FrameSize*4)),
		pulse.RecordMediaName("storybooth capture"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: create record stream: %v", ErrHardwareUnavailable, err)
	}

	ps.stream = stream
	stream.Start()

	go func() {
		<-ctx.Done()
		_ = ps.Close()
	}()

	return ps, nil
}

type pulseStream struct {
	client *pulse.Client
	stream *pulse.RecordStream

	frames chan []float32
	stopCh chan struct{}
	size   int

	mu      sync.Mutex
	pending []float32
	stopped bool

	inflight sync.WaitGroup
}

func (s *pulseStream) Frames() <-chan []float32 {
	return s.frames
}

// Close halts the stream, flushes the residual partial frame, and closes
// Frames exactly once. The Pulse client (the hardware handle) is released
// here on every path.
func (s *pulseStream) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}

	s.inflight.Wait()

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(pending) > 0 {
		frame := make([]float32, len(pending))
		copy(frame, pending)
		select {
		case s.frames <- frame:
		default:
		}
	}

	close(s.frames)
	return nil
}

// onPCM receives raw float32 LE bytes from Pulse and emits fixed-size frames.
func (s *pulseStream) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-s.stopCh:
		return 0, io.EOF
	default:
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as s.stopped to avoid Add/Wait races.
	s.inflight.Add(1)

	for i := 0; i+4 <= len(buffer); i += 4 {
		bits := binary.LittleEndian.Uint32(buffer[i:])
		s.pending = append(s.pending, math.Float32frombits(bits))
	}

	frames := make([][]float32, 0, len(s.pending)/s.size)
	for len(s.pending) >= s.size {
		frame := make([]float32, s.size)
		copy(frame, s.pending[:s.size])
		s.pending = s.pending[s.size:]
		frames = append(frames, frame)
	}
	s.mu.Unlock()
	defer s.inflight.Done()

	for _, frame := range frames {
		select {
		case <-s.stopCh:
			return 0, io.EOF
		case s.frames <- frame:
		}
	}

	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
