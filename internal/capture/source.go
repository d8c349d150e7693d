package capture

import "context"

// SourceConfig describes how the hardware should be captured.
type SourceConfig struct {
	Mode       Mode
	SampleRate int
	FrameSize  int // samples per emitted frame
}

// Source creates hardware capture streams. Opening a stream acquires the
// device; closing the stream releases it.
type Source interface {
	Open(ctx context.Context, cfg SourceConfig) (Stream, error)
}

// Stream is an open hardware capture. Frames delivers float32 sample frames
// until Close; Close is idempotent and releases the device.
type Stream interface {
	Frames() <-chan []float32
	Close() error
}
