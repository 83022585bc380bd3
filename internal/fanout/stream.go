package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultSendBuffer is the number of frames a Stream queues before the
// client is considered too slow.
const DefaultSendBuffer = 32

var (
	// ErrStreamClosed is returned by Send after Close.
	ErrStreamClosed = errors.New("stream closed")
	// ErrSlowConsumer is returned by Send when the queue is full.
	ErrSlowConsumer = errors.New("client is not keeping up")
)

// Frame is one server-sent event.
type Frame struct {
	Event string
	Data  []byte
}

// Stream is a Channel backed by a bounded queue that a transport goroutine
// drains with Serve.
type Stream struct {
	frames  chan Frame
	done    chan struct{}
	once    sync.Once
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewStream creates a Stream with the given queue size.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Stream{
		frames: make(chan Frame, buffer),
		done:   make(chan struct{}),
	}
}

// Send queues a frame without blocking.
func (s *Stream) Send(event string, data []byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	select {
	case s.frames <- Frame{Event: event, Data: data}:
		s.sent.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		return ErrSlowConsumer
	}
}

// Close stops the stream. Safe to call multiple times.
func (s *Stream) Close() {
	s.once.Do(func() { close(s.done) })
}

// Done is closed once the stream is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Sent returns the number of frames queued so far.
func (s *Stream) Sent() uint64 {
	return s.sent.Load()
}

// Dropped returns the number of frames rejected because the queue was full.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// Serve writes queued frames to w, calling flush after each one, until ctx is
// cancelled, the stream is closed or a write fails. Frames are written whole.
func (s *Stream) Serve(ctx context.Context, w io.Writer, flush func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case f := <-s.frames:
			if err := WriteFrame(w, f); err != nil {
				return err
			}
			if flush != nil {
				flush()
			}
		}
	}
}

// WriteFrame writes f in text/event-stream format.
func WriteFrame(w io.Writer, f Frame) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Event, f.Data); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", f.Event, err)
	}
	return nil
}
