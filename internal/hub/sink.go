package hub

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultSinkBuffer is the number of frames a ChanSink holds before Send
// starts failing.
const DefaultSinkBuffer = 16

// ChanSink is a Sink backed by a buffered channel. The connection handler
// drains Frames and writes them to the client; Send never blocks a
// broadcaster.
type ChanSink struct {
	id     string
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	return &ChanSink{
		id:     uuid.NewString(),
		frames: make(chan []byte, buffer),
	}
}

// ID returns the sink's unique identifier.
func (s *ChanSink) ID() string { return s.id }

// Send queues a frame. It fails with ErrSinkClosed after Close. When the
// buffer is exhausted the client is not keeping up: the sink closes itself
// so the connection handler ends, and Send returns ErrSinkFull.
func (s *ChanSink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.frames <- frame:
		return nil
	default:
		s.closeLocked()
		return ErrSinkFull
	}
}

// Frames returns the channel the connection handler reads from.
func (s *ChanSink) Frames() <-chan []byte { return s.frames }

// Close marks the sink closed. Safe to call more than once.
func (s *ChanSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *ChanSink) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
}
