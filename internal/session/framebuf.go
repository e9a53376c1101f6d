package session

import (
	"context"
	"errors"
	"sync"
)

// Frame buffer errors.
var (
	ErrCameraUnavailable = errors.New("camera unavailable: no frame received")
	ErrStreamClosed      = errors.New("camera stream closed")
	ErrAlreadyAcquired   = errors.New("camera already acquired")
)

// FrameBuffer is a Camera backed by frames pushed from a remote client
// (the browser streams webcam snapshots over the exam WebSocket). Acquire
// blocks until the first non-empty frame arrives, which stands in for the
// camera-permission handshake: no frame within the deadline means the
// student's camera never came up and the session must not start.
type FrameBuffer struct {
	mu       sync.Mutex
	latest   Frame
	hasFrame bool
	acquired bool
	closed   bool
	ready    chan struct{}
}

// NewFrameBuffer creates an empty frame buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{ready: make(chan struct{})}
}

// Push stores the newest frame, replacing any previous one. Pushes after
// Close are dropped.
func (b *FrameBuffer) Push(frame Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(frame.Data) == 0 {
		return
	}
	b.latest = frame
	if !b.hasFrame {
		b.hasFrame = true
		close(b.ready)
	}
}

// Acquire implements Camera. It succeeds once the first frame has arrived
// and fails with ErrCameraUnavailable when the context expires first.
func (b *FrameBuffer) Acquire(ctx context.Context) (Stream, error) {
	b.mu.Lock()
	if b.acquired {
		b.mu.Unlock()
		return nil, ErrAlreadyAcquired
	}
	b.acquired = true
	b.mu.Unlock()

	select {
	case <-b.ready:
		return b, nil
	case <-ctx.Done():
		b.mu.Lock()
		b.acquired = false
		b.mu.Unlock()
		return nil, ErrCameraUnavailable
	}
}

// Frame implements Stream, returning the most recent pushed frame.
func (b *FrameBuffer) Frame(ctx context.Context) (Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Frame{}, ErrStreamClosed
	}
	if !b.hasFrame {
		return Frame{}, ErrCameraUnavailable
	}
	return b.latest, nil
}

// Close implements Stream. Subsequent pushes are dropped.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.latest = Frame{}
}
