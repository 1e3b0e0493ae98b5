package transport

import (
	"io"
	"sync"

	"github.com/vector-ops/minikv/internal/protocol"
)

// MockTransport replays queued request frames and records every frame written
// to it.
type MockTransport struct {
	mu       sync.Mutex
	requests []protocol.Frame
	written  []protocol.Frame
	closed   bool
}

func NewMockTransport(requests ...protocol.Frame) *MockTransport {
	return &MockTransport{requests: requests}
}

func (t *MockTransport) ReadFrame() (protocol.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || len(t.requests) == 0 {
		return protocol.Frame{}, io.EOF
	}
	f := t.requests[0]
	t.requests = t.requests[1:]
	return f, nil
}

func (t *MockTransport) WriteFrame(f protocol.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return io.ErrClosedPipe
	}
	t.written = append(t.written, f)
	return nil
}

func (t *MockTransport) RemoteAddr() string {
	return "mock-address"
}

func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Written returns the frames written so far.
func (t *MockTransport) Written() []protocol.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]protocol.Frame, len(t.written))
	copy(out, t.written)
	return out
}
