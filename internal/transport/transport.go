package transport

import "github.com/vector-ops/minikv/internal/protocol"

// Transport moves whole frames to and from one peer.
type Transport interface {
	ReadFrame() (protocol.Frame, error)
	WriteFrame(protocol.Frame) error
	RemoteAddr() string
	Close() error
}
