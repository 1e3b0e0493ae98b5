package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"

	"github.com/vector-ops/minikv/internal/protocol"
)

const (
	initialBufferSize = 4 * 1024
	minReadSize       = 512
)

var (
	// ErrConnReset is returned when the peer closes the stream mid-frame.
	ErrConnReset = errors.New("connection reset by peer")

	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

type Option func(*Connection)

// WithMaxFrameSize bounds the bytes buffered while waiting for one frame.
// Zero means unlimited.
func WithMaxFrameSize(n int) Option {
	return func(c *Connection) {
		c.maxFrameSize = n
	}
}

// Connection reads and writes frames over a byte stream. Received bytes are
// kept in buf until they form a whole frame.
type Connection struct {
	rw  io.ReadWriter
	w   *bufio.Writer
	buf []byte

	wbuf         []byte
	maxFrameSize int
}

func NewConnection(rw io.ReadWriter, opts ...Option) *Connection {
	c := &Connection{
		rw:  rw,
		w:   bufio.NewWriter(rw),
		buf: make([]byte, 0, initialBufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReadFrame returns the next frame from the stream. It returns io.EOF when the
// peer closed the stream between frames and ErrConnReset when it closed in
// the middle of one.
func (c *Connection) ReadFrame() (protocol.Frame, error) {
	for {
		f, ok, err := c.parseFrame()
		if err != nil {
			return protocol.Frame{}, err
		}
		if ok {
			return f, nil
		}

		if c.maxFrameSize > 0 && len(c.buf) > c.maxFrameSize {
			return protocol.Frame{}, fmt.Errorf("%w: %d bytes buffered, limit %d", ErrFrameTooLarge, len(c.buf), c.maxFrameSize)
		}

		if cap(c.buf)-len(c.buf) < minReadSize {
			c.buf = slices.Grow(c.buf, cap(c.buf))
		}
		n, err := c.rw.Read(c.buf[len(c.buf):cap(c.buf)])
		c.buf = c.buf[:len(c.buf)+n]
		if n > 0 {
			continue
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(c.buf) == 0 {
				return protocol.Frame{}, io.EOF
			}
			return protocol.Frame{}, ErrConnReset
		}
		return protocol.Frame{}, err
	}
}

// parseFrame decodes one frame from the front of buf and drops the bytes it
// used. ok is false when buf does not yet hold a whole frame.
func (c *Connection) parseFrame() (protocol.Frame, bool, error) {
	if len(c.buf) == 0 {
		return protocol.Frame{}, false, nil
	}

	f, n, err := protocol.Decode(c.buf)
	if errors.Is(err, protocol.ErrIncomplete) {
		return protocol.Frame{}, false, nil
	}
	if err != nil {
		return protocol.Frame{}, false, err
	}

	rest := copy(c.buf, c.buf[n:])
	c.buf = c.buf[:rest]
	return f, true, nil
}

// WriteFrame encodes f and flushes it to the stream.
func (c *Connection) WriteFrame(f protocol.Frame) error {
	c.wbuf = protocol.AppendFrame(c.wbuf[:0], f)
	if _, err := c.w.Write(c.wbuf); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Connection) RemoteAddr() string {
	if nc, ok := c.rw.(net.Conn); ok {
		return nc.RemoteAddr().String()
	}
	return ""
}

func (c *Connection) Close() error {
	if cl, ok := c.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Buffered returns the number of received bytes not yet returned as a frame.
func (c *Connection) Buffered() int {
	return len(c.buf)
}
