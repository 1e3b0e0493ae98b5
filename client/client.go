// Package client is a small client for the minikv server.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/vector-ops/minikv/internal/command"
	"github.com/vector-ops/minikv/internal/protocol"
	"github.com/vector-ops/minikv/internal/transport"
)

// ServerError is an error reply sent by the server.
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string {
	return e.Msg
}

// Client holds one connection. It is not safe for concurrent use.
type Client struct {
	nc   net.Conn
	conn *transport.Connection
}

func New(ctx context.Context, address string) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &Client{
		nc:   nc,
		conn: transport.NewConnection(nc),
	}, nil
}

func (c *Client) Close() error {
	return c.nc.Close()
}

// Ping returns PONG, or msg echoed back when it is not nil.
func (c *Client) Ping(ctx context.Context, msg []byte) ([]byte, error) {
	f, err := c.roundTrip(ctx, command.NewPing(msg).Frame())
	if err != nil {
		return nil, err
	}
	switch f.Kind {
	case protocol.KindSimple:
		return []byte(f.Str), nil
	case protocol.KindBulk:
		return f.Bulk, nil
	default:
		return nil, unexpected(f)
	}
}

// Get returns the value stored under key; ok is false if there is none.
func (c *Client) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	f, err := c.roundTrip(ctx, command.NewGet(key).Frame())
	if err != nil {
		return nil, false, err
	}
	switch f.Kind {
	case protocol.KindSimple:
		return []byte(f.Str), true, nil
	case protocol.KindBulk:
		return f.Bulk, true, nil
	case protocol.KindNull:
		return nil, false, nil
	default:
		return nil, false, unexpected(f)
	}
}

func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	f, err := c.roundTrip(ctx, command.NewSet(key, value).Frame())
	if err != nil {
		return err
	}
	if f.Kind == protocol.KindSimple && f.Str == "OK" {
		return nil
	}
	return unexpected(f)
}

// Do sends an arbitrary request and returns the raw reply frame.
func (c *Client) Do(ctx context.Context, args ...[]byte) (protocol.Frame, error) {
	req := protocol.NewArray()
	for _, a := range args {
		req.PushBulk(a)
	}
	return c.roundTrip(ctx, *req)
}

func (c *Client) roundTrip(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
	deadline, _ := ctx.Deadline()
	if err := c.nc.SetDeadline(deadline); err != nil {
		return protocol.Frame{}, err
	}
	defer c.nc.SetDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteFrame(req); err != nil {
		return protocol.Frame{}, c.ctxErr(ctx, err)
	}

	f, err := c.conn.ReadFrame()
	if errors.Is(err, io.EOF) {
		return protocol.Frame{}, transport.ErrConnReset
	}
	if err != nil {
		return protocol.Frame{}, c.ctxErr(ctx, err)
	}
	if f.Kind == protocol.KindError {
		return protocol.Frame{}, &ServerError{Msg: f.Str}
	}
	return f, nil
}

// ctxErr reports ctx's error in place of the I/O error it caused.
func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
			return context.DeadlineExceeded
		}
	}
	return err
}

func unexpected(f protocol.Frame) error {
	return fmt.Errorf("unexpected response %s frame: %s", f.Kind, f)
}
