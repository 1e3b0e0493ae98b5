package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/resp"

	"github.com/vector-ops/minikv/internal/logger"
	"github.com/vector-ops/minikv/internal/metrics"
	"github.com/vector-ops/minikv/internal/protocol"
	"github.com/vector-ops/minikv/internal/storage"
	"github.com/vector-ops/minikv/internal/transport"
)

// startServer runs a server on a random local port until the test ends.
func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(cfg, storage.NewKeyVal(), logger.Discard(), metrics.New())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s, ln.Addr().String()
}

type rawClient struct {
	conn net.Conn
	rd   *resp.Reader
}

func dial(t *testing.T, addr string) *rawClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return &rawClient{conn: conn, rd: resp.NewReader(conn)}
}

func (c *rawClient) send(t *testing.T, args ...string) resp.Value {
	t.Helper()
	v, err := c.trySend(args...)
	require.NoError(t, err)
	return v
}

// trySend is send without test assertions, for use off the test goroutine.
func (c *rawClient) trySend(args ...string) (resp.Value, error) {
	vals := make([]resp.Value, 0, len(args))
	for _, a := range args {
		vals = append(vals, resp.StringValue(a))
	}
	var buf bytes.Buffer
	if err := resp.NewWriter(&buf).WriteArray(vals); err != nil {
		return resp.Value{}, err
	}
	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return resp.Value{}, err
	}
	v, _, err := c.rd.ReadValue()
	return v, err
}

func TestEndToEndScenarios(t *testing.T) {
	_, addr := startServer(t, Config{})
	c := dial(t, addr)

	v := c.send(t, "PING")
	assert.Equal(t, resp.SimpleString, v.Type())
	assert.Equal(t, "PONG", v.String())

	v = c.send(t, "PING", "hi")
	assert.Equal(t, resp.BulkString, v.Type())
	assert.Equal(t, "hi", v.String())

	v = c.send(t, "SET", "foo", "bar")
	assert.Equal(t, resp.SimpleString, v.Type())
	assert.Equal(t, "OK", v.String())

	v = c.send(t, "GET", "foo")
	assert.Equal(t, resp.BulkString, v.Type())
	assert.Equal(t, "bar", v.String())

	v = c.send(t, "GET", "missing")
	assert.True(t, v.IsNull())
}

func TestUnknownCommandKeepsConnection(t *testing.T) {
	_, addr := startServer(t, Config{})
	c := dial(t, addr)

	v := c.send(t, "FOO")
	assert.Equal(t, resp.Error, v.Type())
	assert.Contains(t, v.String(), "unknown command")

	v = c.send(t, "PING")
	assert.Equal(t, "PONG", v.String())
}

func TestFragmentedRequest(t *testing.T) {
	_, addr := startServer(t, Config{})
	c := dial(t, addr)

	_, err := c.conn.Write([]byte("*1\r\n$4\r\nPI"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = c.conn.Write([]byte("NG\r\n"))
	require.NoError(t, err)

	v, _, err := c.rd.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, "PONG", v.String())
}

func TestPipelinedRequestsAnsweredInOrder(t *testing.T) {
	_, addr := startServer(t, Config{})
	c := dial(t, addr)

	var buf bytes.Buffer
	wr := resp.NewWriter(&buf)
	for i := 0; i < 20; i++ {
		require.NoError(t, wr.WriteArray([]resp.Value{
			resp.StringValue("SET"), resp.StringValue("k"), resp.StringValue(fmt.Sprint(i)),
		}))
		require.NoError(t, wr.WriteArray([]resp.Value{resp.StringValue("GET"), resp.StringValue("k")}))
	}
	_, err := c.conn.Write(buf.Bytes())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		v, _, err := c.rd.ReadValue()
		require.NoError(t, err)
		assert.Equal(t, "OK", v.String())

		v, _, err = c.rd.ReadValue()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), v.String())
	}
}

func TestMalformedFrameClosesOnlyThatConnection(t *testing.T) {
	s, addr := startServer(t, Config{})
	good := dial(t, addr)
	bad := dial(t, addr)

	assert.Equal(t, "OK", good.send(t, "SET", "a", "1").String())

	_, err := bad.conn.Write([]byte("?garbage\r\n"))
	require.NoError(t, err)
	_, err = io.ReadAll(bad.conn)
	require.NoError(t, err)

	v := good.send(t, "GET", "a")
	assert.Equal(t, "1", v.String())

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(s.metrics.ConnectionErrors) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentSetSameKey(t *testing.T) {
	s, addr := startServer(t, Config{})
	n := 10

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		c := dial(t, addr)
		go func(it int) {
			defer wg.Done()
			v, err := c.trySend("SET", "shared", fmt.Sprintf("bar_%d", it))
			if assert.NoError(t, err) {
				assert.Equal(t, "OK", v.String())
			}
		}(i)
	}
	wg.Wait()

	val, ok := s.kv.Get("shared")
	require.True(t, ok)
	assert.Regexp(t, `^bar_\d$`, string(val))
}

func TestUnknownCommandWithLineBreaks(t *testing.T) {
	_, addr := startServer(t, Config{})
	c := dial(t, addr)

	_, err := c.conn.Write([]byte("*1\r\n$10\r\nFOO\r\n+PONG\r\n"))
	require.NoError(t, err)
	v, _, err := c.rd.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, resp.Error, v.Type())
	assert.Equal(t, `ERR unknown command 'FOO\r\n+PONG'`, v.String())

	// The next reply belongs to the next request.
	assert.True(t, c.send(t, "GET", "missing").IsNull())
}

func TestRateLimitedConnection(t *testing.T) {
	_, addr := startServer(t, Config{RateLimit: 1000})
	c := dial(t, addr)

	for i := 0; i < 5; i++ {
		assert.Equal(t, "PONG", c.send(t, "PING").String())
	}
}

func TestMaxFrameSize(t *testing.T) {
	_, addr := startServer(t, Config{MaxFrameSize: 64})
	c := dial(t, addr)

	req := append([]byte("*2\r\n$3\r\nGET\r\n$1000\r\n"), bytes.Repeat([]byte("x"), 200)...)
	_, err := c.conn.Write(req)
	require.NoError(t, err)

	_, _, err = c.rd.ReadValue()
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(Config{}, storage.NewKeyVal(), logger.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx, ln)
	}()

	c := dial(t, ln.Addr().String())
	assert.Equal(t, "PONG", c.send(t, "PING").String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err = io.ReadAll(c.conn)
	assert.NoError(t, err)
}

func TestHandlerWithMockTransport(t *testing.T) {
	s := NewServer(Config{}, storage.NewKeyVal(), logger.Discard(), metrics.New())
	req := func(args ...string) protocol.Frame {
		f := protocol.NewArray()
		for _, a := range args {
			f.PushBulk([]byte(a))
		}
		return *f
	}
	mock := transport.NewMockTransport(
		req("SET", "k", "v"),
		req("GET", "k"),
		req("NOPE"),
	)

	require.NoError(t, s.newHandler(mock).run(context.Background()))
	assert.Equal(t, []protocol.Frame{
		protocol.Simple("OK"),
		protocol.Bulk([]byte("v")),
		protocol.Err("ERR unknown command 'NOPE'"),
	}, mock.Written())

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.CommandsTotal.WithLabelValues("set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.CommandsTotal.WithLabelValues("unknown")))
}

func TestHandlerStopsOnBadCommand(t *testing.T) {
	s := NewServer(Config{}, storage.NewKeyVal(), logger.Discard(), nil)
	mock := transport.NewMockTransport(
		protocol.Simple("PING"),
		protocol.Array(protocol.Bulk([]byte("PING"))),
	)

	err := s.newHandler(mock).run(context.Background())
	assert.ErrorIs(t, err, protocol.ErrProtocol)
	assert.Empty(t, mock.Written())
}

func TestRunReturnsWhenListenerClosed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(Config{}, storage.NewKeyVal(), logger.Discard(), nil)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ln)
	}()

	c := dial(t, ln.Addr().String())
	assert.Equal(t, "PONG", c.send(t, "PING").String())
	c.conn.Close()

	require.NoError(t, ln.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after listener close")
	}
}

func TestServeClosesConnectionsWhenListenerClosed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(Config{}, storage.NewKeyVal(), logger.Discard(), nil)
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background(), ln)
	}()

	// The client stays connected and idle.
	c := dial(t, ln.Addr().String())
	assert.Equal(t, "PONG", c.send(t, "PING").String())

	require.NoError(t, ln.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return while a connection was open")
	}

	_, _, err = c.rd.ReadValue()
	assert.Error(t, err)
}
