package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vector-ops/minikv/internal/command"
	"github.com/vector-ops/minikv/internal/metrics"
	"github.com/vector-ops/minikv/internal/storage"
	"github.com/vector-ops/minikv/internal/transport"
)

type Config struct {
	// MaxFrameSize bounds the bytes buffered for one request; 0 is unlimited.
	MaxFrameSize int
	// RateLimit caps commands per second per connection; 0 disables it.
	RateLimit int
}

// Server accepts client connections and serves each one on its own goroutine
// against a shared store.
type Server struct {
	Config

	kv      *storage.KV
	logger  *slog.Logger
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

func NewServer(cfg Config, kv *storage.KV, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		Config:  cfg,
		kv:      kv,
		logger:  logger,
		metrics: m,
	}
}

// Run serves ln with no cancellation. It only returns if the listener fails
// or is closed.
func (s *Server) Run(ln net.Listener) error {
	return s.Serve(context.Background(), ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
// Either way every open connection is closed, and Serve waits for their
// handlers before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	s.logger.Info("accepting inbound connections", "listenAddr", ln.Addr().String())

	err := s.acceptLoop(ctx, ln)
	cancel()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			// Back off on transient failures such as running out of file descriptors.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			s.logger.Error("accept error", "err", err, "retryIn", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	h := s.newHandler(transport.NewConnection(conn, transport.WithMaxFrameSize(s.MaxFrameSize)))

	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ConnectionsActive.Inc()
	defer s.metrics.ConnectionsActive.Dec()

	h.logger.Debug("peer connected")
	if err := h.run(ctx); err != nil && ctx.Err() == nil {
		s.metrics.ConnectionErrors.Inc()
		h.logger.Error("connection failed", "err", err)
		return
	}
	h.logger.Debug("peer disconnected")
}

func (s *Server) newHandler(t transport.Transport) *handler {
	h := &handler{
		conn:    t,
		db:      s.kv,
		metrics: s.metrics,
		logger:  s.logger.With("conn", uuid.New().String(), "remoteAddr", t.RemoteAddr()),
	}
	if s.RateLimit > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(s.RateLimit), s.RateLimit)
	}
	return h
}

// handler serves one connection: requests are read, applied and answered
// strictly in arrival order.
type handler struct {
	conn    transport.Transport
	db      command.Store
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// run returns nil when the peer closes the stream between requests.
func (h *handler) run(ctx context.Context) error {
	for {
		f, err := h.conn.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		h.logger.Debug("received frame", "frame", f)

		cmd, err := command.FromFrame(f)
		if err != nil {
			return err
		}
		h.logger.Debug("command", "name", cmd.Name())

		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		if err := cmd.Apply(h.db, h.conn); err != nil {
			return err
		}
		h.metrics.CommandsTotal.WithLabelValues(metricLabel(cmd)).Inc()
	}
}

func metricLabel(cmd command.Command) string {
	if _, ok := cmd.(command.Unknown); ok {
		return "unknown"
	}
	return cmd.Name()
}
