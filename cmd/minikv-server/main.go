package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vector-ops/minikv/internal/config"
	"github.com/vector-ops/minikv/internal/logger"
	"github.com/vector-ops/minikv/internal/metrics"
	"github.com/vector-ops/minikv/internal/server"
	"github.com/vector-ops/minikv/internal/storage"
)

func main() {
	app := &cli.App{
		Name:  "minikv-server",
		Usage: "in-memory key/value server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to YAML config file"},
			&cli.StringFlag{Name: "host", Usage: "address to bind", Value: config.DefaultHost},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "TCP port to listen on", Value: config.DefaultPort},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Value: config.DefaultLogLevel},
			&cli.StringFlag{Name: "log-format", Usage: "text or json", Value: config.DefaultLogFormat},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address"},
			&cli.IntFlag{Name: "max-frame-size", Usage: "maximum request size in bytes (0 = unlimited)"},
			&cli.IntFlag{Name: "rate-limit", Usage: "commands per second per connection (0 = unlimited)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(c, cfg)
	if err := config.Verify(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv := storage.NewKeyVal()
	m := metrics.New()
	m.RegisterKeyCount(kv.Len)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics server listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "err", err)
			}
		}()
		defer srv.Close()
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}

	s := server.NewServer(server.Config{
		MaxFrameSize: cfg.Server.MaxFrameSize,
		RateLimit:    cfg.Server.RateLimit,
	}, kv, log, m)

	log.Info("minikv server running", "listenAddr", ln.Addr().String())
	if err := s.Serve(ctx, ln); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// applyFlags lets explicitly set flags override file and env configuration.
func applyFlags(c *cli.Context, cfg *config.ServerConfig) {
	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Addr = c.String("metrics-addr")
	}
	if c.IsSet("max-frame-size") {
		cfg.Server.MaxFrameSize = c.Int("max-frame-size")
	}
	if c.IsSet("rate-limit") {
		cfg.Server.RateLimit = c.Int("rate-limit")
	}
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}
