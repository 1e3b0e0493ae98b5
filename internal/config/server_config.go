package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 6379

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

type ServerConfig struct {
	Server  ServerSection  `koanf:"server"`
	Log     LogSection     `koanf:"log"`
	Metrics MetricsSection `koanf:"metrics"`
}

type ServerSection struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// MaxFrameSize bounds the bytes buffered for one request; 0 is unlimited.
	MaxFrameSize int `koanf:"max_frame_size"`
	// RateLimit caps commands per second per connection; 0 disables it.
	RateLimit int `koanf:"rate_limit"`
}

type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsSection struct {
	// Addr serves /metrics when set.
	Addr string `koanf:"addr"`
}

func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// ListenAddr returns the TCP address the server binds.
func (c *ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.MaxFrameSize < 0 {
		return errors.New("server.max_frame_size must not be negative")
	}
	if cfg.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must not be negative")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", cfg.Log.Format)
	}
	return nil
}
