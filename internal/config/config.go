// Package config holds the server settings, read from WINDOWCAP_*
// environment variables and overridden by command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
)

// Transport selects how the server talks to clients.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "http"
)

// Config is the resolved server configuration.
type Config struct {
	Host       string        `env:"WINDOWCAP_HOST,default=127.0.0.1"`
	Port       uint16        `env:"WINDOWCAP_PORT,default=8080"`
	LogLevel   string        `env:"WINDOWCAP_LOG_LEVEL,default=info"`
	Workers    int           `env:"WINDOWCAP_WORKERS,default=0"`
	RedisAddr  string        `env:"WINDOWCAP_REDIS_ADDR"`
	SessionTTL time.Duration `env:"WINDOWCAP_SESSION_TTL,default=1h"`
	Heartbeat  time.Duration `env:"WINDOWCAP_HEARTBEAT,default=15s"`
	Metrics    bool          `env:"WINDOWCAP_METRICS,default=false"`

	// SSE and HTTP are set from flags only. SSE wins when both are set.
	SSE  bool
	HTTP bool
}

// Load reads the environment. Unset variables take their defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// Transport returns the selected transport.
func (c *Config) Transport() Transport {
	switch {
	case c.SSE:
		return TransportSSE
	case c.HTTP:
		return TransportStreamableHTTP
	default:
		return TransportStdio
	}
}

// Addr validates host and port and returns the listen address.
func (c *Config) Addr() (string, error) {
	addr := net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return "", fmt.Errorf("invalid address %s: %w", addr, err)
	}
	return addr, nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// Validate checks the settings that do not depend on the transport.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session ttl must not be negative, got %s", c.SessionTTL)
	}
	return nil
}
