package streaminghttp

import (
	"log/slog"
	"time"

	"github.com/ggoodman/window-cap-mcp/internal/metrics"
)

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	path      string
	ttl       time.Duration
	heartbeat time.Duration
}

// WithLogger sets the logger used by the handler. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithMetrics records session and request metrics and serves them on
// /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *newConfig) { c.metrics = m }
}

// WithPath sets the advertised MCP endpoint path. Defaults to /mcp. Paths
// other than /healthz and /metrics reach the same endpoint.
func WithPath(p string) Option {
	return func(c *newConfig) { c.path = p }
}

// WithSessionTTL sets the sliding idle expiry of session records.
// Non-positive values keep sessions until they are deleted.
func WithSessionTTL(d time.Duration) Option {
	return func(c *newConfig) { c.ttl = d }
}

// WithHeartbeat sets the interval between ": ping" comments on GET streams.
func WithHeartbeat(d time.Duration) Option {
	return func(c *newConfig) { c.heartbeat = d }
}
