package sse

import (
	"log/slog"
	"time"

	"github.com/ggoodman/window-cap-mcp/internal/metrics"
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMetrics records session and request metrics and serves them on
// /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithHeartbeat sets the interval between ": ping" comments on open
// streams. Non-positive values disable heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) { h.heartbeat = d }
}

// WithInboxSize sets how many POSTed messages may wait per session before
// further POSTs block.
func WithInboxSize(n int) Option {
	return func(h *Handler) {
		if n >= 0 {
			h.inboxSize = n
		}
	}
}
