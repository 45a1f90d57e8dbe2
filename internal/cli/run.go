package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ggoodman/window-cap-mcp/capture"
	"github.com/ggoodman/window-cap-mcp/internal/bridge"
	"github.com/ggoodman/window-cap-mcp/internal/config"
	"github.com/ggoodman/window-cap-mcp/internal/logctx"
	"github.com/ggoodman/window-cap-mcp/internal/metrics"
	"github.com/ggoodman/window-cap-mcp/mcpservice"
	"github.com/ggoodman/window-cap-mcp/sessions"
	"github.com/ggoodman/window-cap-mcp/sessions/memoryhost"
	"github.com/ggoodman/window-cap-mcp/sessions/redishost"
	"github.com/ggoodman/window-cap-mcp/sse"
	"github.com/ggoodman/window-cap-mcp/stdio"
	"github.com/ggoodman/window-cap-mcp/streaminghttp"
	"github.com/ggoodman/window-cap-mcp/windowcap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const shutdownTimeout = 10 * time.Second

// Run wires the capture service to the selected transport and serves until
// ctx ends or the transport stops.
func Run(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout, stderr io.Writer) error {
	lvl, err := cfg.Level()
	if err != nil {
		return err
	}
	log := logctx.Wrap(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl})))

	var addr string
	if cfg.Transport() != config.TransportStdio {
		if addr, err = cfg.Addr(); err != nil {
			return err
		}
	}

	pool := bridge.New(bridge.WithWorkers(cfg.Workers), bridge.WithLogger(log))
	defer pool.Close()
	svc := capture.NewService(capture.NewPlatform(log), pool, log)
	defer svc.Close()

	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.New()
		m.WatchPool(pool)
	}
	server := windowcap.NewServer(svc)

	log.InfoContext(ctx, "server.start",
		slog.String("transport", string(cfg.Transport())),
		slog.String("version", windowcap.ServerVersion),
		slog.Int("workers", pool.Stats().Workers))

	switch cfg.Transport() {
	case config.TransportSSE:
		h := sse.New(server, sse.WithLogger(log), sse.WithMetrics(m), sse.WithHeartbeat(cfg.Heartbeat))
		return serveHTTP(ctx, log, addr, h, h.Shutdown)
	case config.TransportStreamableHTTP:
		return runStreamingHTTP(ctx, log, cfg, addr, server, m)
	default:
		return stdio.NewHandler(server, stdio.WithIO(stdin, stdout), stdio.WithLogger(log), stdio.WithMetrics(m)).Serve(ctx)
	}
}

func runStreamingHTTP(ctx context.Context, log *slog.Logger, cfg *config.Config, addr string, server mcpservice.ServerCapabilities, m *metrics.Metrics) error {
	var host sessions.SessionHost
	if cfg.RedisAddr != "" {
		rh, err := redishost.New(ctx, redishost.Config{RedisAddr: cfg.RedisAddr})
		if err != nil {
			return fmt.Errorf("connect session host: %w", err)
		}
		defer rh.Close()
		host = rh
		log.InfoContext(ctx, "session_host.redis", slog.String("addr", cfg.RedisAddr))
	} else {
		host = memoryhost.New()
	}

	h, err := streaminghttp.New(ctx, host, server,
		streaminghttp.WithLogger(log),
		streaminghttp.WithMetrics(m),
		streaminghttp.WithSessionTTL(cfg.SessionTTL),
		streaminghttp.WithHeartbeat(cfg.Heartbeat),
	)
	if err != nil {
		return err
	}
	return serveHTTP(ctx, log, addr, h, h.Shutdown)
}

func serveHTTP(ctx context.Context, log *slog.Logger, addr string, h http.Handler, shutdown func(context.Context) error) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serveListener(ctx, log, ln, h, shutdown)
}

// serveListener serves HTTP/1.1 and cleartext HTTP/2 on ln. When ctx ends
// the transport's shutdown runs first so long-lived streams finish, then
// the server stops.
func serveListener(ctx context.Context, log *slog.Logger, ln net.Listener, h http.Handler, shutdown func(context.Context) error) error {
	srv := &http.Server{
		Handler:           h2c.NewHandler(h, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.InfoContext(ctx, "http.listen", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := shutdown(sctx); err != nil {
		log.WarnContext(sctx, "transport.shutdown.fail", slog.String("err", err.Error()))
	}
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.InfoContext(sctx, "http.stopped")
	return nil
}
