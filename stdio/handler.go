package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/window-cap-mcp/internal/engine"
	"github.com/ggoodman/window-cap-mcp/internal/jsonrpc"
	"github.com/ggoodman/window-cap-mcp/internal/metrics"
	"github.com/ggoodman/window-cap-mcp/mcpservice"
)

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default it uses
// os.Stdin and os.Stdout.
type Handler struct {
	srv     mcpservice.ServerCapabilities
	r       io.Reader
	w       io.Writer
	l       *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		srv: srv,
		r:   os.Stdin,
		w:   os.Stdout,
		l:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the session until EOF on the reader, the context is cancelled
// or the session closes (for example after a failed version negotiation).
// It is safe to call at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	eng := engine.NewEngine(h.srv, engine.WithLogger(h.l), engine.WithMetrics(h.metrics))
	sess := eng.NewSession("stdio")
	conn := newConn(h.r, h.w)

	h.l.InfoContext(ctx, "stdio.session.start", slog.String("session_id", sess.SessionID()))
	err := eng.ServeConn(ctx, sess, conn)
	h.l.InfoContext(ctx, "stdio.session.end", slog.String("session_id", sess.SessionID()))
	return err
}

type line struct {
	b   []byte
	err error
}

// conn frames messages as lines. Reading happens on its own goroutine so
// that Receive can observe context cancellation while stdin blocks.
type conn struct {
	lines chan line

	wmu sync.Mutex
	w   *bufio.Writer
}

func newConn(r io.Reader, w io.Writer) *conn {
	c := &conn{lines: make(chan line), w: bufio.NewWriter(w)}
	go c.readLoop(bufio.NewReader(r))
	return c
}

func (c *conn) readLoop(br *bufio.Reader) {
	defer close(c.lines)
	for {
		b, err := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(b); len(trimmed) > 0 {
			c.lines <- line{b: trimmed}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.lines <- line{err: err}
			}
			return
		}
	}
}

func (c *conn) Receive(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case l, ok := <-c.lines:
		if !ok {
			return nil, io.EOF
		}
		if l.err != nil {
			return nil, l.err
		}
		return l.b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) Send(ctx context.Context, msg jsonrpc.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(msg); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

// Close leaves the underlying streams open; they belong to the process.
func (c *conn) Close() error { return nil }
