package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ggoodman/window-cap-mcp/internal/jsonrpc"
	"github.com/ggoodman/window-cap-mcp/sessions"
)

// Conn is a bidirectional message stream for a single session.
type Conn interface {
	// Receive blocks for the next inbound message. It returns io.EOF when
	// the peer is gone.
	Receive(ctx context.Context) (jsonrpc.Message, error)
	Send(ctx context.Context, msg jsonrpc.Message) error
	Close() error
}

// ServeConn runs the request loop for sess over conn: messages are handled
// one at a time in arrival order and each response is sent before the next
// message is read. It returns nil when the peer disconnects, ctx ends or the
// session closes, and closes both the session and conn before returning.
func (e *Engine) ServeConn(ctx context.Context, sess *Session, conn Conn) error {
	ctx = WithSession(ctx, sess)
	defer func() {
		_ = sess.Close(context.WithoutCancel(ctx))
		_ = conn.Close()
	}()

	for {
		if sess.State() == sessions.StateClosed {
			return nil
		}
		msg, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			select {
			case <-sess.Done():
				return nil
			default:
			}
			return fmt.Errorf("receive: %w", err)
		}

		resp := e.HandleMessage(ctx, sess, msg)
		if resp == nil {
			continue
		}
		b, err := json.Marshal(resp)
		if err != nil {
			e.log.ErrorContext(ctx, "engine.serve_conn.marshal_fail", slog.String("err", err.Error()))
			continue
		}
		if err := conn.Send(ctx, b); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send: %w", err)
		}
	}
}
