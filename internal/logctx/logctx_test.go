package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/ggoodman/window-cap-mcp/sessions"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewTextHandler(&buf, nil)}).With(slog.String("component", "test"))

	ctx := WithSessionData(context.Background(), &SessionData{SessionID: "s1", Transport: "stdio", State: sessions.StateActive})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "tools/call", ID: "7", Type: "request"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "list_monitors"})
	log.InfoContext(ctx, "engine.handle_request.ok")

	out := buf.String()
	for _, want := range []string{"component=test", "sess.id=s1", "sess.transport=stdio", "sess.state=active", "rpc.method=tools/call", "rpc.id=7", "tool.name=list_monitors"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %s", want, out)
		}
	}
}

func TestHandlerWithoutContextValues(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewTextHandler(&buf, nil)})
	log.InfoContext(context.Background(), "plain")
	if strings.Contains(buf.String(), "sess.") || strings.Contains(buf.String(), "req.") {
		t.Fatalf("unexpected groups in %s", buf.String())
	}
}

func TestWrapIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	log := Wrap(Wrap(slog.New(slog.NewTextHandler(&buf, nil))))
	ctx := WithToolCallData(context.Background(), &ToolCallData{ToolName: "close_window"})
	log.InfoContext(ctx, "once")
	if n := strings.Count(buf.String(), "tool.name=close_window"); n != 1 {
		t.Fatalf("expected one tool group, got %d in %s", n, buf.String())
	}
}
