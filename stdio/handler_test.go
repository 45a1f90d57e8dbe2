package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/window-cap-mcp/capture"
	"github.com/ggoodman/window-cap-mcp/capture/capturetest"
	"github.com/ggoodman/window-cap-mcp/internal/bridge"
	"github.com/ggoodman/window-cap-mcp/internal/jsonrpc"
	"github.com/ggoodman/window-cap-mcp/mcp"
	"github.com/ggoodman/window-cap-mcp/mcpservice"
	"github.com/ggoodman/window-cap-mcp/windowcap"
)

// testHarness encapsulates pipes and collected output for stdio handler tests.
type testHarness struct {
	t       *testing.T
	stdinW  *io.PipeWriter
	stdoutR *bufio.Scanner
	outMu   sync.Mutex
	lines   []string
	done    chan error
}

func defaultInitializeRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "client", Version: "0.0.1"},
	}
}

func newServer(t *testing.T, p capture.Platform) mcpservice.ServerCapabilities {
	t.Helper()
	pool := bridge.New(bridge.WithWorkers(2))
	t.Cleanup(pool.Close)
	return windowcap.NewServer(capture.NewService(p, pool, nil))
}

func newHarness(t *testing.T, srv mcpservice.ServerCapabilities) *testHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	h := NewHandler(srv, WithIO(inR, outW), WithLogger(slog.Default()))

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHarness{t: t, stdinW: inW, stdoutR: bufio.NewScanner(outR), done: make(chan error, 1)}
	th.stdoutR.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	go func() {
		th.done <- h.Serve(ctx)
	}()

	go func() {
		for th.stdoutR.Scan() {
			line := strings.TrimSpace(th.stdoutR.Text())
			th.t.Logf("OUT: %s", line)
			th.outMu.Lock()
			th.lines = append(th.lines, line)
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
		time.Sleep(10 * time.Millisecond)
	})
	return th
}

// send writes a JSON-RPC request (as marshalled JSON + newline) to stdin.
func (th *testHarness) send(req *jsonrpc.Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return th.sendRaw(string(b))
}

func (th *testHarness) sendRaw(line string) error {
	_, err := th.stdinW.Write([]byte(line + "\n"))
	return err
}

func (th *testHarness) nextLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		th.outMu.Lock()
		if len(th.lines) > 0 {
			s := th.lines[0]
			th.lines = th.lines[1:]
			th.outMu.Unlock()
			return s, nil
		}
		th.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for output line")
}

func (th *testHarness) expectResponse(timeout time.Duration) (*jsonrpc.Response, error) {
	line, err := th.nextLine(timeout)
	if err != nil {
		return nil, err
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, err
	}
	if msg.Type() != "response" {
		return nil, fmt.Errorf("expected response, got %s", msg.Type())
	}
	return msg.AsResponse(), nil
}

func (th *testHarness) initialize(t *testing.T, id string, req mcp.InitializeRequest) *mcp.InitializeResult {
	t.Helper()

	initReq := &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializeMethod),
		ID:             jsonrpc.NewRequestID(id),
		Params:         mustJSON(t, req),
	}
	if err := th.send(initReq); err != nil {
		t.Fatalf("send initialize: %v", err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatalf("expect initialize response: %v", err)
	}
	if res.Error != nil {
		t.Fatalf("initialize failed: %+v", res.Error)
	}
	var initRes mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &initRes); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	return &initRes
}

// activate runs the full handshake.
func (th *testHarness) activate(t *testing.T) {
	t.Helper()
	th.initialize(t, "init", defaultInitializeRequest())
	if err := th.send(&jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.InitializedNotificationMethod)}); err != nil {
		t.Fatalf("send initialized: %v", err)
	}
}

func (th *testHarness) call(t *testing.T, id, name string, args any) *jsonrpc.Response {
	t.Helper()
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	if err := th.send(&jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.ToolsCallMethod),
		ID:             jsonrpc.NewRequestID(id),
		Params:         mustJSON(t, params),
	}); err != nil {
		t.Fatalf("send tools/call: %v", err)
	}
	res, err := th.expectResponse(2 * time.Second)
	if err != nil {
		t.Fatalf("expect tools/call response: %v", err)
	}
	if res.ID == nil || res.ID.String() != id {
		t.Fatalf("expected response id %s, got %v", id, res.ID)
	}
	return res
}

func TestInitialize_HappyPath(t *testing.T) {
	th := newHarness(t, newServer(t, capturetest.New()))
	res := th.initialize(t, "1", defaultInitializeRequest())

	if res.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("expected protocol %s, got %s", mcp.LatestProtocolVersion, res.ProtocolVersion)
	}
	if res.ServerInfo.Name != windowcap.ServerName || res.ServerInfo.Version != windowcap.ServerVersion {
		t.Fatalf("unexpected server info: %+v", res.ServerInfo)
	}
	if res.Capabilities.Tools == nil || res.Capabilities.Tools.ListChanged {
		t.Fatalf("expected tools capability without listChanged, got %+v", res.Capabilities.Tools)
	}
	if res.Instructions == "" {
		t.Fatalf("expected instructions")
	}
}

func TestInitialize_OlderVersionEchoed(t *testing.T) {
	th := newHarness(t, newServer(t, capturetest.New()))
	req := defaultInitializeRequest()
	req.ProtocolVersion = mcp.ProtocolVersion20241105
	res := th.initialize(t, "1", req)
	if res.ProtocolVersion != mcp.ProtocolVersion20241105 {
		t.Fatalf("expected echoed version, got %s", res.ProtocolVersion)
	}
}

func TestInitialize_UnsupportedVersionEndsSession(t *testing.T) {
	th := newHarness(t, newServer(t, capturetest.New()))
	req := defaultInitializeRequest()
	req.ProtocolVersion = "1999-01-01"
	if err := th.send(&jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializeMethod),
		ID:             jsonrpc.NewRequestID("1"),
		Params:         mustJSON(t, req),
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatalf("expect response: %v", err)
	}
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInternalError {
		t.Fatalf("expected internal error, got %+v", res)
	}
	select {
	case err := <-th.done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected Serve to return after failed negotiation")
	}
}

func TestHandshake_ToolsRejectedBeforeInitialized(t *testing.T) {
	th := newHarness(t, newServer(t, capturetest.New()))
	th.initialize(t, "1", defaultInitializeRequest())

	if err := th.send(&jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsListMethod), ID: jsonrpc.NewRequestID("2")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatalf("expect response: %v", err)
	}
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("expected invalid request before initialized, got %+v", res)
	}
}

func TestPing_BeforeInitialize(t *testing.T) {
	th := newHarness(t, newServer(t, capturetest.New()))
	if err := th.send(&jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.PingMethod), ID: jsonrpc.NewRequestID(9)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatalf("expect response: %v", err)
	}
	if res.Error != nil {
		t.Fatalf("expected ping ok, got %+v", res.Error)
	}
}

func TestTools_ListAndCall(t *testing.T) {
	th := newHarness(t, newServer(t, capturetest.New(capture.Window{ID: 3, Title: "term", AppName: "xterm", Width: 8, Height: 8})))
	th.activate(t)

	if err := th.send(&jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsListMethod), ID: jsonrpc.NewRequestID("list")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatalf("expect tools/list response: %v", err)
	}
	var list mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &list); err != nil {
		t.Fatalf("decode tools/list: %v", err)
	}
	if len(list.Tools) != 5 || list.Tools[0].Name != windowcap.ToolListMonitors {
		t.Fatalf("unexpected tools: %+v", list.Tools)
	}

	res = th.call(t, "mon", windowcap.ToolListMonitors, nil)
	if res.Error != nil {
		t.Fatalf("list_monitors failed: %+v", res.Error)
	}
	var cr mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &cr); err != nil {
		t.Fatalf("decode call result: %v", err)
	}
	var monitors struct {
		Count    int `json:"count"`
		Monitors []struct {
			IsPrimary bool `json:"is_primary"`
		} `json:"monitors"`
	}
	if err := json.Unmarshal([]byte(cr.Content[0].Text), &monitors); err != nil {
		t.Fatalf("decode monitors: %v", err)
	}
	if monitors.Count != 1 || !monitors.Monitors[0].IsPrimary {
		t.Fatalf("unexpected monitors: %+v", monitors)
	}

	res = th.call(t, "shot", windowcap.ToolCaptureWindow, map[string]any{"window_id": 3})
	if res.Error != nil {
		t.Fatalf("capture_window failed: %+v", res.Error)
	}
	cr = mcp.CallToolResult{}
	if err := json.Unmarshal(res.Result, &cr); err != nil {
		t.Fatalf("decode call result: %v", err)
	}
	if len(cr.Content) != 2 || cr.Content[1].Type != mcp.ContentTypeImage || cr.Content[1].MimeType != "image/png" {
		t.Fatalf("expected text then png image, got %+v", cr.Content)
	}
}

func TestTools_CaptureMissingWindow(t *testing.T) {
	th := newHarness(t, newServer(t, capturetest.New()))
	th.activate(t)

	res := th.call(t, "x", windowcap.ToolCaptureWindow, map[string]any{"window_id": 4242})
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInternalError {
		t.Fatalf("expected internal error, got %+v", res)
	}
	if !strings.Contains(res.Error.Message, "does not exist") || !strings.Contains(res.Error.Message, "4242") {
		t.Fatalf("expected message naming the window, got %q", res.Error.Message)
	}
}

func TestTools_InvalidArguments(t *testing.T) {
	th := newHarness(t, newServer(t, capturetest.New()))
	th.activate(t)

	res := th.call(t, "x", windowcap.ToolCloseWindow, map[string]any{"window_id": "seven"})
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", res)
	}
}

func TestMalformedLine_ParseError(t *testing.T) {
	th := newHarness(t, newServer(t, capturetest.New()))
	if err := th.sendRaw(`{"jsonrpc":`); err != nil {
		t.Fatalf("send: %v", err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatalf("expect response: %v", err)
	}
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("expected parse error, got %+v", res)
	}
	// The session survives a bad line.
	th.initialize(t, "1", defaultInitializeRequest())
}

func TestResponsesFollowRequestOrder(t *testing.T) {
	th := newHarness(t, newServer(t, capturetest.New()))
	th.activate(t)

	for i := range 5 {
		if err := th.send(&jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.PingMethod), ID: jsonrpc.NewRequestID(i)}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for i := range 5 {
		res, err := th.expectResponse(time.Second)
		if err != nil {
			t.Fatalf("expect response %d: %v", i, err)
		}
		if want := fmt.Sprint(i); res.ID.String() != want {
			t.Fatalf("expected id %s, got %s", want, res.ID.String())
		}
	}
}

func TestEOF_EndsServe(t *testing.T) {
	th := newHarness(t, newServer(t, capturetest.New()))
	th.activate(t)
	_ = th.stdinW.Close()

	select {
	case err := <-th.done:
		if err != nil {
			t.Fatalf("expected nil error on EOF, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected Serve to return on EOF")
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
