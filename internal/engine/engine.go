package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/window-cap-mcp/internal/jsonrpc"
	"github.com/ggoodman/window-cap-mcp/internal/logctx"
	"github.com/ggoodman/window-cap-mcp/internal/metrics"
	"github.com/ggoodman/window-cap-mcp/mcp"
	"github.com/ggoodman/window-cap-mcp/mcpservice"
	"github.com/ggoodman/window-cap-mcp/sessions"
	"github.com/google/uuid"
)

// Engine is the protocol core shared by every transport. It owns no
// per-session state beyond the Session values it hands out; the server
// description it dispatches to is read-only.
type Engine struct {
	srv     mcpservice.ServerCapabilities
	log     *slog.Logger
	metrics *metrics.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records request, tool and session metrics on m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(srv mcpservice.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{
		srv: srv,
		log: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// NewSession creates an uninitialized session with a fresh id.
func (e *Engine) NewSession(transport string) *Session {
	return e.openSession(uuid.NewString(), transport)
}

// RestoreSession rebuilds a session from a host record, for example one
// negotiated by another process sharing the same host.
func (e *Engine) RestoreSession(meta *sessions.SessionMetadata, transport string) *Session {
	s := e.openSession(meta.SessionID, transport)
	s.state = meta.State
	s.protocolVersion = meta.ProtocolVersion
	s.client = meta.Client
	if !s.state.AcceptsRequests() {
		s.markClosed()
	}
	return s
}

func (e *Engine) openSession(id, transport string) *Session {
	e.metrics.SessionOpened(transport)
	e.log.Debug("engine.session.open", slog.String("session_id", id), slog.String("transport", transport))
	return newSession(id, transport, func(s *Session) {
		e.metrics.SessionClosed(s.transport)
		e.log.Debug("engine.session.closed", slog.String("session_id", s.id), slog.String("transport", s.transport))
	})
}

// WithSession annotates ctx with the session for logging.
func WithSession(ctx context.Context, s *Session) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       s.SessionID(),
		Transport:       s.Transport(),
		ProtocolVersion: s.ProtocolVersion(),
		State:           s.State(),
	})
}

// HandleMessage processes one framed message. It returns the response to
// send, or nil when the message needs none (notifications and responses).
func (e *Engine) HandleMessage(ctx context.Context, sess *Session, msg jsonrpc.Message) *jsonrpc.Response {
	parsed, err := jsonrpc.ParseMessage(msg)
	if err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			e.log.InfoContext(ctx, "engine.handle_message.invalid", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "parse error", nil)
		}
		e.log.InfoContext(ctx, "engine.handle_message.invalid", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil)
	}

	switch parsed.Type() {
	case "request":
		return e.HandleRequest(ctx, sess, parsed.AsRequest())
	case "notification":
		e.HandleNotification(ctx, sess, parsed.AsRequest())
		return nil
	default:
		// The server never issues requests, so any response is stray.
		e.log.DebugContext(ctx, "engine.handle_message.stray_response", slog.String("id", parsed.ID.String()))
		return nil
	}
}

// HandleRequest dispatches a request and always returns a response.
func (e *Engine) HandleRequest(ctx context.Context, sess *Session, req *jsonrpc.Request) *jsonrpc.Response {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})

	if !sess.begin() {
		return e.reject(ctx, req, jsonrpc.ErrorCodeInvalidRequest, fmt.Sprintf("session is %s", sess.State()))
	}
	defer sess.end()

	switch req.Method {
	case string(mcp.InitializeMethod):
		return e.handleInitialize(ctx, sess, req)
	case string(mcp.PingMethod):
		return e.result(ctx, req, time.Now(), mcp.EmptyResult{})
	case string(mcp.ToolsListMethod), string(mcp.ToolsCallMethod):
		if st := sess.State(); st != sessions.StateActive {
			return e.reject(ctx, req, jsonrpc.ErrorCodeInvalidRequest, fmt.Sprintf("session not initialized (state %s)", st))
		}
		if req.Method == string(mcp.ToolsListMethod) {
			return e.handleToolsList(ctx, sess, req)
		}
		return e.handleToolCall(ctx, sess, req)
	}
	return e.reject(ctx, req, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
}

// HandleNotification applies a notification. Unknown notifications are
// ignored.
func (e *Engine) HandleNotification(ctx context.Context, sess *Session, n *jsonrpc.Request) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: n.Method, Type: "notification"})

	switch n.Method {
	case string(mcp.InitializedNotificationMethod):
		if err := sess.transition(sessions.StateActive); err != nil {
			e.log.WarnContext(ctx, "engine.notification.initialized.ignored", slog.String("err", err.Error()))
			return
		}
		e.log.InfoContext(ctx, "engine.session.active", slog.String("session_id", sess.SessionID()))
	case string(mcp.CancelledNotificationMethod):
		var params mcp.CancelledNotification
		if err := json.Unmarshal(n.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.notification.invalid", slog.String("err", err.Error()))
			return
		}
		// Tool calls run to completion once dispatched; the response is still sent.
		e.log.InfoContext(ctx, "engine.notification.cancelled", slog.Any("request_id", params.RequestID), slog.String("reason", params.Reason))
	default:
		e.log.DebugContext(ctx, "engine.notification.ignored")
	}
}

func (e *Engine) handleInitialize(ctx context.Context, sess *Session, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()

	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return e.reject(ctx, req, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params: "+err.Error())
	}
	if err := sess.transition(sessions.StateNegotiating); err != nil {
		return e.reject(ctx, req, jsonrpc.ErrorCodeInvalidRequest, "session already initialized")
	}

	if !mcp.IsSupportedProtocolVersion(params.ProtocolVersion) {
		sess.markClosed()
		msg := fmt.Sprintf("unsupported protocol version %q (supported: %s)", params.ProtocolVersion, strings.Join(mcp.SupportedProtocolVersions, ", "))
		return e.reject(ctx, req, jsonrpc.ErrorCodeInternalError, msg)
	}

	sess.mu.Lock()
	sess.protocolVersion = params.ProtocolVersion
	sess.client = sessions.ClientInfo{Name: params.ClientInfo.Name, Version: params.ClientInfo.Version}
	sess.mu.Unlock()

	res, err := e.initializeResult(ctx, sess, params.ProtocolVersion)
	if err != nil {
		sess.markClosed()
		return e.reject(ctx, req, jsonrpc.ErrorCodeInternalError, err.Error())
	}

	e.log.InfoContext(ctx, "engine.session.negotiated",
		slog.String("session_id", sess.SessionID()),
		slog.String("protocol_version", params.ProtocolVersion),
		slog.String("client", params.ClientInfo.Name),
	)
	return e.result(ctx, req, start, res)
}

func (e *Engine) initializeResult(ctx context.Context, sess *Session, version string) (*mcp.InitializeResult, error) {
	info, err := e.srv.GetServerInfo(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("get server info: %w", err)
	}
	res := &mcp.InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      info,
	}
	if instr, ok, err := e.srv.GetInstructions(ctx, sess); err != nil {
		return nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		res.Instructions = instr
	}
	if tools, ok, err := e.srv.GetToolsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	} else if ok && tools != nil {
		res.Capabilities.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}
	return res, nil
}

func (e *Engine) tools(ctx context.Context, sess *Session) (mcpservice.ToolsCapability, *jsonrpc.Error) {
	tc, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: err.Error()}
	}
	if !ok || tc == nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "tools capability not supported"}
	}
	return tc, nil
}

func (e *Engine) handleToolsList(ctx context.Context, sess *Session, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()

	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return e.reject(ctx, req, jsonrpc.ErrorCodeInvalidParams, "invalid params: "+err.Error())
		}
	}
	tc, rpcErr := e.tools(ctx, sess)
	if rpcErr != nil {
		return e.reject(ctx, req, rpcErr.Code, rpcErr.Message)
	}

	var cursor *string
	if params.Cursor != "" {
		c := params.Cursor
		cursor = &c
	}
	page, err := tc.ListTools(ctx, sess, cursor)
	if err != nil {
		return e.reject(ctx, req, jsonrpc.ErrorCodeInternalError, err.Error())
	}
	result := &mcp.ListToolsResult{Tools: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}
	return e.result(ctx, req, start, result, slog.Int("tool_count", len(page.Items)))
}

func (e *Engine) handleToolCall(ctx context.Context, sess *Session, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return e.reject(ctx, req, jsonrpc.ErrorCodeInvalidParams, "invalid params: "+err.Error())
	}
	if params.Name == "" {
		return e.reject(ctx, req, jsonrpc.ErrorCodeInvalidParams, "invalid params: missing tool name")
	}
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	tc, rpcErr := e.tools(ctx, sess)
	if rpcErr != nil {
		return e.reject(ctx, req, rpcErr.Code, rpcErr.Message)
	}

	// Dispatched calls run to completion even if the caller goes away.
	res, err := tc.CallTool(context.WithoutCancel(ctx), sess, &params)
	if err != nil {
		code := classifyToolError(err)
		tool := params.Name
		if code == jsonrpc.ErrorCodeMethodNotFound {
			tool = metrics.UnknownLabel
		}
		e.metrics.ObserveToolCall(tool, code.String(), time.Since(start))
		var pe *mcpservice.PanicError
		if errors.As(err, &pe) {
			e.log.ErrorContext(ctx, "engine.tool.panic", slog.Any("panic", pe.Value))
		}
		return e.reject(ctx, req, code, err.Error())
	}
	e.metrics.ObserveToolCall(params.Name, "ok", time.Since(start))
	return e.result(ctx, req, start, res)
}

var knownMethods = map[string]bool{
	string(mcp.InitializeMethod): true,
	string(mcp.PingMethod):       true,
	string(mcp.ToolsListMethod):  true,
	string(mcp.ToolsCallMethod):  true,
}

// methodLabel keeps client-chosen method names out of metric labels.
func methodLabel(method string) string {
	if knownMethods[method] {
		return method
	}
	return metrics.UnknownLabel
}

func classifyToolError(err error) jsonrpc.ErrorCode {
	var ip *mcpservice.InvalidParamsError
	switch {
	case errors.Is(err, mcpservice.ErrToolNotFound):
		return jsonrpc.ErrorCodeMethodNotFound
	case errors.As(err, &ip):
		return jsonrpc.ErrorCodeInvalidParams
	default:
		return jsonrpc.ErrorCodeInternalError
	}
}

func (e *Engine) result(ctx context.Context, req *jsonrpc.Request, start time.Time, v any, attrs ...slog.Attr) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(req.ID, v)
	if err != nil {
		return e.reject(ctx, req, jsonrpc.ErrorCodeInternalError, err.Error())
	}
	e.metrics.ObserveRequest(methodLabel(req.Method), "ok")
	args := []any{slog.Int64("dur_ms", time.Since(start).Milliseconds())}
	for _, a := range attrs {
		args = append(args, a)
	}
	e.log.InfoContext(ctx, "engine.handle_request.ok", args...)
	return resp
}

func (e *Engine) reject(ctx context.Context, req *jsonrpc.Request, code jsonrpc.ErrorCode, msg string) *jsonrpc.Response {
	e.metrics.ObserveRequest(methodLabel(req.Method), code.String())
	if code == jsonrpc.ErrorCodeInternalError {
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", msg))
	} else {
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("code", code.String()), slog.String("err", msg))
	}
	return jsonrpc.NewErrorResponse(req.ID, code, msg, nil)
}
