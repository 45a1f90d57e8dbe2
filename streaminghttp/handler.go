package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ggoodman/window-cap-mcp/internal/engine"
	"github.com/ggoodman/window-cap-mcp/internal/eventstream"
	"github.com/ggoodman/window-cap-mcp/internal/jsonrpc"
	"github.com/ggoodman/window-cap-mcp/internal/logctx"
	"github.com/ggoodman/window-cap-mcp/internal/metrics"
	"github.com/ggoodman/window-cap-mcp/mcp"
	"github.com/ggoodman/window-cap-mcp/mcpservice"
	"github.com/ggoodman/window-cap-mcp/sessions"
	"github.com/google/uuid"
)

var (
	_ http.Handler = (*Handler)(nil)
)

var (
	ErrSessionHeaderMissing = errors.New("missing mcp-session-id header")
	ErrShutdown             = errors.New("streaminghttp: handler already shut down")
)

const (
	// Use canonical header names for clarity; Go matches headers case-insensitively.
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	transportName    = "http"
	defaultPath      = "/mcp"
	defaultTTL       = time.Hour
	defaultHeartbeat = 15 * time.Second
	maxBodyBytes     = 4 << 20
)

// Handler implements the streaming HTTP transport of the Model Context
// Protocol.
type Handler struct {
	mux       *http.ServeMux
	log       *slog.Logger
	eng       *engine.Engine
	host      sessions.SessionHost
	metrics   *metrics.Metrics
	ttl       time.Duration
	heartbeat time.Duration

	mu       sync.Mutex
	live     map[string]*liveSession
	closed   bool
	shutdown chan struct{}
	streams  sync.WaitGroup
}

// liveSession is the process-local half of a session. order serializes
// dispatch so requests are handled in arrival order.
type liveSession struct {
	sess     *engine.Session
	order    sync.Mutex
	lastSeen time.Time
}

// New constructs a Handler. The sweeper that releases expired sessions runs
// until ctx ends or Shutdown is called.
func New(ctx context.Context, host sessions.SessionHost, server mcpservice.ServerCapabilities, opts ...Option) (*Handler, error) {
	if server == nil {
		return nil, fmt.Errorf("server is required")
	}
	if host == nil {
		return nil, fmt.Errorf("SessionHost is required")
	}

	cfg := &newConfig{logger: slog.Default(), path: defaultPath, ttl: defaultTTL, heartbeat: defaultHeartbeat}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.path == "" || cfg.path[0] != '/' {
		return nil, fmt.Errorf("endpoint path must start with '/', got %q", cfg.path)
	}

	log := logctx.Wrap(cfg.logger)
	h := &Handler{
		log:       log,
		host:      host,
		metrics:   cfg.metrics,
		ttl:       cfg.ttl,
		heartbeat: cfg.heartbeat,
		live:      make(map[string]*liveSession),
		shutdown:  make(chan struct{}),
	}
	h.eng = engine.NewEngine(server, engine.WithLogger(log), engine.WithMetrics(cfg.metrics))

	mux := http.NewServeMux()
	// The endpoint also answers on every other path, so clients configured
	// with only the server's base URL still connect.
	paths := []string{cfg.path}
	if cfg.path != "/" {
		paths = append(paths, "/")
	}
	for _, p := range paths {
		mux.HandleFunc("POST "+p, h.handlePostMCP)
		mux.HandleFunc("GET "+p, h.handleGetMCP)
		mux.HandleFunc("DELETE "+p, h.handleDeleteMCP)
	}
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if cfg.metrics != nil {
		mux.Handle("GET /metrics", cfg.metrics.Handler())
	}
	h.mux = mux

	if h.ttl > 0 {
		go h.sweepLoop(ctx)
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// Sessions returns the number of sessions held by this process.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// Shutdown ends every GET stream and closes the local sessions after their
// in-flight requests finish. Host records are left for other nodes.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrShutdown
	}
	h.closed = true
	close(h.shutdown)
	live := h.live
	h.live = make(map[string]*liveSession)
	h.mu.Unlock()

	for _, ls := range live {
		if err := ls.sess.Close(ctx); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		h.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handlePostMCP handles the POST endpoint, which carries one client message
// and, for initialize, establishes a session.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	if !eventstream.IsJSON(r) {
		eventstream.WriteJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		eventstream.WriteJSONError(w, http.StatusBadRequest, "failed to read body")
		h.log.WarnContext(ctx, "body.read.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		eventstream.WriteJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}
	msg, err := jsonrpc.ParseMessage(raw)
	if err != nil {
		eventstream.WriteJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		req := msg.AsRequest()
		if msg.Type() != "request" || req.Method != string(mcp.InitializeMethod) {
			eventstream.WriteJSONError(w, http.StatusNotFound, "expected initialize request")
			h.log.InfoContext(ctx, "session.initialize.invalid")
			return
		}
		h.initialize(ctx, w, req, start)
		return
	}

	ls, err := h.loadSession(ctx, sessID)
	if err != nil {
		h.writeLoadError(ctx, w, err)
		return
	}
	sess := ls.sess
	ctx = engine.WithSession(ctx, sess)
	h.log.InfoContext(ctx, "session.load.ok")

	if clientPV := r.Header.Get(mcpProtocolVersionHeader); clientPV != "" && sess.ProtocolVersion() != "" && clientPV != sess.ProtocolVersion() {
		eventstream.WriteJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", clientPV))
		return
	}
	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}

	switch msg.Type() {
	case "notification":
		ls.order.Lock()
		h.eng.HandleNotification(ctx, sess, msg.AsRequest())
		ls.order.Unlock()
		h.persist(ctx, sess)
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))

	case "request":
		req := msg.AsRequest()
		if req.Method == string(mcp.InitializeMethod) {
			eventstream.WriteJSONError(w, http.StatusConflict, "session already initialized")
			h.log.WarnContext(ctx, "session.initialize.redundant")
			return
		}
		if !eventstream.AcceptsStream(r) {
			eventstream.WriteJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
			return
		}
		sw, err := eventstream.New(ctx, w)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			h.log.ErrorContext(ctx, "flusher.missing")
			return
		}

		ls.order.Lock()
		resp := h.eng.HandleRequest(ctx, sess, req)
		ls.order.Unlock()

		b, err := json.Marshal(resp)
		if err != nil {
			eventstream.WriteJSONError(w, http.StatusInternalServerError, "failed to encode response")
			h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
			return
		}
		eventstream.Start(w, sw)
		if err := sw.Event("message", "", b); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
		h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))

	default:
		// The server never sends requests, so client responses have nothing
		// to complete.
		w.WriteHeader(http.StatusAccepted)
		h.log.DebugContext(ctx, "response.inbound.ignored")
	}
}

// initialize creates a session, runs the negotiation and, on success,
// stores the session record and returns its id in the response header.
func (h *Handler) initialize(ctx context.Context, w http.ResponseWriter, req *jsonrpc.Request, start time.Time) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		eventstream.WriteJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	sess := h.eng.NewSession(transportName)
	ctx = engine.WithSession(ctx, sess)
	resp := h.eng.HandleRequest(ctx, sess, req)

	if resp.Error == nil {
		if err := h.host.CreateSession(ctx, sess.Metadata(h.ttl)); err != nil {
			_ = sess.Close(ctx)
			eventstream.WriteJSONError(w, http.StatusInternalServerError, "failed to create session")
			h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
			return
		}
		h.mu.Lock()
		h.live[sess.SessionID()] = &liveSession{sess: sess, lastSeen: time.Now()}
		h.mu.Unlock()
		w.Header().Set(mcpSessionIDHeader, sess.SessionID())
		w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	}

	w.Header().Set("Content-Type", eventstream.JSONMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	if resp.Error != nil {
		_ = sess.Close(ctx)
		h.log.InfoContext(ctx, "session.initialize.fail", slog.String("err", resp.Error.Message))
		return
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

// handleGetMCP holds a heartbeat-only event stream open for a session until
// the client leaves, the session ends or the handler shuts down.
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if !eventstream.AcceptsStream(r) {
		w.WriteHeader(http.StatusNotAcceptable)
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}
	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		eventstream.WriteJSONError(w, http.StatusBadRequest, ErrSessionHeaderMissing.Error())
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	ls, err := h.loadSession(ctx, sessID)
	if err != nil {
		h.writeLoadError(ctx, w, err)
		return
	}
	sess := ls.sess
	ctx = engine.WithSession(ctx, sess)

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && sess.ProtocolVersion() != "" && pv != sess.ProtocolVersion() {
		eventstream.WriteJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}

	sw, err := eventstream.New(ctx, w)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	h.streams.Add(1)
	defer h.streams.Done()

	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
	eventstream.Start(w, sw)
	h.log.InfoContext(ctx, "sse.stream.start")

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return
		case <-sess.Done():
			h.log.InfoContext(ctx, "sse.stream.session_closed", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return
		case <-h.shutdown:
			h.log.InfoContext(ctx, "sse.stream.shutdown", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return
		case <-tick:
			if err := sw.Comment("ping"); err != nil {
				return
			}
		}
	}
}

// handleDeleteMCP terminates a session, both locally and in the host.
func (h *Handler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.log.WarnContext(ctx, "delete.missing_session_id")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ls, err := h.loadSession(ctx, sessID)
	if err != nil {
		h.writeLoadError(ctx, w, err)
		return
	}
	sess := ls.sess
	ctx = engine.WithSession(ctx, sess)

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && sess.ProtocolVersion() != "" && pv != sess.ProtocolVersion() {
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.forget(sessID)
	if err := sess.Close(ctx); err != nil {
		h.log.WarnContext(ctx, "session.close.fail", slog.String("err", err.Error()))
	}
	if err := h.host.DeleteSession(ctx, sessID); err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", eventstream.JSONMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "transport": transportName, "sessions": h.Sessions()})
}

// loadSession resolves id against the host first so expiry and deletion
// by other nodes are honored, then returns the local session, rebuilding
// it from the record when this process has not seen it.
func (h *Handler) loadSession(ctx context.Context, id string) (*liveSession, error) {
	meta, err := h.host.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			if ls := h.forget(id); ls != nil {
				_ = ls.sess.Close(context.WithoutCancel(ctx))
			}
		}
		return nil, err
	}
	if err := h.host.TouchSession(ctx, id); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrShutdown
	}
	ls, ok := h.live[id]
	if !ok {
		ls = &liveSession{sess: h.eng.RestoreSession(meta, transportName)}
		h.live[id] = ls
		h.log.InfoContext(ctx, "session.restore", slog.String("session_id", id), slog.String("state", string(meta.State)))
	} else {
		ls.sess.Sync(meta)
	}
	ls.lastSeen = time.Now()
	if !ls.sess.State().AcceptsRequests() {
		delete(h.live, id)
		return nil, sessions.ErrSessionNotFound
	}
	return ls, nil
}

func (h *Handler) writeLoadError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		eventstream.WriteJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.load.miss")
	case errors.Is(err, ErrShutdown):
		eventstream.WriteJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
	default:
		eventstream.WriteJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
	}
}

// persist copies the session's negotiated state into its host record.
func (h *Handler) persist(ctx context.Context, sess *engine.Session) {
	snap := sess.Metadata(h.ttl)
	err := h.host.MutateSession(ctx, sess.SessionID(), func(m *sessions.SessionMetadata) error {
		m.State = snap.State
		m.ProtocolVersion = snap.ProtocolVersion
		m.Client = snap.Client
		m.LastAccess = snap.LastAccess
		return nil
	})
	if err != nil {
		h.log.WarnContext(ctx, "session.persist.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) forget(id string) *liveSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	ls, ok := h.live[id]
	if !ok {
		return nil
	}
	delete(h.live, id)
	return ls
}

func (h *Handler) sweepLoop(ctx context.Context) {
	every := h.ttl / 2
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case <-t.C:
			if n := h.sweep(ctx, time.Now()); n > 0 {
				h.log.InfoContext(ctx, "session.sweep", slog.Int("released", n))
			}
		}
	}
}

// sweep closes local sessions idle for longer than the TTL whose host
// record is gone. A record kept alive by another node keeps the session.
func (h *Handler) sweep(ctx context.Context, now time.Time) int {
	h.mu.Lock()
	var idle []string
	for id, ls := range h.live {
		if now.Sub(ls.lastSeen) > h.ttl {
			idle = append(idle, id)
		}
	}
	h.mu.Unlock()

	released := 0
	for _, id := range idle {
		if _, err := h.host.GetSession(ctx, id); !errors.Is(err, sessions.ErrSessionNotFound) {
			continue
		}
		if ls := h.forget(id); ls != nil {
			_ = ls.sess.Close(ctx)
			released++
		}
	}
	return released
}
