package sse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ggoodman/window-cap-mcp/internal/engine"
	"github.com/ggoodman/window-cap-mcp/internal/eventstream"
	"github.com/ggoodman/window-cap-mcp/internal/jsonrpc"
	"github.com/ggoodman/window-cap-mcp/internal/logctx"
	"github.com/ggoodman/window-cap-mcp/internal/metrics"
	"github.com/ggoodman/window-cap-mcp/mcpservice"
	"github.com/google/uuid"
)

var _ http.Handler = (*Handler)(nil)

// ErrShutdown is returned by Shutdown when called twice.
var ErrShutdown = errors.New("sse: handler already shut down")

const (
	streamPath  = "/sse"
	messagePath = "/message"

	sessionIDParam = "sessionId"
	maxBodyBytes   = 4 << 20

	defaultHeartbeat = 15 * time.Second
	defaultInboxSize = 32
)

// Handler serves the event-stream transport.
type Handler struct {
	mux       *http.ServeMux
	eng       *engine.Engine
	log       *slog.Logger
	metrics   *metrics.Metrics
	heartbeat time.Duration
	inboxSize int

	mu       sync.Mutex
	streams  map[string]*stream
	shutdown chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// stream is one open GET /sse connection and its session.
type stream struct {
	sess  *engine.Session
	inbox chan jsonrpc.Message
}

// New constructs a Handler serving srv.
func New(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		log:       slog.Default(),
		heartbeat: defaultHeartbeat,
		inboxSize: defaultInboxSize,
		streams:   make(map[string]*stream),
		shutdown:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.Wrap(h.log)
	h.eng = engine.NewEngine(srv, engine.WithLogger(h.log), engine.WithMetrics(h.metrics))

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+streamPath, h.handleStream)
	mux.HandleFunc("POST "+messagePath, h.handleMessage)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
	h.mux = mux
	return h
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

// Sessions returns the number of open streams.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// Shutdown stops accepting streams and tells every open stream to finish.
// It returns once all streams have ended or ctx is done.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrShutdown
	}
	h.closed = true
	close(h.shutdown)
	n := len(h.streams)
	h.mu.Unlock()

	h.log.InfoContext(ctx, "sse.shutdown.start", slog.Int("sessions", n))
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.log.InfoContext(ctx, "sse.shutdown.ok")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) register(st *stream) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.streams[st.sess.SessionID()] = st
	h.wg.Add(1)
	return true
}

func (h *Handler) unregister(st *stream) {
	h.mu.Lock()
	delete(h.streams, st.sess.SessionID())
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Handler) lookup(id string) (*stream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[id]
	return st, ok
}

// handleStream opens a session and holds its outbound stream until the
// client disconnects, the session closes or the handler shuts down.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if !eventstream.AcceptsStream(r) {
		w.WriteHeader(http.StatusNotAcceptable)
		h.log.WarnContext(ctx, "sse.accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		return
	}
	sw, err := eventstream.New(ctx, w)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	st := &stream{
		sess:  h.eng.NewSession("sse"),
		inbox: make(chan jsonrpc.Message, h.inboxSize),
	}
	if !h.register(st) {
		_ = st.sess.Close(ctx)
		eventstream.WriteJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	defer h.unregister(st)

	ctx = engine.WithSession(ctx, st.sess)
	eventstream.Start(w, sw)
	h.log.InfoContext(ctx, "sse.stream.start")

	endpoint := messagePath + "?" + url.Values{sessionIDParam: {st.sess.SessionID()}}.Encode()
	if err := sw.Event("endpoint", "", []byte(endpoint)); err != nil {
		_ = st.sess.Close(ctx)
		h.log.WarnContext(ctx, "sse.endpoint.write.fail", slog.String("err", err.Error()))
		return
	}

	beatCtx, stopBeat := context.WithCancel(ctx)
	defer stopBeat()
	if h.heartbeat > 0 {
		go h.beat(beatCtx, sw)
	}

	conn := &streamConn{st: st, sw: sw, shutdown: h.shutdown}
	if err := h.eng.ServeConn(ctx, st.sess, conn); err != nil {
		h.log.WarnContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
	}
	stopBeat()

	if err := sw.Event("close", "", nil); err != nil {
		h.log.DebugContext(ctx, "sse.close.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "sse.stream.end", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

func (h *Handler) beat(ctx context.Context, sw *eventstream.Writer) {
	t := time.NewTicker(h.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := sw.Comment("ping"); err != nil {
				return
			}
		}
	}
}

// handleMessage queues one JSON-RPC message for its session's stream.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := r.URL.Query().Get(sessionIDParam)
	if id == "" {
		eventstream.WriteJSONError(w, http.StatusBadRequest, "missing sessionId")
		h.log.InfoContext(ctx, "sse.message.session_id.missing")
		return
	}
	st, ok := h.lookup(id)
	if !ok {
		eventstream.WriteJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "sse.message.session.miss", slog.String("session_id", id))
		return
	}
	ctx = engine.WithSession(ctx, st.sess)
	if !st.sess.State().AcceptsRequests() {
		eventstream.WriteJSONError(w, http.StatusGone, "session is closing")
		h.log.InfoContext(ctx, "sse.message.session.gone")
		return
	}
	if !eventstream.IsJSON(r) {
		eventstream.WriteJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "sse.message.content_type.unsupported")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		eventstream.WriteJSONError(w, http.StatusBadRequest, "failed to read body")
		h.log.WarnContext(ctx, "sse.message.read.fail", slog.String("err", err.Error()))
		return
	}
	if len(body) > 0 && body[0] == '[' {
		eventstream.WriteJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		h.log.WarnContext(ctx, "sse.message.batch.forbidden")
		return
	}

	select {
	case <-h.shutdown:
		eventstream.WriteJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	default:
	}
	select {
	case st.inbox <- jsonrpc.Message(body):
	case <-st.sess.Done():
		eventstream.WriteJSONError(w, http.StatusGone, "session is closed")
		return
	case <-ctx.Done():
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "Accepted")
	h.log.DebugContext(ctx, "sse.message.queued", slog.Int("bytes", len(body)))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", eventstream.JSONMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "transport": "sse", "sessions": h.Sessions()})
}

// streamConn adapts a stream to engine.Conn: inbound messages come from
// POSTs, outbound ones are written as "message" events.
type streamConn struct {
	st       *stream
	sw       *eventstream.Writer
	shutdown <-chan struct{}
}

// Receive keeps handing out queued messages after shutdown so every POST
// that was acknowledged gets its response; it reports io.EOF once the inbox
// is empty.
func (c *streamConn) Receive(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-c.st.inbox:
		return msg, nil
	case <-c.shutdown:
		select {
		case msg := <-c.st.inbox:
			return msg, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *streamConn) Send(_ context.Context, msg jsonrpc.Message) error {
	return c.sw.Event("message", "", msg)
}

func (c *streamConn) Close() error { return nil }
