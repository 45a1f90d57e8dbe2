// Package eventstream writes text/event-stream frames to an HTTP response.
package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/elnormous/contenttype"
)

// ErrNoFlusher is returned by New when the ResponseWriter cannot flush.
var ErrNoFlusher = errors.New("response writer does not support flushing")

var (
	// JSONMediaType is application/json.
	JSONMediaType = contenttype.NewMediaType("application/json")
	// MediaType is text/event-stream.
	MediaType  = contenttype.NewMediaType("text/event-stream")
	mediaTypes = []contenttype.MediaType{MediaType}
)

// Writer serializes frames onto a flushable writer. Writes fail once ctx is
// done.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	f   http.Flusher
	ctx context.Context
}

// New wraps w. It fails when w does not implement http.Flusher.
func New(ctx context.Context, w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	return &Writer{w: w, f: f, ctx: ctx}, nil
}

// Start writes the stream headers with status 200 and flushes them.
func Start(w http.ResponseWriter, sw *Writer) {
	h := w.Header()
	h.Set("Content-Type", MediaType.String())
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	sw.mu.Lock()
	sw.f.Flush()
	sw.mu.Unlock()
}

// Event writes one frame. Empty event and id fields are omitted. data may
// span several lines; each becomes its own data field.
func (s *Writer) Event(event, id string, data []byte) error {
	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return s.write(b.String())
}

// Comment writes a comment line, used as a heartbeat.
func (s *Writer) Comment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s *Writer) write(frame string) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if _, err := io.WriteString(s.w, frame); err != nil {
		return fmt.Errorf("failed to write event frame: %w", err)
	}
	s.f.Flush()
	return nil
}

// AcceptsStream reports whether the request's Accept header allows an event
// stream. A missing header is accepted.
func AcceptsStream(r *http.Request) bool {
	if r.Header.Get("Accept") == "" {
		return true
	}
	_, _, err := contenttype.GetAcceptableMediaType(r, mediaTypes)
	return err == nil
}

// IsJSON reports whether the request body is declared as application/json.
func IsJSON(r *http.Request) bool {
	ct, err := contenttype.GetMediaType(r)
	return err == nil && ct.Matches(JSONMediaType)
}

// WriteJSONError emits a transport-level error body:
// {"error":{"code":<status>,"message":"<msg>"}}.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", JSONMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}
