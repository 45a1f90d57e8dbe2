package streaminghttp

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/window-cap-mcp/mcpservice"
	"github.com/ggoodman/window-cap-mcp/sessions/memoryhost"
)

func TestSweepReleasesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	host := memoryhost.New()
	h, err := New(t.Context(), host, mcpservice.NewServer(), WithSessionTTL(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	kept := h.eng.NewSession(transportName)
	gone := h.eng.NewSession(transportName)
	if err := host.CreateSession(ctx, kept.Metadata(time.Hour)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := host.CreateSession(ctx, gone.Metadata(20*time.Millisecond)); err != nil {
		t.Fatalf("create: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	h.mu.Lock()
	h.live[kept.SessionID()] = &liveSession{sess: kept, lastSeen: past}
	h.live[gone.SessionID()] = &liveSession{sess: gone, lastSeen: past}
	h.mu.Unlock()

	time.Sleep(40 * time.Millisecond)
	if n := h.sweep(ctx, time.Now()); n != 1 {
		t.Fatalf("expected 1 released session, got %d", n)
	}
	if h.Sessions() != 1 {
		t.Fatalf("expected the session with a live record to stay, got %d", h.Sessions())
	}
	select {
	case <-gone.Done():
	default:
		t.Fatalf("expected released session to be closed")
	}
}
