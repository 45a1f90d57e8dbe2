package memoryhost

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/window-cap-mcp/sessions"
)

var _ sessions.SessionHost = (*Host)(nil)

// Host is an in-memory implementation of sessions.SessionHost.
type Host struct {
	mu       sync.Mutex
	sessions map[string]sessions.SessionMetadata
	now      func() time.Time
}

// New returns an empty Host.
func New() *Host {
	return &Host{
		sessions: make(map[string]sessions.SessionMetadata),
		now:      time.Now,
	}
}

// Len returns the number of live records.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sweepLocked()
	return len(h.sessions)
}

func (h *Host) CreateSession(_ context.Context, meta *sessions.SessionMetadata) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sweepLocked()
	if _, exists := h.sessions[meta.SessionID]; exists {
		return sessions.ErrSessionExists
	}
	h.sessions[meta.SessionID] = *meta
	return nil
}

func (h *Host) GetSession(_ context.Context, sessionID string) (*sessions.SessionMetadata, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	meta, ok := h.liveLocked(sessionID)
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	return &meta, nil
}

func (h *Host) MutateSession(_ context.Context, sessionID string, fn func(*sessions.SessionMetadata) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	meta, ok := h.liveLocked(sessionID)
	if !ok {
		return sessions.ErrSessionNotFound
	}
	if err := fn(&meta); err != nil {
		return err
	}
	h.sessions[sessionID] = meta
	return nil
}

func (h *Host) TouchSession(_ context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	meta, ok := h.liveLocked(sessionID)
	if !ok {
		return sessions.ErrSessionNotFound
	}
	meta.LastAccess = h.now().UTC()
	h.sessions[sessionID] = meta
	return nil
}

func (h *Host) DeleteSession(_ context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.liveLocked(sessionID); !ok {
		return sessions.ErrSessionNotFound
	}
	delete(h.sessions, sessionID)
	return nil
}

func (h *Host) liveLocked(sessionID string) (sessions.SessionMetadata, bool) {
	meta, ok := h.sessions[sessionID]
	if !ok {
		return sessions.SessionMetadata{}, false
	}
	if meta.Expired(h.now()) {
		delete(h.sessions, sessionID)
		return sessions.SessionMetadata{}, false
	}
	return meta, true
}

func (h *Host) sweepLocked() {
	now := h.now()
	for id, meta := range h.sessions {
		if meta.Expired(now) {
			delete(h.sessions, id)
		}
	}
}
