package engine

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/window-cap-mcp/sessions"
)

// Session is the engine's per-client state. It implements sessions.Session.
type Session struct {
	id        string
	transport string
	createdAt time.Time

	mu              sync.Mutex
	state           sessions.SessionState
	protocolVersion string
	client          sessions.ClientInfo
	inflight        sync.WaitGroup
	done            chan struct{}
	onClosed        func(*Session)
}

var _ sessions.Session = (*Session)(nil)

func newSession(id, transport string, onClosed func(*Session)) *Session {
	return &Session{
		id:        id,
		transport: transport,
		createdAt: time.Now().UTC(),
		state:     sessions.StateUninitialized,
		done:      make(chan struct{}),
		onClosed:  onClosed,
	}
}

func (s *Session) SessionID() string { return s.id }
func (s *Session) Transport() string { return s.transport }

func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

func (s *Session) State() sessions.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Client() sessions.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Done is closed once the session reaches the closed state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Metadata snapshots the session for a sessions.SessionHost record.
func (s *Session) Metadata(ttl time.Duration) *sessions.SessionMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &sessions.SessionMetadata{
		SessionID:       s.id,
		ProtocolVersion: s.protocolVersion,
		Client:          s.client,
		State:           s.state,
		CreatedAt:       s.createdAt,
		LastAccess:      time.Now().UTC(),
		TTL:             ttl,
	}
}

var stateRank = map[sessions.SessionState]int{
	sessions.StateUninitialized: 0,
	sessions.StateNegotiating:   1,
	sessions.StateActive:        2,
}

// Sync advances the session to a state another node recorded in meta. A
// local session never moves backwards; a record that no longer accepts
// requests closes it.
func (s *Session) Sync(meta *sessions.SessionMetadata) {
	if !meta.State.AcceptsRequests() {
		s.markClosed()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.AcceptsRequests() || stateRank[meta.State] <= stateRank[s.state] {
		return
	}
	s.state = meta.State
	if s.protocolVersion == "" {
		s.protocolVersion = meta.ProtocolVersion
	}
	if s.client == (sessions.ClientInfo{}) {
		s.client = meta.Client
	}
}

func (s *Session) transition(to sessions.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to sessions.SessionState) error {
	if !sessions.CanTransition(s.state, to) {
		return &sessions.TransitionError{From: s.state, To: to}
	}
	s.state = to
	return nil
}

// begin registers an in-flight request. It fails once the session is
// closing.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.AcceptsRequests() {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Session) end() { s.inflight.Done() }

// markClosed moves the session straight to closed without waiting.
func (s *Session) markClosed() {
	s.mu.Lock()
	if s.state == sessions.StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = sessions.StateClosed
	close(s.done)
	s.mu.Unlock()
	if s.onClosed != nil {
		s.onClosed(s)
	}
}

// Close rejects new requests, waits for in-flight requests to finish and
// moves the session to closed. If ctx ends first the session stays closing
// and ctx's error is returned.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case sessions.StateClosed:
		s.mu.Unlock()
		return nil
	case sessions.StateClosing:
	default:
		s.state = sessions.StateClosing
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	s.markClosed()
	return nil
}
