package sessionhosttest

import (
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/window-cap-mcp/sessions"
	"github.com/google/uuid"
)

// HostFactory creates a new SessionHost instance for testing.
type HostFactory func(t *testing.T) sessions.SessionHost

// RunSessionHostTests runs the complete SessionHost test suite against the provided factory.
func RunSessionHostTests(t *testing.T, factory HostFactory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("Mutate", func(t *testing.T) { testMutate(t, factory) })
	t.Run("MutateErrorLeavesRecord", func(t *testing.T) { testMutateError(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, factory) })
	t.Run("TouchExtends", func(t *testing.T) { testTouchExtends(t, factory) })
}

func newMeta(ttl time.Duration) *sessions.SessionMetadata {
	now := time.Now().UTC()
	return &sessions.SessionMetadata{
		SessionID:       uuid.NewString(),
		ProtocolVersion: "2025-06-18",
		Client:          sessions.ClientInfo{Name: "test", Version: "1.0.0"},
		State:           sessions.StateNegotiating,
		CreatedAt:       now,
		LastAccess:      now,
		TTL:             ttl,
	}
}

func testCreateAndGet(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := t.Context()

	meta := newMeta(time.Minute)
	if err := h.CreateSession(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := h.GetSession(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want, got := meta.ProtocolVersion, got.ProtocolVersion; want != got {
		t.Fatalf("protocol version: want %q, got %q", want, got)
	}
	if want, got := meta.Client.Name, got.Client.Name; want != got {
		t.Fatalf("client name: want %q, got %q", want, got)
	}
	if want, got := sessions.StateNegotiating, got.State; want != got {
		t.Fatalf("state: want %q, got %q", want, got)
	}
}

func testCreateDuplicate(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := t.Context()

	meta := newMeta(time.Minute)
	if err := h.CreateSession(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.CreateSession(ctx, meta); !errors.Is(err, sessions.ErrSessionExists) {
		t.Fatalf("want ErrSessionExists, got %v", err)
	}
}

func testGetMissing(t *testing.T, factory HostFactory) {
	h := factory(t)
	if _, err := h.GetSession(t.Context(), uuid.NewString()); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
	if err := h.TouchSession(t.Context(), uuid.NewString()); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("touch: want ErrSessionNotFound, got %v", err)
	}
}

func testMutate(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := t.Context()

	meta := newMeta(time.Minute)
	if err := h.CreateSession(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := h.MutateSession(ctx, meta.SessionID, func(m *sessions.SessionMetadata) error {
		m.State = sessions.StateActive
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	got, err := h.GetSession(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want, got := sessions.StateActive, got.State; want != got {
		t.Fatalf("state: want %q, got %q", want, got)
	}
}

func testMutateError(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := t.Context()

	meta := newMeta(time.Minute)
	if err := h.CreateSession(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	err := h.MutateSession(ctx, meta.SessionID, func(m *sessions.SessionMetadata) error {
		m.State = sessions.StateClosed
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	got, err := h.GetSession(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want, got := sessions.StateNegotiating, got.State; want != got {
		t.Fatalf("state: want %q, got %q", want, got)
	}
}

func testDelete(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := t.Context()

	meta := newMeta(time.Minute)
	if err := h.CreateSession(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.DeleteSession(ctx, meta.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.GetSession(ctx, meta.SessionID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound after delete, got %v", err)
	}
	if err := h.DeleteSession(ctx, meta.SessionID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("second delete: want ErrSessionNotFound, got %v", err)
	}
}

func testExpiry(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := t.Context()

	meta := newMeta(1 * time.Second)
	if err := h.CreateSession(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	if _, err := h.GetSession(ctx, meta.SessionID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound after expiry, got %v", err)
	}
}

func testTouchExtends(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := t.Context()

	meta := newMeta(2 * time.Second)
	if err := h.CreateSession(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	for range 3 {
		time.Sleep(800 * time.Millisecond)
		if err := h.TouchSession(ctx, meta.SessionID); err != nil {
			t.Fatalf("touch: %v", err)
		}
	}
	if _, err := h.GetSession(ctx, meta.SessionID); err != nil {
		t.Fatalf("session should still be live: %v", err)
	}
}
