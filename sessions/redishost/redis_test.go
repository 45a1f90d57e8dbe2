package redishost

import (
	"testing"

	"github.com/ggoodman/window-cap-mcp/sessions"
	"github.com/ggoodman/window-cap-mcp/sessions/sessionhosttest"
)

func TestRedisSessionHost(t *testing.T) {
	// Skip gracefully in environments without Redis.
	h, err := NewFromEnv(t.Context())
	if err != nil {
		t.Skipf("skipping redis session host tests: %v", err)
		return
	}
	_ = h.Close()

	sessionhosttest.RunSessionHostTests(t, func(t *testing.T) sessions.SessionHost {
		hh, err := NewFromEnv(t.Context())
		if err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
		t.Cleanup(func() { _ = hh.Close() })
		return hh
	})
}
