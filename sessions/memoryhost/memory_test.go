package memoryhost

import (
	"testing"

	"github.com/ggoodman/window-cap-mcp/sessions"
	"github.com/ggoodman/window-cap-mcp/sessions/sessionhosttest"
)

func TestMemorySessionHost(t *testing.T) {
	sessionhosttest.RunSessionHostTests(t, func(t *testing.T) sessions.SessionHost {
		return New()
	})
}
