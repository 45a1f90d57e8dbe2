package mcpservice

import (
	"context"

	"github.com/ggoodman/window-cap-mcp/mcp"
	"github.com/ggoodman/window-cap-mcp/sessions"
)

// ServerCapabilities describes the server to the protocol engine. Methods
// receive the requesting session so that implementations can log or scope by
// it, but the values returned here are expected to be the same for every
// session.
type ServerCapabilities interface {
	// GetServerInfo returns the implementation info surfaced in the
	// initialize result.
	GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)

	// GetInstructions returns optional human-readable instructions. If ok is
	// false the initialize result carries none.
	GetInstructions(ctx context.Context, session sessions.Session) (instructions string, ok bool, err error)

	// GetToolsCapability returns the tools capability. If ok is false the
	// server does not advertise tools.
	GetToolsCapability(ctx context.Context, session sessions.Session) (cap ToolsCapability, ok bool, err error)
}

// ToolsCapability lists and invokes tools. Implementations MUST be safe for
// concurrent use.
type ToolsCapability interface {
	// ListTools returns a page of tool descriptors. A nil cursor requests the
	// first page.
	ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes a named tool.
	//
	// Errors are classified by the engine: ErrToolNotFound becomes
	// MethodNotFound, *InvalidParamsError becomes InvalidParams and anything
	// else becomes InternalError carrying err.Error().
	CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)
}
