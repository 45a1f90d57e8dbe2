// Package mcpservice holds the server-side description of an MCP server: its
// identity, its instructions and the tools it offers.
//
// A ServerCapabilities value is built once at startup and shared read-only by
// every session on every transport:
//
//	type CaptureArgs struct {
//	    WindowID uint32 `json:"window_id" jsonschema:"required"`
//	}
//	tools := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool("capture_window",
//	        func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[CaptureArgs]) error {
//	            return w.AppendText(fmt.Sprintf("window %d", r.Args().WindowID))
//	        },
//	        mcpservice.WithToolDescription("Capture a window"),
//	    ),
//	)
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	)
//
// Tool input schemas are reflected from the argument struct. Arguments are
// decoded strictly: unknown fields, wrong types and missing required fields
// produce an *InvalidParamsError and the handler is not called.
package mcpservice
