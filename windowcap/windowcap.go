// Package windowcap defines the window-cap-mcp tool set on top of a
// capture.Service.
package windowcap

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/window-cap-mcp/capture"
	"github.com/ggoodman/window-cap-mcp/mcp"
	"github.com/ggoodman/window-cap-mcp/mcpservice"
	"github.com/ggoodman/window-cap-mcp/sessions"
)

const (
	ServerName    = "window-cap-mcp"
	ServerVersion = "0.2.0"
	Instructions  = "Cross-platform window and screen screenshot MCP server."
)

// Tool names.
const (
	ToolListMonitors   = "list_monitors"
	ToolCaptureMonitor = "capture_monitor"
	ToolListWindows    = "list_windows"
	ToolCaptureWindow  = "capture_window"
	ToolCloseWindow    = "close_window"
)

type EmptyArgs struct{}

type CaptureMonitorArgs struct {
	MonitorIndex *uint32 `json:"monitor_index,omitempty" jsonschema:"minimum=0" jsonschema_description:"Monitor index, uses primary monitor if not specified"`
}

type WindowArgs struct {
	WindowID uint32 `json:"window_id" jsonschema:"required,minimum=0" jsonschema_description:"Window ID"`
}

type monitorList struct {
	Count    int               `json:"count"`
	Monitors []capture.Monitor `json:"monitors"`
}

type windowList struct {
	Count   int              `json:"count"`
	Windows []capture.Window `json:"windows"`
}

// NewServer returns the server capabilities backed by svc.
func NewServer(svc *capture.Service) mcpservice.ServerCapabilities {
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: ServerName, Version: ServerVersion}),
		mcpservice.WithInstructions(Instructions),
		mcpservice.WithToolsCapability(NewTools(svc)),
	)
}

// NewTools builds the tool set. The returned container is never modified.
func NewTools(svc *capture.Service) *mcpservice.ToolsContainer {
	readOnly := mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true}
	destructive := true

	return mcpservice.NewToolsContainer(
		mcpservice.NewTool(ToolListMonitors,
			func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EmptyArgs]) error {
				ms, err := svc.Monitors(ctx)
				if err != nil {
					return err
				}
				return appendJSON(w, monitorList{Count: len(ms), Monitors: nonNil(ms)})
			},
			mcpservice.WithToolTitle("List monitors"),
			mcpservice.WithToolDescription("List all available monitors with their information"),
			mcpservice.WithToolAllowAdditionalProperties(true),
			mcpservice.WithToolAnnotations(readOnly),
		),
		mcpservice.NewTool(ToolCaptureMonitor,
			func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[CaptureMonitorArgs]) error {
				m, img, err := svc.CaptureMonitor(ctx, r.Args().MonitorIndex)
				if err != nil {
					return err
				}
				if err := w.AppendText(fmt.Sprintf("Monitor: %s (Index: %d, Size: %dx%d)", m.Name, m.Index, m.Width, m.Height)); err != nil {
					return err
				}
				return w.AppendImage(img.Data, img.MimeType)
			},
			mcpservice.WithToolTitle("Capture monitor"),
			mcpservice.WithToolDescription("Capture a screenshot of the specified monitor (primary monitor if no index is given)"),
			mcpservice.WithToolAnnotations(readOnly),
		),
		mcpservice.NewTool(ToolListWindows,
			func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EmptyArgs]) error {
				ws, err := svc.Windows(ctx)
				if err != nil {
					return err
				}
				return appendJSON(w, windowList{Count: len(ws), Windows: nonNil(ws)})
			},
			mcpservice.WithToolTitle("List windows"),
			mcpservice.WithToolDescription("List all visible windows with their information"),
			mcpservice.WithToolAllowAdditionalProperties(true),
			mcpservice.WithToolAnnotations(readOnly),
		),
		mcpservice.NewTool(ToolCaptureWindow,
			func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[WindowArgs]) error {
				win, img, err := svc.CaptureWindow(ctx, r.Args().WindowID)
				if err != nil {
					return err
				}
				if err := w.AppendText(fmt.Sprintf("Window: %s [%s] (ID: %d, Size: %dx%d)", win.Title, win.AppName, win.ID, win.Width, win.Height)); err != nil {
					return err
				}
				return w.AppendImage(img.Data, img.MimeType)
			},
			mcpservice.WithToolTitle("Capture window"),
			mcpservice.WithToolDescription("Capture a screenshot of the window with the given ID"),
			mcpservice.WithToolAnnotations(readOnly),
		),
		mcpservice.NewTool(ToolCloseWindow,
			func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[WindowArgs]) error {
				win, err := svc.CloseWindow(ctx, r.Args().WindowID)
				if err != nil {
					return err
				}
				return w.AppendText(fmt.Sprintf("Successfully closed window: %s [%s] (ID: %d)", win.Title, win.AppName, win.ID))
			},
			mcpservice.WithToolTitle("Close window"),
			mcpservice.WithToolDescription("Close the window with the given ID"),
			mcpservice.WithToolAnnotations(mcp.ToolAnnotations{DestructiveHint: &destructive}),
		),
	)
}

func appendJSON(w mcpservice.ToolResponseWriter, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("JSON serialization failed: %w", err)
	}
	return w.AppendText(string(b))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
