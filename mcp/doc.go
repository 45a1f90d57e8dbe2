// Package mcp contains the Model Context Protocol wire types used by the
// window capture server. It mirrors the JSON shapes of the protocol's
// lifecycle and tools surface (initialize, ping, tools/list, tools/call) and
// nothing else: the server advertises the tools capability only.
//
// The package is free of transport logic. The stdio, event-stream and
// streaming HTTP transports marshal these types; the engine builds them.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{mcp.TextContent("hello")},
//	}
//
// # Versions
//
// SupportedProtocolVersions lists every protocol revision the server can
// negotiate. LatestProtocolVersion is the newest of them.
package mcp
