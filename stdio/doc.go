// Package stdio implements the single-connection MCP transport over
// stdin/stdout: one process serves one client, each message is one line of
// JSON.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Sessions         : exactly one, held in memory
//	Framing          : newline-delimited JSON-RPC
//	Ordering         : requests are handled one at a time in arrival order
//
// Logs must not go to stdout; point the logger at stderr.
//
// Example:
//
//	h := stdio.NewHandler(srv, stdio.WithLogger(logger))
//	if err := h.Serve(ctx); err != nil { ... }
package stdio
