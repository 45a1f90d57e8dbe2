// Package streaminghttp implements the MCP streaming HTTP transport. It mounts
// as a standard net/http handler.
//
// Responsibilities
//   - Session creation on initialize and lookup via sessions.SessionHost
//   - Protocol version header enforcement
//   - Request dispatch, answered as a single event-stream message per POST
//   - A heartbeat-only GET stream per session
//   - Session termination via DELETE and idle expiry via the host TTL
//
// Construction
//
//	h, err := streaminghttp.New(
//	    ctx,
//	    host,   // sessions.SessionHost implementation
//	    server, // mcpservice.ServerCapabilities
//	    streaminghttp.WithLogger(logger),
//	)
//
// # Scaling
//
// Session records live in the SessionHost. A node that receives a request
// for a session it has never seen rebuilds it from the stored record, so a
// shared host (for example sessions/redishost) lets several nodes serve the
// same sessions without sticky routing.
//
// # Error Handling
//
// Transport-level errors map to HTTP status codes with a small JSON body;
// MCP-level errors are serialized as JSON-RPC error responses.
//
// Example (mount in net/http):
//
//	mux := http.NewServeMux()
//	mux.Handle("/", h)
//	http.ListenAndServe(":8080", mux)
package streaminghttp
