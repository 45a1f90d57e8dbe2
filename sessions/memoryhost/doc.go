// Package memoryhost provides an in-memory sessions.SessionHost suitable for
// tests and single-process servers. All state is discarded on process exit.
//
// Expired records are dropped lazily on access and swept whenever a new
// session is created.
//
// Example:
//
//	host := memoryhost.New()
//	h, err := streaminghttp.New(server, streaminghttp.WithSessionHost(host))
//
// Prefer redishost when several server processes share one endpoint.
package memoryhost
