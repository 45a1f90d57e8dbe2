// Package sessions defines the session lifecycle states and the persisted
// session record shared by the engine and the HTTP transports.
//
// A session moves through a fixed sequence of states:
//
//	uninitialized -> negotiating -> active -> closing -> closed
//
// Transports that outlive a single connection (streaming HTTP) persist a
// SessionMetadata record in a SessionHost so a later exchange carrying the
// same Mcp-Session-Id can find it again.
//
// Implementations
//
//	memoryhost : in-memory host for single-process servers and tests
//	redishost  : Redis-backed host for deployments behind a load balancer
package sessions
