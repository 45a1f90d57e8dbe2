package sessions

// Session is the read-only view of a negotiated session handed to tool
// handlers. Implementations MUST be safe for concurrent use.
type Session interface {
	SessionID() string
	// ProtocolVersion is the negotiated MCP protocol version. It is empty
	// until initialize succeeds.
	ProtocolVersion() string
	State() SessionState
	Client() ClientInfo
}

// ClientInfo identifies the client connecting to the server.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}
