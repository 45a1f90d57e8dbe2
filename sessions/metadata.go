package sessions

import "time"

// SessionMetadata is the persisted representation of a streaming HTTP
// session. Timestamps are UTC. The host expires a record once
// LastAccess + TTL is in the past.
type SessionMetadata struct {
	SessionID       string       `json:"session_id"`
	ProtocolVersion string       `json:"protocol_version,omitempty"`
	Client          ClientInfo   `json:"client,omitempty"`
	State           SessionState `json:"state"`

	CreatedAt  time.Time     `json:"created_at"`
	LastAccess time.Time     `json:"last_access"`
	TTL        time.Duration `json:"ttl"`
}

// Expired reports whether the record's sliding TTL elapsed at now.
func (m *SessionMetadata) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return m.LastAccess.Add(m.TTL).Before(now)
}
