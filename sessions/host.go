package sessions

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned when a session id does not resolve to a
	// live record.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by CreateSession on an id collision.
	ErrSessionExists = errors.New("session already exists")
)

// SessionHost stores session records. Implementations MUST be safe for
// concurrent use and MUST treat expired records as missing.
type SessionHost interface {
	CreateSession(ctx context.Context, meta *SessionMetadata) error
	GetSession(ctx context.Context, sessionID string) (*SessionMetadata, error)
	// MutateSession applies fn to the stored record and persists the result.
	MutateSession(ctx context.Context, sessionID string, fn func(*SessionMetadata) error) error
	// TouchSession slides the record's expiry forward.
	TouchSession(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
}
