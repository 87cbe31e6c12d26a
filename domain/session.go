package domain

import "time"

// Session binds a live connection to a user identity and its current room.
// Sessions are owned exclusively by the connection registry: created on join,
// mutated on room switch, destroyed on disconnect.
type Session struct {
	ConnectionID string
	DisplayName  string
	Identity     Identity
	RoomID       string
	JoinedAt     time.Time
}
