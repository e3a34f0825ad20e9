// Package session binds live connections to the display name and room they
// joined under. The Registry is the authoritative in-process record; Store
// mirrors it into Redis so operators can inspect who is online.
package session

import "time"

// Session is the server-side record of one joined connection.
type Session struct {
	ConnID   string
	Username string
	Room     string
	JoinedAt time.Time
}
