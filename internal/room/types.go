// Package room implements the Room Registry: the lookup tables binding
// connection identities to rooms, the admission state machine, the
// signal-routing authorization check, and the disconnect/reconnect
// lifecycle described in spec.md §3-4.3.
package room

import "time"

// ConnID is the opaque, transport-assigned identifier for a connection.
type ConnID string

// RoomCode is the canonical rendezvous code, the Registry's primary key.
type RoomCode string

// Role identifies what a connection is within a room.
type Role string

// The two roles a connection can hold inside a room.
const (
	RoleHost Role = "HOST"
	RolePeer Role = "PEER"
)

// Connection is the transport contract the Registry and Session
// Coordinator consume (spec.md §6). The broker never owns a Connection's
// lifetime; the transport layer does.
type Connection interface {
	ConnID() ConnID
	RemoteIP() string
	IsLive() bool
	Send(event string, payload any)
	Subscribe(channel string)
	Leave(channel string)
}

// PeerEntry is a peer's record inside a room: a reference to its
// Connection plus caller-supplied display name.
type PeerEntry struct {
	Conn Connection
	Name string
}

// ConnIndexEntry is the denormalized reverse lookup from conn_id back to
// room membership (spec.md §3's Connection Index).
type ConnIndexEntry struct {
	Code     RoomCode
	Role     Role
	PeerName string // only meaningful when Role == RolePeer
}

// Room is the central entity of spec.md §3. The Registry never hands a
// *Room outside the package (the Admin View gets RoomSnapshot copies from
// Registry.Snapshot), so callers outside the package never touch these
// fields directly.
type Room struct {
	Code    RoomCode
	Host    Connection
	HostID  ConnID
	Pending map[ConnID]*PeerEntry
	Approved map[ConnID]*PeerEntry
	CreatedAt time.Time
}
