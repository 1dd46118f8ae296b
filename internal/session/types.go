// Package session implements the Session Coordinator: the per-connection
// RPC dispatcher that sits between the transport and the Room Registry,
// resetting the idle timer on every call and gating createRoom, joinRoom
// and signal behind the rate limiter (spec.md §4.4).
package session

import (
	"encoding/json"
	"time"

	"github.com/monteslu/peersignal-broker/internal/config"
	"github.com/monteslu/peersignal-broker/internal/room"
)

// Conn is the connection contract the coordinator needs: everything
// room.Connection offers, plus the ability to forcibly close the
// transport when the idle timer expires.
type Conn interface {
	room.Connection
	Close()
}

// rpcRequest is the inbound frame shape: an id for reply correlation (a
// framing detail this broker owns, not part of the domain contract), a
// method name, and opaque per-method params.
type rpcRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcReply is the outbound frame for a single RPC response, pushed as a
// transport event named "rpc:reply". Success and error replies share the
// same envelope; Result is omitted on error and Error is omitted on
// success.
type rpcReply struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// createRoomResult is createRoom's success payload.
type createRoomResult struct {
	Success    bool               `json:"success"`
	Code       string             `json:"code"`
	IceServers []config.IceServer `json:"iceServers"`
}

// joinRoomParams is joinRoom's request body.
type joinRoomParams struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// joinRoomResult is joinRoom's success payload.
type joinRoomResult struct {
	Success       bool               `json:"success"`
	PeerID        string             `json:"peerId"`
	HostConnected bool               `json:"hostConnected"`
	IceServers    []config.IceServer `json:"iceServers"`
}

// approvePeerParams is approvePeer's request body.
type approvePeerParams struct {
	PeerID   string `json:"peerId"`
	Approved bool   `json:"approved"`
}

// approvePeerResult is approvePeer's success payload.
type approvePeerResult struct {
	Success bool `json:"success"`
	Denied  bool `json:"denied,omitempty"`
}

// signalParams is signal's request body. Payload is forwarded unparsed.
type signalParams struct {
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// signalResult is signal's success payload.
type signalResult struct {
	Success bool `json:"success"`
}

// rejoinRoomParams is rejoinRoom's request body.
type rejoinRoomParams struct {
	Code   string `json:"code"`
	IsHost bool   `json:"isHost"`
	Name   string `json:"name"`
}

// rejoinPeerSummary mirrors room.PeerSummary over the wire.
type rejoinPeerSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// rejoinRoomResult is rejoinRoom's success payload; only the fields for
// the path actually taken are populated, mirroring room.RejoinResult.
type rejoinRoomResult struct {
	Success       bool                `json:"success"`
	Code          string              `json:"code,omitempty"`
	Peers         []rejoinPeerSummary `json:"peers,omitempty"`
	PeerID        string              `json:"peerId,omitempty"`
	HostConnected bool                `json:"hostConnected,omitempty"`
	IceServers    []config.IceServer  `json:"iceServers,omitempty"`
}

// iceServersResult is getIceServers' success payload.
type iceServersResult struct {
	IceServers []config.IceServer `json:"iceServers"`
}

// Config bundles the Session Coordinator's tunables, loaded from
// internal/config.
type Config struct {
	MaxPendingPerRoom int
	MaxRoomsPerIP     int
	MaxPayloadSize    int
	IdleTimeout       time.Duration
	IceServers        []config.IceServer
}
