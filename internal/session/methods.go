package session

import (
	"encoding/json"

	"github.com/monteslu/peersignal-broker/internal/code"
	"github.com/monteslu/peersignal-broker/internal/metrics"
	"github.com/monteslu/peersignal-broker/internal/room"
)

// createRoom applies the room-creation-per-IP limiter, then delegates to
// the Registry (which itself enforces the per-IP room cap atomically; see
// DESIGN.md's note on internal/room.CreateRoom).
func (co *Coordinator) createRoom(conn Conn) (any, *room.Error) {
	if !co.limits.RoomCreatePerIP.Allow(conn.RemoteIP()) {
		metrics.RateLimitRejections.WithLabelValues("room").Inc()
		return nil, room.NewError(room.KindRateLimitRoom)
	}

	rc, err := co.registry.CreateRoom(conn, co.cfg.MaxRoomsPerIP)
	if err != nil {
		return nil, err
	}

	return createRoomResult{Success: true, Code: string(rc), IceServers: co.cfg.IceServers}, nil
}

// joinRoom applies the join-per-IP limiter, validates the code's shape,
// then delegates to the Registry (which enforces the pending-room cap
// atomically).
func (co *Coordinator) joinRoom(conn Conn, raw json.RawMessage) (any, *room.Error) {
	if !co.limits.JoinPerIP.Allow(conn.RemoteIP()) {
		metrics.RateLimitRejections.WithLabelValues("join").Inc()
		return nil, room.NewError(room.KindRateLimitJoin)
	}

	var params joinRoomParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, room.NewError(room.KindInvalidCode)
	}

	normalized := code.Normalize(params.Code)
	if !code.Validate(string(normalized)) {
		return nil, room.NewError(room.KindInvalidCode)
	}

	jr, err := co.registry.JoinRoom(conn, room.RoomCode(normalized), params.Name, co.cfg.MaxPendingPerRoom)
	if err != nil {
		return nil, err
	}

	return joinRoomResult{
		Success:       true,
		PeerID:        string(jr.PeerID),
		HostConnected: jr.HostConnected,
		IceServers:    co.cfg.IceServers,
	}, nil
}

// approvePeer delegates directly to the Registry; it gates nothing extra
// (spec.md §4.4: "delegate; log activity on success").
func (co *Coordinator) approvePeer(conn Conn, raw json.RawMessage) (any, *room.Error) {
	var params approvePeerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, room.NewError(room.KindNotAHost)
	}

	ar, err := co.registry.ApprovePeer(conn, room.ConnID(params.PeerID), params.Approved)
	if err != nil {
		return nil, err
	}

	return approvePeerResult{Success: true, Denied: ar.Denied}, nil
}

// signal applies the signal-per-connection limiter, bounds the serialized
// payload size, then delegates to the Registry. The payload is forwarded
// as raw JSON and never interpreted by the broker (spec.md §1).
func (co *Coordinator) signal(conn Conn, raw json.RawMessage) (any, *room.Error) {
	if !co.limits.SignalPerConn.Allow(string(conn.ConnID())) {
		metrics.RateLimitRejections.WithLabelValues("signal").Inc()
		return nil, room.NewError(room.KindRateLimitSignal)
	}

	var params signalParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, room.NewError(room.KindTargetNotFound)
	}

	if len(params.Payload) > co.cfg.MaxPayloadSize {
		return nil, room.NewError(room.KindPayloadTooLarge)
	}

	if err := co.registry.Signal(conn, room.ConnID(params.To), params.Payload); err != nil {
		return nil, err
	}

	return signalResult{Success: true}, nil
}

// rejoinRoom normalizes the code and delegates to the Registry, shaping
// the reply differently for the host path vs. the peer path, mirroring
// room.RejoinResult's two populated-field sets.
func (co *Coordinator) rejoinRoom(conn Conn, raw json.RawMessage) (any, *room.Error) {
	var params rejoinRoomParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, room.NewError(room.KindInvalidCode)
	}

	normalized := code.Normalize(params.Code)
	if !code.Validate(string(normalized)) {
		return nil, room.NewError(room.KindInvalidCode)
	}

	rr, err := co.registry.RejoinRoom(conn, room.RoomCode(normalized), params.IsHost, params.Name, co.cfg.MaxPendingPerRoom)
	if err != nil {
		return nil, err
	}

	if rr.IsHost {
		peers := make([]rejoinPeerSummary, len(rr.Peers))
		for i, p := range rr.Peers {
			peers[i] = rejoinPeerSummary{ID: string(p.ID), Name: p.Name}
		}
		return rejoinRoomResult{Success: true, Code: string(rr.Code), Peers: peers}, nil
	}

	return rejoinRoomResult{
		Success:       true,
		PeerID:        string(rr.PeerID),
		HostConnected: rr.HostConnected,
		IceServers:    co.cfg.IceServers,
	}, nil
}
