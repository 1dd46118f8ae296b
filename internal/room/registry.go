package room

import (
	"log/slog"
	"sync"
	"time"

	"github.com/monteslu/peersignal-broker/internal/code"
	"github.com/monteslu/peersignal-broker/internal/metrics"
)

// DefaultHostGracePeriod is how long a room survives its host's disconnect
// before being destroyed, giving rejoinRoom(is_host=true) a window to
// reclaim it. See SPEC_FULL.md's "Graceful host-rejoin grace window" and
// DESIGN.md's Open Question log for why this redesign was chosen over the
// source's synchronous destroy-on-disconnect.
const DefaultHostGracePeriod = 10 * time.Second

// Registry is the Room Registry of spec.md §4.3: the single source of
// truth for rooms, the conn_id reverse index, and per-IP room ownership
// counts, all guarded by one mutex so every operation here is atomic with
// respect to every other (spec.md §5).
type Registry struct {
	mu sync.Mutex

	rooms       map[RoomCode]*Room
	connIndex   map[ConnID]ConnIndexEntry
	ipRoomCount map[string]int

	hostGracePeriod time.Duration
	pendingDestroy  map[RoomCode]*time.Timer

	now func() time.Time
}

// NewRegistry builds an empty Registry. hostGracePeriod of zero disables
// the grace window (a disconnected host's room is destroyed immediately,
// useful for tests that want the source's original synchronous behavior).
func NewRegistry(hostGracePeriod time.Duration) *Registry {
	return &Registry{
		rooms:           make(map[RoomCode]*Room),
		connIndex:       make(map[ConnID]ConnIndexEntry),
		ipRoomCount:     make(map[string]int),
		hostGracePeriod: hostGracePeriod,
		pendingDestroy:  make(map[RoomCode]*time.Timer),
		now:             time.Now,
	}
}

// emit sends event/payload to conn only if conn is still live, matching the
// design note that a Peer Entry's Connection reference must be
// liveness-checked before every emit.
func emit(conn Connection, event string, payload any) {
	if conn != nil && conn.IsLive() {
		conn.Send(event, payload)
	}
}

// mintUniqueCodeLocked draws codes from the Code Mint until one doesn't
// already key a room. Caller must hold reg.mu.
func (reg *Registry) mintUniqueCodeLocked() (RoomCode, error) {
	for {
		c, err := code.Generate()
		if err != nil {
			return "", err
		}
		rc := RoomCode(c)
		if _, exists := reg.rooms[rc]; !exists {
			return rc, nil
		}
	}
}

// CreateRoom creates a new room hosted by conn. maxRoomsPerIP <= 0 disables
// the per-IP cap. The cap check and the increment happen in the same
// locked transaction as room creation so concurrent creates from one IP
// cannot both slip past the check (spec.md §5's atomicity requirement
// takes priority over the letter of §4.4, which describes the check as a
// Session Coordinator pre-check; see DESIGN.md).
func (reg *Registry) CreateRoom(conn Connection, maxRoomsPerIP int) (RoomCode, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.connIndex[conn.ConnID()]; exists {
		return "", NewError(KindAlreadyInRoom)
	}

	ip := conn.RemoteIP()
	if maxRoomsPerIP > 0 && reg.ipRoomCount[ip] >= maxRoomsPerIP {
		return "", NewErrorf(KindIPRoomCap, "Maximum %d rooms per IP reached.", maxRoomsPerIP)
	}

	rc, err := reg.mintUniqueCodeLocked()
	if err != nil {
		return "", err
	}

	r := &Room{
		Code:      rc,
		Host:      conn,
		HostID:    conn.ConnID(),
		Pending:   make(map[ConnID]*PeerEntry),
		Approved:  make(map[ConnID]*PeerEntry),
		CreatedAt: reg.now(),
	}
	reg.rooms[rc] = r
	reg.connIndex[conn.ConnID()] = ConnIndexEntry{Code: rc, Role: RoleHost}
	conn.Subscribe(string(rc))
	reg.ipRoomCount[ip]++

	metrics.ActiveRooms.Inc()
	slog.Info("room created", "code", rc, "host", conn.ConnID())
	return rc, nil
}

// JoinResult is the success payload of JoinRoom.
type JoinResult struct {
	PeerID        ConnID
	HostConnected bool
}

// JoinRoom adds conn to code's pending list. maxPendingPerRoom <= 0 disables
// the flood cap; see CreateRoom's doc comment for why the cap is enforced
// inside this same locked transaction rather than as a separate pre-check.
func (reg *Registry) JoinRoom(conn Connection, rc RoomCode, name string, maxPendingPerRoom int) (*JoinResult, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[rc]
	if !ok {
		return nil, NewError(KindRoomNotFound)
	}
	if _, exists := reg.connIndex[conn.ConnID()]; exists {
		return nil, NewError(KindAlreadyInRoom)
	}
	if maxPendingPerRoom > 0 && len(r.Pending) >= maxPendingPerRoom {
		return nil, NewError(KindPendingFull)
	}

	if name == "" {
		name = "Anonymous"
	}

	entry := &PeerEntry{Conn: conn, Name: name}
	r.Pending[conn.ConnID()] = entry
	reg.connIndex[conn.ConnID()] = ConnIndexEntry{Code: rc, Role: RolePeer, PeerName: name}
	conn.Subscribe(string(rc))

	emit(r.Host, "peer:request", map[string]any{"peer_id": string(conn.ConnID()), "name": name})

	metrics.RoomPendingPeers.WithLabelValues(string(rc)).Set(float64(len(r.Pending)))
	slog.Info("peer joined pending", "code", rc, "peer", conn.ConnID())

	return &JoinResult{PeerID: conn.ConnID(), HostConnected: r.Host.IsLive()}, nil
}

// ApproveResult is the success payload of ApprovePeer.
type ApproveResult struct {
	Denied bool
}

// ApprovePeer resolves a pending peer for the room hostConn hosts.
func (reg *Registry) ApprovePeer(hostConn Connection, peerID ConnID, approved bool) (*ApproveResult, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	entry, ok := reg.connIndex[hostConn.ConnID()]
	if !ok || entry.Role != RoleHost {
		return nil, NewError(KindNotAHost)
	}
	r := reg.rooms[entry.Code]

	peer, ok := r.Pending[peerID]
	if !ok {
		return nil, NewError(KindPeerNotPending)
	}
	delete(r.Pending, peerID)

	if approved {
		r.Approved[peerID] = peer
		emit(peer.Conn, "peer:approved", map[string]any{"host_id": string(r.HostID)})
		reg.updateRoomGaugesLocked(r)
		slog.Info("peer approved", "code", r.Code, "peer", peerID)
		return &ApproveResult{Denied: false}, nil
	}

	emit(peer.Conn, "peer:denied", map[string]any{})
	delete(reg.connIndex, peerID)
	peer.Conn.Leave(string(r.Code))
	reg.updateRoomGaugesLocked(r)
	slog.Info("peer denied", "code", r.Code, "peer", peerID)
	return &ApproveResult{Denied: true}, nil
}

// Signal authorizes and routes an opaque signaling payload from one
// connection to another within the same room.
func (reg *Registry) Signal(fromConn Connection, toID ConnID, payload any) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	entry, ok := reg.connIndex[fromConn.ConnID()]
	if !ok {
		return NewError(KindNotInRoom)
	}
	r := reg.rooms[entry.Code]

	authorized := fromConn.ConnID() == r.HostID
	if !authorized {
		_, authorized = r.Approved[fromConn.ConnID()]
	}
	if !authorized {
		return NewError(KindNotAuthorized)
	}

	var target Connection
	if toID == r.HostID {
		target = r.Host
	} else if peer, ok := r.Approved[toID]; ok {
		target = peer.Conn
	}
	if target == nil {
		return NewError(KindTargetNotFound)
	}

	emit(target, "signal", map[string]any{"from": string(fromConn.ConnID()), "payload": payload})
	metrics.SignalsForwarded.Inc()
	return nil
}

// RejoinResult is the success payload of RejoinRoom. Only the fields for
// the path actually taken (IsHost or not) are populated.
type RejoinResult struct {
	IsHost bool
	Code   RoomCode

	// Populated when IsHost.
	Peers []PeerSummary

	// Populated when !IsHost (this path delegates to JoinRoom).
	PeerID        ConnID
	HostConnected bool
}

// PeerSummary is a minimal peer descriptor returned to a rejoining host.
type PeerSummary struct {
	ID   ConnID
	Name string
}

// RejoinRoom re-attaches conn to rc. When isHost, conn replaces whatever
// connection currently holds the host seat (live or not) and any pending
// grace-window destroy timer is cancelled. Otherwise this delegates to
// JoinRoom: a non-host rejoin must be re-approved, pending state for the
// original connection is not inherited (spec.md §4.3).
func (reg *Registry) RejoinRoom(conn Connection, rc RoomCode, isHost bool, name string, maxPendingPerRoom int) (*RejoinResult, error) {
	if !isHost {
		result, err := reg.JoinRoom(conn, rc, name, maxPendingPerRoom)
		if err != nil {
			return nil, err
		}
		return &RejoinResult{
			Code:          rc,
			PeerID:        result.PeerID,
			HostConnected: result.HostConnected,
		}, nil
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[rc]
	if !ok {
		return nil, NewError(KindRoomNotFound)
	}

	if timer, pending := reg.pendingDestroy[rc]; pending {
		timer.Stop()
		delete(reg.pendingDestroy, rc)
	}

	delete(reg.connIndex, r.HostID)
	r.Host = conn
	r.HostID = conn.ConnID()
	reg.connIndex[conn.ConnID()] = ConnIndexEntry{Code: rc, Role: RoleHost}
	conn.Subscribe(string(rc))

	peers := make([]PeerSummary, 0, len(r.Approved))
	for id, peer := range r.Approved {
		peers = append(peers, PeerSummary{ID: id, Name: peer.Name})
		emit(peer.Conn, "host:reconnected", map[string]any{"host_id": string(conn.ConnID())})
	}

	slog.Info("host rejoined", "code", rc, "host", conn.ConnID())
	return &RejoinResult{IsHost: true, Code: rc, Peers: peers}, nil
}

// HandleDisconnect unwinds conn's membership in whatever room it belongs
// to, if any. A host disconnect arms the grace-window destroy timer rather
// than destroying the room synchronously (see DefaultHostGracePeriod); a
// peer disconnect removes it from pending/approved immediately.
func (reg *Registry) HandleDisconnect(conn Connection) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	entry, ok := reg.connIndex[conn.ConnID()]
	if !ok {
		return
	}
	r, ok := reg.rooms[entry.Code]
	if !ok {
		return
	}

	switch entry.Role {
	case RoleHost:
		if r.Host != conn {
			// Stale disconnect callback from a connection already
			// replaced by a rejoin; nothing to do.
			return
		}
		reg.armHostGraceLocked(r)
	case RolePeer:
		delete(r.Pending, conn.ConnID())
		delete(r.Approved, conn.ConnID())
		delete(reg.connIndex, conn.ConnID())
		emit(r.Host, "peer:disconnected", map[string]any{"peer_id": string(conn.ConnID())})
		reg.updateRoomGaugesLocked(r)
		slog.Info("peer disconnected", "code", r.Code, "peer", conn.ConnID())
	}
}

// armHostGraceLocked schedules destroyRoomLocked to run after
// reg.hostGracePeriod unless a rejoin cancels it first. Caller must hold
// reg.mu. A zero grace period destroys the room synchronously.
func (reg *Registry) armHostGraceLocked(r *Room) {
	if reg.hostGracePeriod <= 0 {
		reg.destroyRoomLocked(r, "host disconnected")
		return
	}

	if existing, ok := reg.pendingDestroy[r.Code]; ok {
		existing.Stop()
	}

	rc := r.Code
	hostAtArm := r.Host
	timer := time.AfterFunc(reg.hostGracePeriod, func() {
		reg.mu.Lock()
		defer reg.mu.Unlock()

		cur, ok := reg.rooms[rc]
		if !ok || cur.Host != hostAtArm {
			// Already destroyed, or reclaimed by a rejoin.
			return
		}
		reg.destroyRoomLocked(cur, "host did not reconnect within the grace window")
	})
	reg.pendingDestroy[r.Code] = timer
}

// destroyRoomLocked notifies every pending/approved peer, removes all of
// the room's index entries, decrements the host's IP ownership count, and
// deletes the room. Caller must hold reg.mu.
func (reg *Registry) destroyRoomLocked(r *Room, reason string) {
	for id, peer := range r.Pending {
		emit(peer.Conn, "host:disconnected", map[string]any{})
		delete(reg.connIndex, id)
	}
	for id, peer := range r.Approved {
		emit(peer.Conn, "host:disconnected", map[string]any{})
		delete(reg.connIndex, id)
	}
	delete(reg.connIndex, r.HostID)
	delete(reg.rooms, r.Code)
	if timer, ok := reg.pendingDestroy[r.Code]; ok {
		timer.Stop()
		delete(reg.pendingDestroy, r.Code)
	}

	ip := r.Host.RemoteIP()
	if reg.ipRoomCount[ip] <= 1 {
		delete(reg.ipRoomCount, ip)
	} else {
		reg.ipRoomCount[ip]--
	}

	metrics.ActiveRooms.Dec()
	metrics.DeleteRoomSeries(string(r.Code))
	slog.Info("room destroyed", "code", r.Code, "reason", reason)
}

func (reg *Registry) updateRoomGaugesLocked(r *Room) {
	metrics.RoomPendingPeers.WithLabelValues(string(r.Code)).Set(float64(len(r.Pending)))
	metrics.RoomApprovedPeers.WithLabelValues(string(r.Code)).Set(float64(len(r.Approved)))
}

// IPRoomCount reports how many rooms ip currently hosts.
func (reg *Registry) IPRoomCount(ip string) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.ipRoomCount[ip]
}

// RoomCount reports how many rooms currently exist, for tests/metrics.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Shutdown destroys every room, notifying their peers, used by the process
// entrypoint's graceful-shutdown path.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, r := range reg.rooms {
		reg.destroyRoomLocked(r, "server shutting down")
	}
}

// RoomSnapshot is a read-only projection of a Room for the Admin View
// (spec.md §4.5): no Connection references escape the Registry.
type RoomSnapshot struct {
	Code          string
	HostLive      bool
	PendingCount  int
	ApprovedCount int
	CreatedAt     time.Time
	AgeSeconds    float64
}

// Snapshot takes a single locked pass over every room, so the Admin View's
// totals are always consistent with the per-room rows (spec.md §5's
// "must take a consistent view").
func (reg *Registry) Snapshot(now time.Time) []RoomSnapshot {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make([]RoomSnapshot, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, RoomSnapshot{
			Code:          string(r.Code),
			HostLive:      r.Host.IsLive(),
			PendingCount:  len(r.Pending),
			ApprovedCount: len(r.Approved),
			CreatedAt:     r.CreatedAt,
			AgeSeconds:    now.Sub(r.CreatedAt).Seconds(),
		})
	}
	return out
}
