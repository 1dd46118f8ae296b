package room

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a minimal Connection double letting tests drive the Registry
// without any transport layer.
type fakeConn struct {
	mu     sync.Mutex
	id     ConnID
	ip     string
	live   bool
	events []event
	subs   map[string]bool
}

type event struct {
	name    string
	payload any
}

func newFakeConn(id, ip string) *fakeConn {
	return &fakeConn{id: ConnID(id), ip: ip, live: true, subs: make(map[string]bool)}
}

func (c *fakeConn) ConnID() ConnID    { return c.id }
func (c *fakeConn) RemoteIP() string  { return c.ip }
func (c *fakeConn) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}
func (c *fakeConn) Send(evtName string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event{name: evtName, payload: payload})
}
func (c *fakeConn) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[channel] = true
}
func (c *fakeConn) Leave(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, channel)
}
func (c *fakeConn) kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = false
}
func (c *fakeConn) eventNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.events))
	for i, e := range c.events {
		names[i] = e.name
	}
	return names
}

func containsEvent(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

// S1: host creates a room, one peer joins and is approved, signaling works
// both directions.
func TestScenario_CreateJoinApproveSignal(t *testing.T) {
	reg := NewRegistry(0)
	host := newFakeConn("host-1", "10.0.0.1")
	peer := newFakeConn("peer-1", "10.0.0.2")

	code, err := reg.CreateRoom(host, 0)
	require.NoError(t, err)

	jr, err := reg.JoinRoom(peer, code, "Ada", 0)
	require.NoError(t, err)
	assert.Equal(t, ConnID("peer-1"), jr.PeerID)
	assert.True(t, containsEvent(host.eventNames(), "peer:request"))

	_, err = reg.ApprovePeer(host, peer.ConnID(), true)
	require.NoError(t, err)
	assert.True(t, containsEvent(peer.eventNames(), "peer:approved"))

	require.NoError(t, reg.Signal(host, peer.ConnID(), map[string]any{"sdp": "x"}))
	assert.True(t, containsEvent(peer.eventNames(), "signal"))

	require.NoError(t, reg.Signal(peer, host.ConnID(), map[string]any{"sdp": "y"}))
	assert.True(t, containsEvent(host.eventNames(), "signal"))
}

// S2: a denied peer cannot signal and is removed from the index.
func TestScenario_DeniedPeerCannotSignal(t *testing.T) {
	reg := NewRegistry(0)
	host := newFakeConn("host-1", "10.0.0.1")
	peer := newFakeConn("peer-1", "10.0.0.2")

	code, err := reg.CreateRoom(host, 0)
	require.NoError(t, err)
	_, err = reg.JoinRoom(peer, code, "Bea", 0)
	require.NoError(t, err)

	ar, err := reg.ApprovePeer(host, peer.ConnID(), false)
	require.NoError(t, err)
	assert.True(t, ar.Denied)

	err = reg.Signal(peer, host.ConnID(), nil)
	var domErr *Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, KindNotInRoom, domErr.Kind)
}

// S3: an unapproved peer's signal is rejected as not authorized.
func TestScenario_PendingPeerNotAuthorizedToSignal(t *testing.T) {
	reg := NewRegistry(0)
	host := newFakeConn("host-1", "10.0.0.1")
	peer := newFakeConn("peer-1", "10.0.0.2")

	code, _ := reg.CreateRoom(host, 0)
	reg.JoinRoom(peer, code, "Cid", 0)

	err := reg.Signal(peer, host.ConnID(), nil)
	var domErr *Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, KindNotAuthorized, domErr.Kind)
}

// S4: host disconnect arms the grace window; rejoin within it reclaims the
// room and preserves approved peers.
func TestScenario_HostRejoinWithinGraceWindowPreservesPeers(t *testing.T) {
	reg := NewRegistry(50 * time.Millisecond)
	host := newFakeConn("host-1", "10.0.0.1")
	peer := newFakeConn("peer-1", "10.0.0.2")

	code, _ := reg.CreateRoom(host, 0)
	reg.JoinRoom(peer, code, "Dee", 0)
	reg.ApprovePeer(host, peer.ConnID(), true)

	host.kill()
	reg.HandleDisconnect(host)
	assert.Equal(t, 1, reg.RoomCount(), "room must survive inside the grace window")

	newHost := newFakeConn("host-1b", "10.0.0.1")
	rr, err := reg.RejoinRoom(newHost, code, true, "", 0)
	require.NoError(t, err)
	assert.Len(t, rr.Peers, 1)
	assert.Equal(t, ConnID("peer-1"), rr.Peers[0].ID)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, reg.RoomCount(), "cancelled timer must not destroy the reclaimed room")
}

// S5: host disconnect with no rejoin destroys the room after the grace
// window and notifies approved peers.
func TestScenario_HostDisconnectWithoutRejoinDestroysRoom(t *testing.T) {
	reg := NewRegistry(20 * time.Millisecond)
	host := newFakeConn("host-1", "10.0.0.1")
	peer := newFakeConn("peer-1", "10.0.0.2")

	code, _ := reg.CreateRoom(host, 0)
	reg.JoinRoom(peer, code, "Eve", 0)
	reg.ApprovePeer(host, peer.ConnID(), true)

	host.kill()
	reg.HandleDisconnect(host)
	assert.Equal(t, 1, reg.RoomCount())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, reg.RoomCount())
	assert.True(t, containsEvent(peer.eventNames(), "host:disconnected"))
	assert.Equal(t, 0, reg.IPRoomCount(host.RemoteIP()))
}

// S6: per-IP room cap is enforced atomically.
func TestScenario_IPRoomCapEnforced(t *testing.T) {
	reg := NewRegistry(0)
	a1 := newFakeConn("a1", "10.0.0.9")
	a2 := newFakeConn("a2", "10.0.0.9")

	_, err := reg.CreateRoom(a1, 1)
	require.NoError(t, err)

	_, err = reg.CreateRoom(a2, 1)
	var domErr *Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, KindIPRoomCap, domErr.Kind)
}

// Pending-room flood cap is enforced.
func TestProperty_PendingFullRejected(t *testing.T) {
	reg := NewRegistry(0)
	host := newFakeConn("host-1", "10.0.0.1")
	code, _ := reg.CreateRoom(host, 0)

	p1 := newFakeConn("p1", "10.0.0.2")
	_, err := reg.JoinRoom(p1, code, "", 1)
	require.NoError(t, err)

	p2 := newFakeConn("p2", "10.0.0.3")
	_, err = reg.JoinRoom(p2, code, "", 1)
	var domErr *Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, KindPendingFull, domErr.Kind)
}

// A connection cannot be a member of two rooms/index entries at once.
func TestProperty_AlreadyInRoomRejectsDoubleJoin(t *testing.T) {
	reg := NewRegistry(0)
	host := newFakeConn("host-1", "10.0.0.1")
	code, _ := reg.CreateRoom(host, 0)

	_, err := reg.CreateRoom(host, 0)
	var domErr *Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, KindAlreadyInRoom, domErr.Kind)

	other := newFakeConn("other", "10.0.0.2")
	reg.JoinRoom(other, code, "", 0)
	_, err = reg.JoinRoom(other, code, "", 0)
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, KindAlreadyInRoom, domErr.Kind)
}

// conn_index membership mirrors room membership: destroying a room must
// clear every index entry it held (spec.md §8's invariant).
func TestProperty_ConnIndexConsistentAfterDestroy(t *testing.T) {
	reg := NewRegistry(0)
	host := newFakeConn("host-1", "10.0.0.1")
	peer := newFakeConn("peer-1", "10.0.0.2")

	code, _ := reg.CreateRoom(host, 0)
	reg.JoinRoom(peer, code, "", 0)
	reg.ApprovePeer(host, peer.ConnID(), true)

	host.kill()
	reg.HandleDisconnect(host)

	_, err := reg.CreateRoom(peer, 0)
	assert.NoError(t, err, "peer's index entry must have been cleared by room destruction")

	newHost := newFakeConn("host-2", "10.0.0.1")
	_, err = reg.CreateRoom(newHost, 1)
	require.NoError(t, err, "destroyed room's code must free the former host's IP slot")
}

// Signaling to an unknown or unapproved target is rejected.
func TestProperty_SignalToUnknownTargetRejected(t *testing.T) {
	reg := NewRegistry(0)
	host := newFakeConn("host-1", "10.0.0.1")
	reg.CreateRoom(host, 0)

	err := reg.Signal(host, ConnID("nobody"), nil)
	var domErr *Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, KindTargetNotFound, domErr.Kind)
}

// Non-host rejoin is treated as a fresh join requiring re-approval.
func TestScenario_NonHostRejoinRequiresReapproval(t *testing.T) {
	reg := NewRegistry(0)
	host := newFakeConn("host-1", "10.0.0.1")
	peer := newFakeConn("peer-1", "10.0.0.2")

	code, _ := reg.CreateRoom(host, 0)
	reg.JoinRoom(peer, code, "", 0)
	reg.ApprovePeer(host, peer.ConnID(), true)

	peer.kill()
	reg.HandleDisconnect(peer)

	newPeer := newFakeConn("peer-1b", "10.0.0.2")
	rr, err := reg.RejoinRoom(newPeer, code, false, "Fay", 0)
	require.NoError(t, err)
	assert.Equal(t, code, rr.Code)

	err = reg.Signal(newPeer, host.ConnID(), nil)
	var domErr *Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, KindNotAuthorized, domErr.Kind)
}
