package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monteslu/peersignal-broker/internal/config"
	"github.com/monteslu/peersignal-broker/internal/ratelimit"
	"github.com/monteslu/peersignal-broker/internal/room"
)

type fakeConn struct {
	mu     sync.Mutex
	id     room.ConnID
	ip     string
	live   bool
	closed bool
	events []fakeEvent
	subs   map[string]bool
}

type fakeEvent struct {
	name    string
	payload any
}

func newFakeConn(id, ip string) *fakeConn {
	return &fakeConn{id: room.ConnID(id), ip: ip, live: true, subs: make(map[string]bool)}
}

func (c *fakeConn) ConnID() room.ConnID { return c.id }
func (c *fakeConn) RemoteIP() string    { return c.ip }
func (c *fakeConn) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}
func (c *fakeConn) Send(name string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, fakeEvent{name: name, payload: payload})
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
func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.live = false
}
func (c *fakeConn) lastReply() rpcReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].name == "rpc:reply" {
			return c.events[i].payload.(rpcReply)
		}
	}
	return rpcReply{}
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	limits, err := ratelimit.NewSet("", "", "", "")
	require.NoError(t, err)
	cfg := Config{
		MaxPendingPerRoom: 10,
		MaxRoomsPerIP:     5,
		MaxPayloadSize:    16384,
		IdleTimeout:       time.Hour,
		IceServers:        []config.IceServer{{URLs: "stun:stun.l.google.com:19302"}},
	}
	return NewCoordinator(room.NewRegistry(0), limits, cfg)
}

func send(co *Coordinator, conn Conn, id, method string, params any) {
	raw, _ := json.Marshal(params)
	req := rpcRequest{ID: id, Method: method, Params: raw}
	data, _ := json.Marshal(req)
	co.OnMessage(conn, data)
}

func TestCoordinator_CreateAndJoinAndSignal(t *testing.T) {
	co := newTestCoordinator(t)
	host := newFakeConn("host-1", "10.0.0.1")
	peer := newFakeConn("peer-1", "10.0.0.2")

	co.OnConnect(host)
	co.OnConnect(peer)

	send(co, host, "1", "createRoom", nil)
	reply := host.lastReply()
	require.Empty(t, reply.Error)
	created := reply.Result.(createRoomResult)
	assert.True(t, created.Success)
	assert.NotEmpty(t, created.Code)

	send(co, peer, "2", "joinRoom", joinRoomParams{Code: created.Code, Name: "Alice"})
	joinReply := peer.lastReply()
	require.Empty(t, joinReply.Error)
	joined := joinReply.Result.(joinRoomResult)
	assert.True(t, joined.Success)

	send(co, host, "3", "approvePeer", approvePeerParams{PeerID: joined.PeerID, Approved: true})
	approveReply := host.lastReply()
	require.Empty(t, approveReply.Error)

	send(co, peer, "4", "signal", signalParams{To: "host-1", Payload: json.RawMessage(`{"sdp":"x"}`)})
	signalReply := peer.lastReply()
	require.Empty(t, signalReply.Error)
}

func TestCoordinator_JoinInvalidCode(t *testing.T) {
	co := newTestCoordinator(t)
	peer := newFakeConn("peer-1", "10.0.0.2")
	co.OnConnect(peer)

	send(co, peer, "1", "joinRoom", joinRoomParams{Code: "!!!", Name: "Bea"})
	reply := peer.lastReply()
	assert.Equal(t, "Invalid code format", reply.Error)
}

func TestCoordinator_UnknownMethod(t *testing.T) {
	co := newTestCoordinator(t)
	conn := newFakeConn("c1", "10.0.0.1")
	co.OnConnect(conn)

	send(co, conn, "1", "deleteEverything", nil)
	reply := conn.lastReply()
	assert.NotEmpty(t, reply.Error)
}

func TestCoordinator_MalformedFrame(t *testing.T) {
	co := newTestCoordinator(t)
	conn := newFakeConn("c1", "10.0.0.1")
	co.OnConnect(conn)

	co.OnMessage(conn, []byte("not json"))
	reply := conn.lastReply()
	assert.Equal(t, "Malformed request", reply.Error)
}

func TestCoordinator_IdleTimeoutClosesConnection(t *testing.T) {
	limits, err := ratelimit.NewSet("", "", "", "")
	require.NoError(t, err)
	cfg := Config{MaxPendingPerRoom: 10, MaxRoomsPerIP: 5, MaxPayloadSize: 16384, IdleTimeout: 10 * time.Millisecond}
	co := NewCoordinator(room.NewRegistry(0), limits, cfg)

	conn := newFakeConn("c1", "10.0.0.1")
	co.OnConnect(conn)

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed
	}, time.Second, time.Millisecond)
}

func TestCoordinator_OnDisconnectStopsIdleTimerAndCleansRegistry(t *testing.T) {
	co := newTestCoordinator(t)
	host := newFakeConn("host-1", "10.0.0.1")
	co.OnConnect(host)

	send(co, host, "1", "createRoom", nil)
	assert.Equal(t, 1, co.registry.RoomCount())

	co.mu.Lock()
	st := co.conns[host.ConnID()]
	co.mu.Unlock()
	require.NotNil(t, st)

	co.OnDisconnect(host)
	assert.False(t, st.idleTimer.Stop(), "idle timer must already have been stopped")
	assert.Equal(t, 0, co.registry.RoomCount())
}

func TestCoordinator_SignalPayloadTooLarge(t *testing.T) {
	limits, err := ratelimit.NewSet("", "", "", "")
	require.NoError(t, err)
	cfg := Config{MaxPendingPerRoom: 10, MaxRoomsPerIP: 5, MaxPayloadSize: 4, IdleTimeout: time.Hour}
	co := NewCoordinator(room.NewRegistry(0), limits, cfg)

	host := newFakeConn("host-1", "10.0.0.1")
	co.OnConnect(host)
	send(co, host, "1", "createRoom", nil)

	send(co, host, "2", "signal", signalParams{To: "nobody", Payload: json.RawMessage(`{"sdp":"way too long for four bytes"}`)})
	reply := host.lastReply()
	assert.Equal(t, "Payload too large.", reply.Error)
}
