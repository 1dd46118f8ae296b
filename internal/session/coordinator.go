package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/monteslu/peersignal-broker/internal/logging"
	"github.com/monteslu/peersignal-broker/internal/metrics"
	"github.com/monteslu/peersignal-broker/internal/ratelimit"
	"github.com/monteslu/peersignal-broker/internal/room"
)

// connState tracks the per-connection bookkeeping the coordinator owns on
// top of the transport connection itself: its idle timer.
type connState struct {
	conn      Conn
	idleTimer *time.Timer
}

// Coordinator is the Session Coordinator of spec.md §4.4: it owns the
// RPC method surface, the per-connection idle timer, and gates createRoom,
// joinRoom and signal behind internal/ratelimit before delegating to
// internal/room (approvePeer and rejoinRoom delegate without a limiter). Grounded on the teacher's Hub/Client orchestration split
// (internal/v1/transport/hub.go's HandleConnection, internal/v1/session/
// client.go's pump lifecycle) adapted from proto dispatch to RPC dispatch.
type Coordinator struct {
	registry *room.Registry
	limits   *ratelimit.Set
	cfg      Config

	mu    sync.Mutex
	conns map[room.ConnID]*connState
}

// NewCoordinator wires a Coordinator over registry and limits.
func NewCoordinator(registry *room.Registry, limits *ratelimit.Set, cfg Config) *Coordinator {
	return &Coordinator{
		registry: registry,
		limits:   limits,
		cfg:      cfg,
		conns:    make(map[room.ConnID]*connState),
	}
}

// OnConnect registers conn and arms its idle timer. The connection-per-IP
// admission check happens earlier, at the transport layer's upgrade step,
// because a rejected connection must refuse the handshake itself
// (spec.md §7's "connection admission denial refuses the transport
// handshake"), which this coordinator has no access to before the socket
// exists.
func (co *Coordinator) OnConnect(conn Conn) {
	co.mu.Lock()
	defer co.mu.Unlock()

	st := &connState{conn: conn}
	st.idleTimer = time.AfterFunc(co.cfg.IdleTimeout, func() { co.onIdle(conn) })
	co.conns[conn.ConnID()] = st

	logging.Info(logging.WithConnID(context.Background(), string(conn.ConnID())), "connection accepted")
}

func (co *Coordinator) onIdle(conn Conn) {
	logging.Warn(logging.WithConnID(context.Background(), string(conn.ConnID())), "idle timeout, closing connection")
	conn.Close()
}

func (co *Coordinator) resetIdleTimer(connID room.ConnID) {
	co.mu.Lock()
	st, ok := co.conns[connID]
	co.mu.Unlock()
	if ok {
		st.idleTimer.Reset(co.cfg.IdleTimeout)
	}
}

// OnDisconnect unwinds the coordinator's own bookkeeping and delegates
// room-level cleanup to the Registry.
func (co *Coordinator) OnDisconnect(conn Conn) {
	co.mu.Lock()
	st, ok := co.conns[conn.ConnID()]
	delete(co.conns, conn.ConnID())
	co.mu.Unlock()

	if ok {
		st.idleTimer.Stop()
	}
	co.registry.HandleDisconnect(conn)
	logging.Info(logging.WithConnID(context.Background(), string(conn.ConnID())), "connection disconnected")
}

// OnMessage parses an inbound frame as an RPC request, resets the idle
// timer, dispatches to the matching method, and pushes a correlated reply.
func (co *Coordinator) OnMessage(conn Conn, raw []byte) {
	co.resetIdleTimer(conn.ConnID())

	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.Send("rpc:reply", rpcReply{Error: "Malformed request"})
		return
	}

	defer func() {
		if p := recover(); p != nil {
			logging.Error(logging.WithConnID(context.Background(), string(conn.ConnID())), "panic in RPC dispatch",
				zap.String("method", req.Method), zap.Any("panic", p), zap.Stack("stack"))
		}
	}()

	result, rpcErr := co.dispatch(conn, req)
	reply := rpcReply{ID: req.ID}
	outcome := "success"
	if rpcErr != nil {
		reply.Error = rpcErr.Error()
		outcome = "error"
	} else {
		reply.Result = result
	}
	metrics.RPCRequests.WithLabelValues(req.Method, outcome).Inc()
	conn.Send("rpc:reply", reply)
}

func (co *Coordinator) dispatch(conn Conn, req rpcRequest) (any, *room.Error) {
	switch req.Method {
	case "createRoom":
		return co.createRoom(conn)
	case "joinRoom":
		return co.joinRoom(conn, req.Params)
	case "approvePeer":
		return co.approvePeer(conn, req.Params)
	case "signal":
		return co.signal(conn, req.Params)
	case "rejoinRoom":
		return co.rejoinRoom(conn, req.Params)
	case "getIceServers":
		return iceServersResult{IceServers: co.cfg.IceServers}, nil
	default:
		return nil, room.NewErrorf(room.KindInvalidCode, "Unknown method %q", req.Method)
	}
}

