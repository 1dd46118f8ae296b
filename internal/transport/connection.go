// Package transport implements the WebSocket edge of the broker: upgrading
// HTTP requests, deriving a caller's IP address, and running the
// read/write pump goroutines that move bytes between a socket and the
// Session Coordinator (spec.md §6's Connection contract).
package transport

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/monteslu/peersignal-broker/internal/metrics"
	"github.com/monteslu/peersignal-broker/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

// wsConn is the subset of *websocket.Conn the Connection depends on,
// narrowed for testability the way the teacher narrows its own socket
// dependency.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// envelope is the wire shape of every outbound push: a named event plus an
// opaque JSON payload. The Session Coordinator frames RPC replies the same
// way under event "rpc:reply" (see internal/session).
type envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// OnMessage is invoked by readPump for every inbound text frame.
type OnMessage func(conn *Connection, raw []byte)

// OnClose is invoked once, after the pumps have torn the connection down.
type OnClose func(conn *Connection)

// Connection wraps a single upgraded WebSocket and implements
// room.Connection. It owns nothing about rooms or RPC semantics; it only
// moves bytes and tracks liveness.
type Connection struct {
	conn wsConn
	id   room.ConnID
	ip   string

	send chan []byte

	mu      sync.RWMutex
	live    bool
	closed  bool
	subs    map[string]bool
	onClose OnClose
}

// newConnection wraps conn, ready to have its pumps started.
func newConnection(conn wsConn, ip string, onClose OnClose) *Connection {
	return &Connection{
		conn:    conn,
		id:      room.ConnID(uuid.NewString()),
		ip:      ip,
		send:    make(chan []byte, sendBufferSize),
		live:    true,
		subs:    make(map[string]bool),
		onClose: onClose,
	}
}

// ConnID implements room.Connection.
func (c *Connection) ConnID() room.ConnID { return c.id }

// RemoteIP implements room.Connection.
func (c *Connection) RemoteIP() string { return c.ip }

// IsLive implements room.Connection.
func (c *Connection) IsLive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live
}

// Send implements room.Connection, queueing a JSON-framed event. A full
// send buffer drops the message rather than blocking the Registry's
// locked transaction (spec.md §5's "never block the room lock on slow
// I/O" discipline, mirrored from the teacher's non-blocking channel send).
func (c *Connection) Send(event string, payload any) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		slog.Error("failed to marshal outbound event", "event", event, "error", err)
		return
	}

	select {
	case c.send <- data:
	default:
		slog.Warn("connection send buffer full, dropping message", "conn_id", c.id, "event", event)
	}
}

// Subscribe and Leave implement room.Connection's channel bookkeeping,
// recording which room channels a connection has joined; delivery itself
// is always a direct Send from the Registry, never a broadcast fan-out.
func (c *Connection) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[channel] = true
}

func (c *Connection) Leave(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, channel)
}

// Close forcibly terminates the underlying socket, used by the Session
// Coordinator's idle timer (spec.md §6). This unblocks readPump's
// ReadMessage call, which runs the normal disconnect teardown.
func (c *Connection) Close() {
	c.conn.Close()
}

func (c *Connection) markDead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = false
}

// close marks the connection dead. It does not close c.send: Send's
// closed-flag check and its channel send are two separate steps, so a
// goroutine that passed the check just before close() runs could still be
// blocked on c.send <- data when it resumes. Closing a channel a pending
// sender can still write to is a send-on-closed-channel panic waiting to
// happen; leaving the buffered channel open and unread is harmless (it's
// bounded and Send already drops on a full buffer).
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.live = false
}

// readPump blocks reading frames off the socket until it errors or closes,
// handing each text frame to onMessage, then runs onClose exactly once.
func (c *Connection) readPump(onMessage OnMessage) {
	defer func() {
		c.markDead()
		c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
		metrics.ActiveConnections.Dec()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		onMessage(c, data)
	}
}

// writePump drains the send channel to the socket and sends periodic pings,
// the same shape as the teacher's writePump adapted from two priority
// channels down to one (this broker has no large media-control traffic
// class to prioritize against).
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
