package transport

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/monteslu/peersignal-broker/internal/metrics"
)

// Handler is satisfied by the Session Coordinator: the boundary the Hub
// hands a freshly upgraded Connection across.
type Handler interface {
	OnConnect(conn *Connection)
	OnMessage(conn *Connection, raw []byte)
	OnDisconnect(conn *Connection)
}

// AdmitFunc is consulted before every upgrade; returning false refuses the
// handshake itself with 429, matching spec.md §7's "connection admission
// denial refuses the transport handshake itself" for a caller over the
// connection-per-IP limit.
type AdmitFunc func(remoteIP string) bool

// Hub upgrades inbound HTTP requests to WebSocket connections and starts
// their pumps, mirroring the teacher's ServeWs/HandleConnection split
// (internal/v1/transport/hub.go) without the JWT/origin-claims steps this
// domain's Non-goals drop.
type Hub struct {
	upgrader websocket.Upgrader
	handler  Handler
	admit    AdmitFunc
}

// NewHub builds a Hub that dispatches every connection's lifecycle to
// handler, consulting admit before every upgrade.
func NewHub(handler Handler, admit AdmitFunc) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		handler: handler,
		admit:   admit,
	}
}

// ServeWs upgrades c's request to a WebSocket, registers the connection
// with the handler, and starts its read/write pumps.
func (h *Hub) ServeWs(c *gin.Context) {
	ip := remoteIP(c.Request)
	if h.admit != nil && !h.admit(ip) {
		metrics.RateLimitRejections.WithLabelValues("connection").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connection attempts. Please try again later."})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	connection := newConnection(conn, ip, h.handler.OnDisconnect)
	metrics.ActiveConnections.Inc()
	h.handler.OnConnect(connection)

	go connection.writePump()
	go connection.readPump(h.handler.OnMessage)
}

// remoteIP derives a caller's address the way a broker sitting behind a
// reverse proxy must: prefer the first hop of X-Forwarded-For, fall back
// to the request's own RemoteAddr.
func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
