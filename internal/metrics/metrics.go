// Package metrics declares the broker's Prometheus instrumentation.
//
// Naming convention: namespace_subsystem_name.
//   - namespace: peersignal (application-level grouping)
//   - subsystem: connection, room, rpc, ratelimit (feature-level grouping)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of live transport connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "peersignal",
		Subsystem: "connection",
		Name:      "active",
		Help:      "Current number of active transport connections",
	})

	// ActiveRooms tracks the current number of rooms in the registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "peersignal",
		Subsystem: "room",
		Name:      "active",
		Help:      "Current number of active rooms",
	})

	// RoomPendingPeers tracks pending-peer count per room.
	RoomPendingPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "peersignal",
		Subsystem: "room",
		Name:      "pending_peers",
		Help:      "Number of peers awaiting host approval, per room",
	}, []string{"room_code"})

	// RoomApprovedPeers tracks approved-peer count per room.
	RoomApprovedPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "peersignal",
		Subsystem: "room",
		Name:      "approved_peers",
		Help:      "Number of approved peers, per room",
	}, []string{"room_code"})

	// RPCRequests counts RPC calls by method and outcome.
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peersignal",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Total RPC requests processed",
	}, []string{"method", "outcome"})

	// RateLimitRejections counts requests rejected by a rate limiter, by category.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peersignal",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total requests rejected by a rate limiter",
	}, []string{"category"})

	// SignalsForwarded counts signaling payloads successfully routed.
	SignalsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peersignal",
		Subsystem: "room",
		Name:      "signals_forwarded_total",
		Help:      "Total signaling payloads forwarded between peers",
	})
)

// DeleteRoomSeries removes the per-room gauge series for code, called when a
// room is destroyed so stale series don't accumulate forever.
func DeleteRoomSeries(code string) {
	RoomPendingPeers.DeleteLabelValues(code)
	RoomApprovedPeers.DeleteLabelValues(code)
}
