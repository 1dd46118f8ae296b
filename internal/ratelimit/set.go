package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/monteslu/peersignal-broker/internal/logging"
)

// Set bundles the broker's four pre-configured limiter instances (spec.md
// §4.2): connection-per-IP, room-creation-per-IP, join-per-IP, and
// signal-per-connection.
type Set struct {
	ConnectionPerIP *Limiter
	RoomCreatePerIP *Limiter
	JoinPerIP       *Limiter
	SignalPerConn   *Limiter

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSet builds a Set from the teacher's "<n>-<unit>" formatted rate
// strings, defaulting to spec.md §4.2's values when a string is empty.
func NewSet(connPerIP, roomPerIP, joinPerIP, signalPerConn string) (*Set, error) {
	if connPerIP == "" {
		connPerIP = "20-M"
	}
	if roomPerIP == "" {
		roomPerIP = "5-M"
	}
	if joinPerIP == "" {
		joinPerIP = "30-M"
	}
	if signalPerConn == "" {
		signalPerConn = "50-S"
	}

	conn, err := NewLimiterFromFormatted(connPerIP)
	if err != nil {
		return nil, err
	}
	room, err := NewLimiterFromFormatted(roomPerIP)
	if err != nil {
		return nil, err
	}
	join, err := NewLimiterFromFormatted(joinPerIP)
	if err != nil {
		return nil, err
	}
	signal, err := NewLimiterFromFormatted(signalPerConn)
	if err != nil {
		return nil, err
	}

	return &Set{
		ConnectionPerIP: conn,
		RoomCreatePerIP: room,
		JoinPerIP:       join,
		SignalPerConn:   signal,
		stop:            make(chan struct{}),
	}, nil
}

// StartScavenger runs Cleanup on every limiter every interval until Stop is
// called. Matches spec.md §4.2's "invoked by a scheduled scavenger every
// 60s" and spec.md §5's requirement that the scavenger use the same
// locking discipline as the RPC paths (each Cleanup call takes that
// limiter's own mutex internally).
func (s *Set) StartScavenger(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.ConnectionPerIP.Cleanup()
				s.RoomCreatePerIP.Cleanup()
				s.JoinPerIP.Cleanup()
				s.SignalPerConn.Cleanup()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the scavenger goroutine and waits for it to exit.
func (s *Set) Stop() {
	close(s.stop)
	s.wg.Wait()
	logging.Info(context.Background(), "rate limit scavenger stopped")
}
