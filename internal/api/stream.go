package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/lifesim/internal/engine"
)

const (
	maxStreamConns   = 8
	streamCatchUp    = 10 // Recent reports sent on connect
	streamPingPeriod = 15 * time.Second
	streamWriteWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Read-only feed
}

// handleStream upgrades to a WebSocket and pushes every report as a JSON
// text message until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if n := s.streamConns.Add(1); n > maxStreamConns {
		s.streamConns.Add(-1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.streamConns.Add(-1)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the error response.
	}
	defer conn.Close()

	subID, ch := s.Sim.Subscribe()
	defer s.Sim.Unsubscribe(subID)
	slog.Info("stream client connected", "sub_id", subID, "remote", clientAddr(r))

	// The reader only watches for close; clients never send anything we use.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Reports published after Subscribe may also be in the catch-up.
	var last *engine.Report
	for _, rep := range s.Sim.Reports(streamCatchUp) {
		if !writeReport(conn, rep) {
			return
		}
		last = &rep
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case rep, ok := <-ch:
			if !ok {
				return
			}
			if !newerReport(last, rep) {
				continue
			}
			if !writeReport(conn, rep) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-closed:
			slog.Info("stream client disconnected", "sub_id", subID)
			return
		}
	}
}

// newerReport reports whether rep was not already sent as last. A new run
// restarts ticks, so any report from another run counts as newer.
func newerReport(last *engine.Report, rep engine.Report) bool {
	return last == nil || rep.RunID != last.RunID || rep.Tick > last.Tick
}

func writeReport(conn *websocket.Conn, rep engine.Report) bool {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(rep) == nil
}
