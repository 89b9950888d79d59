package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// TrackingWSHandler handles GET /v1/tracking/ws. It streams the live
// tracking feed (positions and geofence events) over a websocket,
// optionally filtered by ?vehicleId= or ?routeId=.
func (s *Server) TrackingWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	vehicleID := r.URL.Query().Get("vehicleId")
	routeID := r.URL.Query().Get("routeId")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ch := s.Broker.Subscribe("tracking")
	defer s.Broker.Unsubscribe("tracking", ch)

	done := make(chan struct{})
	// Drain client frames; the read loop also surfaces close frames.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if vehicleID != "" {
				if v, _ := evt.Data["vehicleId"].(string); v != vehicleID {
					continue
				}
			}
			if routeID != "" {
				if v, _ := evt.Data["routeId"].(string); v != routeID {
					continue
				}
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(map[string]any{"type": evt.Type, "payload": evt.Data}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
