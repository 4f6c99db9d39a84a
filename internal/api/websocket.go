package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/models"
	"github.com/baby-monitor/relay-server/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Device and app clients connect from local network addresses;
	// origin checks are handled by the CORS layer for browser clients.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsTransport adapts a gorilla connection to the registry transport. The
// registry serializes writes, so no extra locking here.
type wsTransport struct {
	conn *websocket.Conn
}

func (t wsTransport) WriteJSON(v interface{}) error {
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteJSON(v)
}

func (t wsTransport) Close() error {
	return t.conn.Close()
}

// HandleAppStream upgrades to WebSocket and runs the subscriber session
// until the client goes away. Inbound messages are dispatched through the
// registry; an idle client gets a proactive server ping.
func (s *RESTServer) HandleAppStream(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("client_type")
	if category == "" {
		category = realtime.CategoryMobile
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	id := s.deps.Registry.Register(wsTransport{conn: conn}, category)
	defer s.deps.Registry.Unregister(id)

	s.sendCurrentStatus(r.Context(), id)

	idle := s.config.Realtime.IdleTimeout

	done := make(chan struct{})
	defer close(done)
	go s.pingOnIdle(id, idle, done)

	for {
		// The ping goroutine keeps healthy-but-quiet clients inside
		// this deadline; only a truly dead peer trips it.
		conn.SetReadDeadline(time.Now().Add(3 * idle))
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("clientID", id).Msg("WebSocket read ended")
			return
		}
		s.deps.Registry.DispatchInbound(id, data, s.deps.Sink)
	}
}

// pingOnIdle sends an application-level ping every idle interval so quiet
// clients can tell the server is still there. A failed send means the
// registry already dropped the session.
func (s *RESTServer) pingOnIdle(id string, idle time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ok := s.deps.Registry.Send(id, models.NewBroadcast(models.MsgPing, map[string]interface{}{
				"client_id":     id,
				"server_status": "online",
			}))
			if !ok {
				return
			}
		}
	}
}

// sendCurrentStatus pushes the cached reading to a fresh session so apps
// render something before the next live update arrives.
func (s *RESTServer) sendCurrentStatus(ctx context.Context, id string) {
	payload := map[string]interface{}{
		"server_status": "online",
	}
	if snap, err := s.deps.Store.SensorSnapshot(ctx); err == nil {
		payload["data"] = snap.Reading
		payload["assessment"] = snap.Assessment
	}
	s.deps.Registry.Send(id, models.NewBroadcast(models.MsgCurrentStatus, payload))
}
