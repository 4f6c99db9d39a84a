package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/models"
)

// Subscriber categories. Mobile clients get the full sensor payloads;
// other categories only see metadata-sized messages.
const (
	CategoryMobile = "mobile_app"
	CategoryWeb    = "web"
)

// Transport is the write side of a subscriber connection. Implementations
// must tolerate concurrent Close; the registry serializes writes itself.
type Transport interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is one live subscriber connection. It is owned by the registry:
// created on Register, mutated only by delivery bookkeeping, destroyed on
// Unregister or transport failure.
type Session struct {
	ID          string
	Category    string
	ConnectedAt time.Time

	transport Transport

	writeMu      sync.Mutex
	lastSeen     time.Time
	messageCount uint64
}

// send serializes writes to the underlying transport and updates the
// session's delivery bookkeeping on success.
func (s *Session) send(msg models.BroadcastMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.transport.WriteJSON(msg); err != nil {
		return err
	}
	s.messageCount++
	s.lastSeen = time.Now().UTC()
	return nil
}

func (s *Session) stats() map[string]interface{} {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return map[string]interface{}{
		"client_id":     s.ID,
		"client_type":   s.Category,
		"connected_at":  s.ConnectedAt.Format(time.RFC3339),
		"last_seen":     s.lastSeen.Format(time.RFC3339),
		"message_count": s.messageCount,
	}
}

// DeviceCommandSink relays a command to the physical device. The registry
// never talks to devices directly.
type DeviceCommandSink interface {
	SendCommand(cmd models.DeviceCommand) error
}

// NopCommandSink is the injected default when no device relay exists.
type NopCommandSink struct{}

// SendCommand reports the device as unreachable.
func (NopCommandSink) SendCommand(models.DeviceCommand) error {
	return fmt.Errorf("no device command sink configured")
}

// StatusProvider supplies device status for status_response messages.
type StatusProvider interface {
	StatusSnapshot() map[string]interface{}
}

// NopStatusProvider is the injected default.
type NopStatusProvider struct{}

// StatusSnapshot returns an empty snapshot.
func (NopStatusProvider) StatusSnapshot() map[string]interface{} { return nil }

// ConnectionRegistry owns the set of live subscriber sessions and executes
// unicast, broadcast and inbound-message dispatch. Delivery is at-most-once
// and best-effort: a failed write removes the session, nothing is retried.
type ConnectionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	counter  uint64

	status StatusProvider
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry(status StatusProvider) *ConnectionRegistry {
	if status == nil {
		status = NopStatusProvider{}
	}
	return &ConnectionRegistry{
		sessions: make(map[string]*Session),
		status:   status,
	}
}

// Register accepts a transport, assigns it a process-unique session id and
// immediately confirms the connection to that session alone.
func (r *ConnectionRegistry) Register(t Transport, category string) string {
	now := time.Now().UTC()
	seq := atomic.AddUint64(&r.counter, 1)
	id := fmt.Sprintf("%s_%d_%d", category, now.Unix(), seq)

	session := &Session{
		ID:          id,
		Category:    category,
		ConnectedAt: now,
		transport:   t,
		lastSeen:    now,
	}

	r.mu.Lock()
	r.sessions[id] = session
	total := len(r.sessions)
	r.mu.Unlock()

	log.Info().
		Str("clientID", id).
		Str("category", category).
		Int("total", total).
		Msg("Subscriber connected")

	r.Send(id, models.NewBroadcast(models.MsgConnectionEstablished, map[string]interface{}{
		"message":       "connected to baby monitor relay",
		"client_id":     id,
		"server_status": "online",
	}))

	return id
}

// Unregister removes a session. Calling it twice is a no-op.
func (r *ConnectionRegistry) Unregister(id string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}

	session.transport.Close()
	log.Info().
		Str("clientID", id).
		Str("category", session.Category).
		Int("remaining", remaining).
		Msg("Subscriber disconnected")
}

// Send delivers a message to exactly one session. A transport failure
// unregisters the dead session as a side effect and returns false.
func (r *ConnectionRegistry) Send(id string, msg models.BroadcastMessage) bool {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	if err := session.send(msg); err != nil {
		log.Warn().Err(err).Str("clientID", id).Msg("Send failed, removing session")
		r.Unregister(id)
		return false
	}
	return true
}

// BroadcastAll delivers a message to every live session and returns the
// delivery count. The session set is snapshotted under lock and delivery
// happens outside it; sessions that fail mid-sweep are removed only after
// the full sweep, so one dead transport cannot block the rest.
func (r *ConnectionRegistry) BroadcastAll(msg models.BroadcastMessage) int {
	return r.broadcast(msg, func(*Session) bool { return true })
}

// BroadcastCategory delivers a message to every live session of one
// category and returns the delivery count.
func (r *ConnectionRegistry) BroadcastCategory(category string, msg models.BroadcastMessage) int {
	return r.broadcast(msg, func(s *Session) bool { return s.Category == category })
}

func (r *ConnectionRegistry) broadcast(msg models.BroadcastMessage, match func(*Session) bool) int {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		if match(session) {
			targets = append(targets, session)
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	sent := 0
	var failed []string
	for _, session := range targets {
		if err := session.send(msg); err != nil {
			log.Warn().Err(err).Str("clientID", session.ID).Msg("Broadcast delivery failed")
			failed = append(failed, session.ID)
			continue
		}
		sent++
	}

	for _, id := range failed {
		r.Unregister(id)
	}

	if sent > 0 {
		log.Debug().Str("type", msg.Type).Int("sent", sent).Msg("Broadcast delivered")
	}
	return sent
}

// SendAlert wraps a payload as a high-priority emergency alert and pushes
// it to the mobile category.
func (r *ConnectionRegistry) SendAlert(payload map[string]interface{}) int {
	alert := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		alert[k] = v
	}
	alert["priority"] = "high"
	return r.BroadcastCategory(CategoryMobile, models.NewBroadcast(models.MsgEmergencyAlert, alert))
}

// Count returns the number of live sessions.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stats returns a point-in-time view of the registry for observability.
func (r *ConnectionRegistry) Stats() map[string]interface{} {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	byType := map[string]int{}
	var totalMessages uint64
	info := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		byType[s.Category]++
		stats := s.stats()
		totalMessages += stats["message_count"].(uint64)
		info = append(info, stats)
	}

	return map[string]interface{}{
		"active_connections":  len(sessions),
		"total_messages_sent": totalMessages,
		"connections_by_type": byType,
		"connections_info":    info,
	}
}

// CloseAll drops every session, closing the transports.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.transport.Close()
	}
}

// DispatchInbound parses a raw client message and produces exactly one
// response to the sender (plus, for state-changing commands, a category
// broadcast). Malformed input and unknown kinds yield typed error
// responses; they never crash the registry or drop the session.
func (r *ConnectionRegistry) DispatchInbound(id string, raw []byte, sink DeviceCommandSink) {
	if sink == nil {
		sink = NopCommandSink{}
	}

	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.Send(id, models.NewBroadcast(models.MsgError, map[string]interface{}{
			"message": "invalid JSON format",
		}))
		return
	}

	log.Debug().Str("clientID", id).Str("type", msg.Type).Msg("Inbound client message")

	switch msg.Type {
	case models.ClientMsgCommand:
		r.handleCommand(id, msg, sink)

	case models.ClientMsgRequestStatus:
		payload := map[string]interface{}{
			"server_status":      "online",
			"active_connections": r.Count(),
		}
		if devices := r.status.StatusSnapshot(); devices != nil {
			payload["devices"] = devices
		}
		r.Send(id, models.NewBroadcast(models.MsgStatusResponse, payload))

	case models.ClientMsgRequestImage:
		r.Send(id, models.NewBroadcast(models.MsgImageRequestResponse, map[string]interface{}{
			"message":      "use the /app/images/latest endpoint for image data",
			"api_endpoint": "/app/images/latest",
		}))

	case models.ClientMsgPing:
		r.Send(id, models.NewBroadcast(models.MsgPong, map[string]interface{}{
			"client_id":     id,
			"server_status": "online",
		}))

	default:
		r.Send(id, models.NewBroadcast(models.MsgError, map[string]interface{}{
			"message": fmt.Sprintf("unknown message type: %s", msg.Type),
			"supported_types": []string{
				models.ClientMsgCommand,
				models.ClientMsgRequestStatus,
				models.ClientMsgRequestImage,
				models.ClientMsgPing,
			},
		}))
	}
}

func (r *ConnectionRegistry) handleCommand(id string, msg models.ClientMessage, sink DeviceCommandSink) {
	cmd := models.NewDeviceCommand(msg.Command, msg.Params, CategoryMobile)

	// lullaby_control carries app-facing fields; the device wants an
	// action verb instead of the enabled flag.
	if msg.Command == models.CommandLullabyControl {
		cmd.Params = lullabyParams(msg.Params)
	}

	err := sink.SendCommand(cmd)

	response := map[string]interface{}{
		"original_command": msg.Command,
		"params":           msg.Params,
	}
	if err != nil {
		response["status"] = "failed"
		response["error"] = err.Error()
	} else {
		response["status"] = "sent"
	}
	r.Send(id, models.NewBroadcast(models.MsgCommandResponse, response))

	if err == nil && msg.Command == models.CommandLullabyControl {
		r.mu.RLock()
		session, ok := r.sessions[id]
		r.mu.RUnlock()
		category := CategoryMobile
		if ok {
			category = session.Category
		}
		r.BroadcastCategory(category, models.NewBroadcast(models.MsgLullabyStatusChanged, map[string]interface{}{
			"enabled":    msg.Params["enabled"],
			"song":       msg.Params["song"],
			"changed_by": id,
		}))
	}
}

// lullabyParams maps {enabled, song, volume} into the device action
// payload {action: start|stop, song, volume}.
func lullabyParams(params map[string]interface{}) map[string]interface{} {
	enabled, _ := params["enabled"].(bool)
	action := "stop"
	if enabled {
		action = "start"
	}

	song := "default"
	if s, ok := params["song"].(string); ok && s != "" {
		song = s
	}

	var volume interface{} = 50
	if v, ok := params["volume"]; ok {
		volume = v
	}

	return map[string]interface{}{
		"action": action,
		"song":   song,
		"volume": volume,
	}
}
