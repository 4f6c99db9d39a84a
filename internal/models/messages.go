package models

import (
	"encoding/json"
	"time"
)

// Outbound message kinds pushed to subscribers.
const (
	MsgConnectionEstablished = "connection_established"
	MsgCurrentStatus         = "current_status"
	MsgSensorData            = "esp32_sensor_data"
	MsgNewData               = "new_data"
	MsgImageUpdate           = "image_update"
	MsgEmergencyAlert        = "emergency_alert"
	MsgTimeUpdate            = "time_update"
	MsgLullabyStatusChanged  = "lullaby_status_changed"
	MsgCommandResponse       = "command_response"
	MsgStatusResponse        = "status_response"
	MsgImageRequestResponse  = "image_request_response"
	MsgPing                  = "ping"
	MsgPong                  = "pong"
	MsgError                 = "error"
)

// Inbound message kinds accepted from subscribers.
const (
	ClientMsgCommand       = "command"
	ClientMsgRequestStatus = "request_status"
	ClientMsgRequestImage  = "request_image"
	ClientMsgPing          = "ping"
)

// CommandLullabyControl is special-cased when forwarded to the device:
// {enabled, song, volume} becomes {action: start|stop, song, volume}.
const CommandLullabyControl = "lullaby_control"

// BroadcastMessage is the tagged union delivered to subscriber sessions.
// On the wire it is a flat JSON object: the payload fields are inlined
// next to "type" and an RFC3339 UTC "timestamp".
type BroadcastMessage struct {
	Type      string
	Payload   map[string]interface{}
	Timestamp time.Time
}

// NewBroadcast builds a message stamped with the current UTC time.
func NewBroadcast(msgType string, payload map[string]interface{}) BroadcastMessage {
	return BroadcastMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// MarshalJSON flattens the payload into the top-level object. The "type"
// and "timestamp" keys always win over payload keys of the same name.
func (m BroadcastMessage) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(m.Payload)+2)
	for k, v := range m.Payload {
		flat[k] = v
	}
	flat["type"] = m.Type
	flat["timestamp"] = m.Timestamp.UTC().Format(time.RFC3339)
	return json.Marshal(flat)
}

// ClientMessage is an inbound message from a subscriber session.
type ClientMessage struct {
	Type    string                 `json:"type"`
	Command string                 `json:"command,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// DeviceCommand is the payload relayed to a device's command endpoint.
type DeviceCommand struct {
	Command   string                 `json:"command"`
	Params    map[string]interface{} `json:"params"`
	Timestamp string                 `json:"timestamp"`
	Source    string                 `json:"source"`
}

// NewDeviceCommand stamps a command with the current time and source.
func NewDeviceCommand(name string, params map[string]interface{}, source string) DeviceCommand {
	if params == nil {
		params = map[string]interface{}{}
	}
	return DeviceCommand{
		Command:   name,
		Params:    params,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    source,
	}
}
