package ingest

import (
	"sync"
	"time"
)

// Device connection states.
const (
	DeviceConnected    = "connected"
	DeviceDisconnected = "disconnected"
	DeviceTimeout      = "timeout"
	DeviceError        = "error"
)

// DeviceState is the last-known state of one device class.
type DeviceState struct {
	Addr     string    `json:"ip"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// Connected reports whether the device was last seen healthy.
func (s DeviceState) Connected() bool { return s.Status == DeviceConnected }

// DeviceTracker records the last-known address and status per device
// class, so command relaying and status handlers know where devices live.
// It is mutated by the ingest path and by command-relay failures.
type DeviceTracker struct {
	mu            sync.RWMutex
	devices       map[string]DeviceState
	lastHeartbeat time.Time
}

// NewDeviceTracker creates an empty tracker.
func NewDeviceTracker() *DeviceTracker {
	return &DeviceTracker{devices: make(map[string]DeviceState)}
}

// MarkSeen records a device push from the given address.
func (t *DeviceTracker) MarkSeen(deviceType, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	t.devices[deviceType] = DeviceState{
		Addr:     addr,
		Status:   DeviceConnected,
		LastSeen: now,
	}
	t.lastHeartbeat = now
}

// MarkStatus overrides the status of a device, keeping its address.
func (t *DeviceTracker) MarkStatus(deviceType, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.devices[deviceType]
	state.Status = status
	t.devices[deviceType] = state
}

// State returns the last-known state of a device class.
func (t *DeviceTracker) State(deviceType string) (DeviceState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.devices[deviceType]
	return state, ok
}

// Addr returns the last-known address of a device class.
func (t *DeviceTracker) Addr(deviceType string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.devices[deviceType].Addr
}

// LastHeartbeat returns the time of the most recent device push, if any.
func (t *DeviceTracker) LastHeartbeat() (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastHeartbeat, !t.lastHeartbeat.IsZero()
}

// Snapshot returns the state of every tracked device plus overall flags.
func (t *DeviceTracker) Snapshot() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	devices := make(map[string]interface{}, len(t.devices))
	anyConnected := false
	allConnected := len(t.devices) > 0
	for deviceType, state := range t.devices {
		devices[deviceType] = map[string]interface{}{
			"ip":        state.Addr,
			"status":    state.Status,
			"last_seen": state.LastSeen.Format(time.RFC3339),
			"connected": state.Connected(),
		}
		if state.Connected() {
			anyConnected = true
		} else {
			allConnected = false
		}
	}

	overall := map[string]interface{}{
		"any_connected": anyConnected,
		"all_connected": allConnected,
	}
	if !t.lastHeartbeat.IsZero() {
		overall["last_heartbeat"] = t.lastHeartbeat.Format(time.RFC3339)
	}

	devices["overall"] = overall
	return devices
}
