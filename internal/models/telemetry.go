package models

import (
	"time"
)

// Environment status values derived at normalization time.
const (
	StatusOptimal = "optimal"
	StatusWarning = "warning"
)

// Alert levels derived from the assessment score.
const (
	AlertLevelLow    = "low"
	AlertLevelMedium = "medium"
	AlertLevelHigh   = "high"
)

// Device classes tracked by the ingest pipeline.
const (
	DeviceSensor = "esp32"
	DeviceCamera = "esp_eye"
)

// DevicePayload is the raw wire shape pushed by devices. Pointer fields
// distinguish "absent" from zero, which drives the routing rules: a
// non-empty image goes through the frame path, any sensor field goes
// through the sensor path, and a payload with neither is still processed
// as a sensor reading with defaulted values.
type DevicePayload struct {
	DeviceID    string   `json:"device_id,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Movement    *bool    `json:"movement,omitempty"`
	Sound       *bool    `json:"sound,omitempty"`
	Battery     *int     `json:"battery,omitempty"`
	Image       string   `json:"image,omitempty"`

	// Optional telemetry extras
	MotionLevel *float64 `json:"motion_level,omitempty"`
	SoundLevel  *float64 `json:"sound_level,omitempty"`
	WiFiSignal  *int     `json:"wifi_signal,omitempty"`
	MemoryFree  *int     `json:"memory_free,omitempty"`
	Uptime      *int64   `json:"uptime,omitempty"`

	// Frame metadata
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Format  string `json:"format,omitempty"`
	Quality int    `json:"quality,omitempty"`
}

// HasImage reports whether the payload carries a video frame.
func (p *DevicePayload) HasImage() bool {
	return p.Image != ""
}

// HasSensorFields reports whether any environmental sensor field is present.
func (p *DevicePayload) HasSensorFields() bool {
	return p.Temperature != nil || p.Humidity != nil || p.Movement != nil || p.Sound != nil
}

// SensorReading is a normalized environmental reading. It is immutable
// once built: the derived status fields are computed exactly once at
// normalization time.
type SensorReading struct {
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type"`
	Timestamp  time.Time `json:"timestamp"`
	SourceAddr string    `json:"source_addr"`

	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Movement    bool    `json:"movement_detected"`
	Noise       bool    `json:"noise_detected"`
	MotionLevel float64 `json:"motion_level"`
	SoundLevel  float64 `json:"sound_level"`

	Battery    *int   `json:"battery_level,omitempty"`
	WiFiSignal *int   `json:"wifi_signal,omitempty"`
	MemoryFree *int   `json:"memory_free,omitempty"`
	Uptime     *int64 `json:"uptime,omitempty"`

	TemperatureStatus string `json:"temperature_status"`
	HumidityStatus    string `json:"humidity_status"`
	EnvironmentStatus string `json:"environment_status"`
}

// ImageFrame is a normalized, decoded video frame. A frame only exists if
// its payload decoded cleanly; a decode failure never produces a frame.
type ImageFrame struct {
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type"`
	Timestamp  time.Time `json:"timestamp"`
	SourceAddr string    `json:"source_addr"`

	Payload []byte `json:"-"`
	Size    int    `json:"size"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`

	// FormatSuspect marks frames whose magic bytes do not match the
	// declared format. They are accepted and forwarded anyway.
	FormatSuspect bool `json:"format_suspect,omitempty"`
}

// AlertAssessment is the derived risk classification for a reading.
// Level is a pure function of Score; Score is a pure function of the
// input reading.
type AlertAssessment struct {
	Factors []string `json:"alert_factors"`
	Score   int      `json:"alert_score"`
	Level   string   `json:"alert_level"`
}

// LevelForScore maps an assessment score to an alert level.
func LevelForScore(score int) string {
	switch {
	case score >= 3:
		return AlertLevelHigh
	case score >= 1:
		return AlertLevelMedium
	default:
		return AlertLevelLow
	}
}
