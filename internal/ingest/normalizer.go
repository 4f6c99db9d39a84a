package ingest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/models"
)

// Temperature and humidity bands. Readings inside the optimal band carry
// no alert weight; readings outside the extreme band score double.
const (
	tempOptimalMin = 20.0
	tempOptimalMax = 24.0
	tempExtremeMin = 18.0
	tempExtremeMax = 26.0

	humOptimalMin = 40.0
	humOptimalMax = 60.0
	humExtremeMin = 30.0
	humExtremeMax = 80.0

	lowBatteryThreshold = 20
)

var (
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	pngMagic  = []byte{0x89, 0x50, 0x4e, 0x47}
)

// DecodeError reports a frame payload that failed to decode. Frames that
// fail to decode are dropped before they reach the broadcast bus or the
// snapshot cache.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode frame: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NormalizeSensor turns a raw device payload into an immutable reading and
// its alert assessment. It is a pure transformation: missing fields
// default to zero values rather than failing.
func NormalizeSensor(raw *models.DevicePayload, sourceAddr string) (models.SensorReading, models.AlertAssessment) {
	reading := models.SensorReading{
		DeviceID:   raw.DeviceID,
		DeviceType: models.DeviceSensor,
		Timestamp:  time.Now().UTC(),
		SourceAddr: sourceAddr,
	}

	if raw.Temperature != nil {
		reading.Temperature = *raw.Temperature
	}
	if raw.Humidity != nil {
		reading.Humidity = *raw.Humidity
	}
	if raw.Movement != nil {
		reading.Movement = *raw.Movement
	}
	if raw.Sound != nil {
		reading.Noise = *raw.Sound
	}
	if raw.MotionLevel != nil {
		reading.MotionLevel = *raw.MotionLevel
	}
	if raw.SoundLevel != nil {
		reading.SoundLevel = *raw.SoundLevel
	}
	reading.Battery = raw.Battery
	reading.WiFiSignal = raw.WiFiSignal
	reading.MemoryFree = raw.MemoryFree
	reading.Uptime = raw.Uptime

	reading.TemperatureStatus = bandStatus(reading.Temperature, tempOptimalMin, tempOptimalMax)
	reading.HumidityStatus = bandStatus(reading.Humidity, humOptimalMin, humOptimalMax)
	if reading.TemperatureStatus == models.StatusOptimal && reading.HumidityStatus == models.StatusOptimal {
		reading.EnvironmentStatus = models.StatusOptimal
	} else {
		reading.EnvironmentStatus = models.StatusWarning
	}

	return reading, Assess(reading)
}

// Assess computes the alert assessment for a reading. Factors are appended
// in evaluation order: temperature, humidity, motion, noise, battery.
// Downstream consumers rely on that order.
func Assess(r models.SensorReading) models.AlertAssessment {
	a := models.AlertAssessment{Factors: []string{}}

	if r.TemperatureStatus == models.StatusWarning {
		if r.Temperature < tempExtremeMin || r.Temperature > tempExtremeMax {
			a.Factors = append(a.Factors, fmt.Sprintf("extreme temperature: %.1f°C", r.Temperature))
			a.Score += 2
		} else {
			a.Factors = append(a.Factors, fmt.Sprintf("temperature outside optimal range: %.1f°C", r.Temperature))
			a.Score++
		}
	}

	if r.HumidityStatus == models.StatusWarning {
		if r.Humidity < humExtremeMin || r.Humidity > humExtremeMax {
			a.Factors = append(a.Factors, fmt.Sprintf("extreme humidity: %.1f%%", r.Humidity))
			a.Score += 2
		} else {
			a.Factors = append(a.Factors, fmt.Sprintf("humidity outside optimal range: %.1f%%", r.Humidity))
			a.Score++
		}
	}

	if r.Movement {
		a.Factors = append(a.Factors, "movement detected")
		a.Score++
	}

	if r.Noise {
		a.Factors = append(a.Factors, "noise detected")
		a.Score++
	}

	if r.Battery != nil && *r.Battery < lowBatteryThreshold {
		a.Factors = append(a.Factors, "low battery")
		a.Score++
	}

	a.Level = models.LevelForScore(a.Score)
	return a
}

// NormalizeFrame decodes the base64 image payload into a frame. The
// encoded payload is cleaned first: any data-URI prefix is stripped and
// whitespace is removed. A payload that fails to decode is rejected with
// *DecodeError. A decoded payload whose magic bytes do not match the
// declared format is accepted but flagged FormatSuspect; tightening this
// to a rejection would break devices that mislabel their frames.
func NormalizeFrame(raw *models.DevicePayload, sourceAddr string) (models.ImageFrame, error) {
	encoded := cleanBase64(raw.Image)
	if encoded == "" {
		return models.ImageFrame{}, &DecodeError{Reason: "empty image payload"}
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return models.ImageFrame{}, &DecodeError{Reason: "invalid base64", Err: err}
	}

	format := strings.ToLower(raw.Format)
	if format == "" {
		format = "jpeg"
	}
	width := raw.Width
	if width == 0 {
		width = 640
	}
	height := raw.Height
	if height == 0 {
		height = 480
	}

	frame := models.ImageFrame{
		DeviceID:   raw.DeviceID,
		DeviceType: models.DeviceCamera,
		Timestamp:  time.Now().UTC(),
		SourceAddr: sourceAddr,
		Payload:    payload,
		Size:       len(payload),
		Width:      width,
		Height:     height,
		Format:     format,
	}

	if !matchesMagic(payload, format) {
		frame.FormatSuspect = true
		log.Warn().
			Str("format", format).
			Int("size", len(payload)).
			Msg("Frame magic bytes do not match declared format")
	}

	return frame, nil
}

// bandStatus classifies a value against an optimal band.
func bandStatus(v, min, max float64) string {
	if v >= min && v <= max {
		return models.StatusOptimal
	}
	return models.StatusWarning
}

// cleanBase64 strips a data-URI prefix and all whitespace from an encoded
// image payload.
func cleanBase64(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			s = s[idx+1:]
		}
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}

func matchesMagic(payload []byte, format string) bool {
	switch format {
	case "jpeg", "jpg":
		return bytes.HasPrefix(payload, jpegMagic)
	case "png":
		return bytes.HasPrefix(payload, pngMagic)
	default:
		// Unknown declared formats get no magic check.
		return true
	}
}
