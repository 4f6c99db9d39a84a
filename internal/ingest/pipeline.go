package ingest

import (
	"context"
	"encoding/base64"

	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/cache"
	"github.com/baby-monitor/relay-server/internal/models"
	"github.com/baby-monitor/relay-server/internal/realtime"
)

// FramePublisher is the slice of the frame bus the pipeline needs.
type FramePublisher interface {
	PublishFrame(raw []byte)
}

// Broadcaster is the slice of the connection registry the pipeline needs.
type Broadcaster interface {
	BroadcastCategory(category string, msg models.BroadcastMessage) int
	SendAlert(payload map[string]interface{}) int
}

// Result summarizes what one device push produced.
type Result struct {
	ProcessedTypes []string
	Reading        *models.SensorReading
	Assessment     *models.AlertAssessment
	Frame          *models.ImageFrame
	FrameErr       error
}

// Pipeline is the ingestion path: it normalizes raw device payloads,
// records device liveness, persists snapshots and fans the results out to
// live subscribers. Every ingest transport (HTTP, NATS, MQTT) feeds the
// same pipeline.
type Pipeline struct {
	tracker *DeviceTracker
	store   cache.Store
	frames  FramePublisher
	bcast   Broadcaster
}

// NewPipeline wires the pipeline. store, frames and bcast may be nil;
// missing collaborators degrade to "skip that step", never to a crash.
func NewPipeline(tracker *DeviceTracker, store cache.Store, frames FramePublisher, bcast Broadcaster) *Pipeline {
	return &Pipeline{
		tracker: tracker,
		store:   store,
		frames:  frames,
		bcast:   bcast,
	}
}

// Process routes one raw device payload. A payload with an image goes
// through the frame path; a payload with sensor fields goes through the
// sensor path; both run when both are present. A payload with neither is
// still processed as a sensor reading with defaulted values.
func (p *Pipeline) Process(ctx context.Context, raw *models.DevicePayload, sourceAddr string) Result {
	var res Result

	if raw.HasImage() {
		frame, err := p.ProcessFrame(ctx, raw, sourceAddr)
		res.ProcessedTypes = append(res.ProcessedTypes, "image")
		res.Frame = frame
		res.FrameErr = err
	}

	if raw.HasSensorFields() || !raw.HasImage() {
		reading, assessment := p.ProcessSensor(ctx, raw, sourceAddr)
		res.ProcessedTypes = append(res.ProcessedTypes, "sensor")
		res.Reading = &reading
		res.Assessment = &assessment
	}

	return res
}

// ProcessSensor runs the sensor path: normalize, track, snapshot,
// broadcast. Cache failures are logged and absorbed; real-time delivery
// must not depend on the cache.
func (p *Pipeline) ProcessSensor(ctx context.Context, raw *models.DevicePayload, sourceAddr string) (models.SensorReading, models.AlertAssessment) {
	reading, assessment := NormalizeSensor(raw, sourceAddr)
	p.tracker.MarkSeen(models.DeviceSensor, sourceAddr)

	log.Info().
		Float64("temperature", reading.Temperature).
		Float64("humidity", reading.Humidity).
		Str("alertLevel", assessment.Level).
		Msg("Sensor reading processed")

	if p.store != nil {
		snap := &cache.SensorSnapshot{
			Reading:    reading,
			Assessment: assessment,
			StoredAt:   reading.Timestamp,
		}
		if err := p.store.SetSensorSnapshot(ctx, snap); err != nil {
			log.Warn().Err(err).Msg("Sensor snapshot not stored")
		}
	}

	if p.bcast != nil {
		p.bcast.BroadcastCategory(realtime.CategoryMobile, models.NewBroadcast(models.MsgSensorData, map[string]interface{}{
			"source": models.DeviceSensor,
			"data":   sensorPayload(reading, assessment),
		}))

		if assessment.Level == models.AlertLevelHigh {
			p.bcast.SendAlert(map[string]interface{}{
				"message":       "high alert level detected",
				"alert_factors": assessment.Factors,
				"alert_score":   assessment.Score,
				"alert_level":   assessment.Level,
			})
		}
	}

	return reading, assessment
}

// ProcessFrame runs the frame path: normalize, track, publish, snapshot,
// broadcast metadata. A frame that fails to decode is rejected here and
// never reaches the bus or the cache.
func (p *Pipeline) ProcessFrame(ctx context.Context, raw *models.DevicePayload, sourceAddr string) (*models.ImageFrame, error) {
	p.tracker.MarkSeen(models.DeviceCamera, sourceAddr)

	frame, err := NormalizeFrame(raw, sourceAddr)
	if err != nil {
		log.Warn().Err(err).Str("source", sourceAddr).Msg("Frame rejected")
		return nil, err
	}

	if p.frames != nil {
		p.frames.PublishFrame(frame.Payload)
	}

	if p.store != nil {
		snap := &cache.ImageSnapshot{
			ImageBase64: base64.StdEncoding.EncodeToString(frame.Payload),
			Timestamp:   frame.Timestamp,
			Metadata: map[string]interface{}{
				"width":  frame.Width,
				"height": frame.Height,
				"format": frame.Format,
				"size":   frame.Size,
			},
			StoredAt: frame.Timestamp,
		}
		if err := p.store.SetImageSnapshot(ctx, snap); err != nil {
			log.Warn().Err(err).Msg("Image snapshot not stored")
		}
	}

	if p.bcast != nil {
		// Frames are large; subscribers get metadata and fetch the
		// image over REST if they want it.
		p.bcast.BroadcastCategory(realtime.CategoryMobile, models.NewBroadcast(models.MsgImageUpdate, map[string]interface{}{
			"has_image":       true,
			"image_available": true,
			"download_url":    "/app/images/latest",
			"size":            frame.Size,
			"width":           frame.Width,
			"height":          frame.Height,
			"format":          frame.Format,
			"format_suspect":  frame.FormatSuspect,
		}))
	}

	return &frame, nil
}

func sensorPayload(reading models.SensorReading, assessment models.AlertAssessment) map[string]interface{} {
	return map[string]interface{}{
		"device_type":        reading.DeviceType,
		"timestamp":          reading.Timestamp,
		"temperature":        reading.Temperature,
		"humidity":           reading.Humidity,
		"movement_detected":  reading.Movement,
		"noise_detected":     reading.Noise,
		"motion_level":       reading.MotionLevel,
		"sound_level":        reading.SoundLevel,
		"battery_level":      reading.Battery,
		"temperature_status": reading.TemperatureStatus,
		"humidity_status":    reading.HumidityStatus,
		"environment_status": reading.EnvironmentStatus,
		"alert_factors":      assessment.Factors,
		"alert_score":        assessment.Score,
		"alert_level":        assessment.Level,
	}
}

// StatusSnapshot implements realtime.StatusProvider on top of the device
// tracker, for status_response messages.
type StatusSnapshot struct {
	Tracker *DeviceTracker
}

// StatusSnapshot returns the tracked device states.
func (s StatusSnapshot) StatusSnapshot() map[string]interface{} {
	return s.Tracker.Snapshot()
}
