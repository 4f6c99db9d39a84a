package cache

import (
	"context"
	"errors"
	"time"

	"github.com/baby-monitor/relay-server/internal/models"
)

// Snapshot keys. The relay keeps exactly one current sensor snapshot and
// one latest image; history is out of scope.
const (
	keySensorSnapshot = "current_esp32_data"
	keyImageSnapshot  = "latest_image"
)

var (
	// ErrCacheUnavailable marks degraded-mode failures. Callers treat it
	// as "no data", never as fatal.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrNoSnapshot is returned when nothing has been stored yet or the
	// stored value expired.
	ErrNoSnapshot = errors.New("no snapshot")
)

// SensorSnapshot is the current-status snapshot kept for late joiners and
// the heartbeat freshness check.
type SensorSnapshot struct {
	Reading    models.SensorReading   `json:"reading"`
	Assessment models.AlertAssessment `json:"assessment"`
	StoredAt   time.Time              `json:"stored_at"`
}

// ImageSnapshot is the latest-image snapshot served over the REST API.
type ImageSnapshot struct {
	ImageBase64 string                 `json:"image_base64"`
	Timestamp   time.Time              `json:"timestamp"`
	AlertLevel  string                 `json:"alert_level,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	StoredAt    time.Time              `json:"stored_at"`
}

// Store is the ephemeral snapshot cache. Implementations keep values for
// a bounded TTL; expired or missing values surface as ErrNoSnapshot.
type Store interface {
	SetSensorSnapshot(ctx context.Context, snap *SensorSnapshot) error
	SensorSnapshot(ctx context.Context) (*SensorSnapshot, error)
	SetImageSnapshot(ctx context.Context, snap *ImageSnapshot) error
	ImageSnapshot(ctx context.Context) (*ImageSnapshot, error)
	Ping(ctx context.Context) error
	Stats() map[string]interface{}
}

// LatestDataTime reports the capture time of the newest stored reading.
// It adapts any Store to the heartbeat's freshness source.
func LatestDataTime(ctx context.Context, s Store) (time.Time, error) {
	snap, err := s.SensorSnapshot(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return snap.Reading.Timestamp, nil
}

// Freshness wraps a Store as a heartbeat freshness source.
type Freshness struct {
	Store Store
}

// LatestDataTime returns the capture time of the newest stored reading.
func (f Freshness) LatestDataTime(ctx context.Context) (time.Time, error) {
	return LatestDataTime(ctx, f.Store)
}
