package cache

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// FallbackStore writes through to Redis and degrades to the in-memory
// store when Redis misbehaves, so the relay keeps serving current status
// through cache outages. Reads prefer Redis; a read that fails there is
// retried against memory.
type FallbackStore struct {
	primary  Store
	fallback Store
}

// NewFallbackStore wraps a primary store with an in-memory fallback.
func NewFallbackStore(primary, fallback Store) *FallbackStore {
	return &FallbackStore{primary: primary, fallback: fallback}
}

// SetSensorSnapshot stores the snapshot in both stores. A primary failure
// is logged and absorbed as long as the fallback accepted the value.
func (s *FallbackStore) SetSensorSnapshot(ctx context.Context, snap *SensorSnapshot) error {
	if err := s.primary.SetSensorSnapshot(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("Primary cache write failed, using fallback")
	}
	return s.fallback.SetSensorSnapshot(ctx, snap)
}

// SensorSnapshot reads from primary, then fallback.
func (s *FallbackStore) SensorSnapshot(ctx context.Context) (*SensorSnapshot, error) {
	snap, err := s.primary.SensorSnapshot(ctx)
	if err == nil {
		return snap, nil
	}
	if errors.Is(err, ErrCacheUnavailable) {
		return s.fallback.SensorSnapshot(ctx)
	}
	return nil, err
}

// SetImageSnapshot stores the snapshot in both stores.
func (s *FallbackStore) SetImageSnapshot(ctx context.Context, snap *ImageSnapshot) error {
	if err := s.primary.SetImageSnapshot(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("Primary cache write failed, using fallback")
	}
	return s.fallback.SetImageSnapshot(ctx, snap)
}

// ImageSnapshot reads from primary, then fallback.
func (s *FallbackStore) ImageSnapshot(ctx context.Context) (*ImageSnapshot, error) {
	snap, err := s.primary.ImageSnapshot(ctx)
	if err == nil {
		return snap, nil
	}
	if errors.Is(err, ErrCacheUnavailable) {
		return s.fallback.ImageSnapshot(ctx)
	}
	return nil, err
}

// Ping reports the primary's health.
func (s *FallbackStore) Ping(ctx context.Context) error {
	return s.primary.Ping(ctx)
}

// Stats reports both stores.
func (s *FallbackStore) Stats() map[string]interface{} {
	stats := s.primary.Stats()
	stats["fallback"] = s.fallback.Stats()
	return stats
}
