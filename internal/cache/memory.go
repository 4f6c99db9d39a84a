package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback used when Redis is not
// configured or unreachable. Values expire after the same TTL.
type MemoryStore struct {
	mu     sync.RWMutex
	ttl    time.Duration
	sensor *entry
	image  *entry
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl}
}

// SetSensorSnapshot stores the current sensor snapshot.
func (s *MemoryStore) SetSensorSnapshot(_ context.Context, snap *SensorSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensor = &entry{value: snap, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

// SensorSnapshot returns the current sensor snapshot.
func (s *MemoryStore) SensorSnapshot(_ context.Context) (*SensorSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sensor == nil || time.Now().After(s.sensor.expiresAt) {
		return nil, ErrNoSnapshot
	}
	return s.sensor.value.(*SensorSnapshot), nil
}

// SetImageSnapshot stores the latest image snapshot.
func (s *MemoryStore) SetImageSnapshot(_ context.Context, snap *ImageSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.image = &entry{value: snap, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

// ImageSnapshot returns the latest image snapshot.
func (s *MemoryStore) ImageSnapshot(_ context.Context) (*ImageSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.image == nil || time.Now().After(s.image.expiresAt) {
		return nil, ErrNoSnapshot
	}
	return s.image.value.(*ImageSnapshot), nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Stats returns observability counters.
func (s *MemoryStore) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := 0
	now := time.Now()
	if s.sensor != nil && now.Before(s.sensor.expiresAt) {
		items++
	}
	if s.image != nil && now.Before(s.image.expiresAt) {
		items++
	}
	return map[string]interface{}{
		"storage_mode": "memory",
		"ttl_seconds":  int(s.ttl.Seconds()),
		"items":        items,
	}
}
