package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baby-monitor/relay-server/internal/config"
)

// RedisStore keeps snapshots in Redis with a TTL, so a restarted relay
// can serve the current status immediately and stale data ages out on
// its own.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg *config.RedisConfig, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		PoolSize:     3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// SetSensorSnapshot stores the current sensor snapshot.
func (s *RedisStore) SetSensorSnapshot(ctx context.Context, snap *SensorSnapshot) error {
	return s.setJSON(ctx, keySensorSnapshot, snap)
}

// SensorSnapshot returns the current sensor snapshot.
func (s *RedisStore) SensorSnapshot(ctx context.Context) (*SensorSnapshot, error) {
	var snap SensorSnapshot
	if err := s.getJSON(ctx, keySensorSnapshot, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SetImageSnapshot stores the latest image snapshot.
func (s *RedisStore) SetImageSnapshot(ctx context.Context, snap *ImageSnapshot) error {
	return s.setJSON(ctx, keyImageSnapshot, snap)
}

// ImageSnapshot returns the latest image snapshot.
func (s *RedisStore) ImageSnapshot(ctx context.Context) (*ImageSnapshot, error) {
	var snap ImageSnapshot
	if err := s.getJSON(ctx, keyImageSnapshot, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Stats returns observability counters.
func (s *RedisStore) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"storage_mode": "redis",
		"ttl_seconds":  int(s.ttl.Seconds()),
	}
	poolStats := s.client.PoolStats()
	stats["pool_hits"] = poolStats.Hits
	stats["pool_misses"] = poolStats.Misses
	stats["total_conns"] = poolStats.TotalConns
	return stats
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrCacheUnavailable, key, err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNoSnapshot
	}
	if err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrCacheUnavailable, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return nil
}
