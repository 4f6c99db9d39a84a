package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "relay-server", cfg.Server.Name)
	assert.Equal(t, 8000, cfg.API.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Realtime.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Realtime.FreshnessWindow)
	assert.Equal(t, 10, cfg.Stream.ViewerQueueSize)
	assert.Equal(t, 1000, cfg.Stream.MinFrameSize)
	assert.Equal(t, 5*time.Second, cfg.Command.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Snapshots.TTL)
	assert.Equal(t, "devices/+/telemetry", cfg.MQTT.Topic)
}

func TestLoadFile(t *testing.T) {
	content := `
server:
  name: nursery-relay
api:
  port: 9000
redis:
  addr: localhost:6379
stream:
  viewer_queue_size: 20
realtime:
  heartbeat_interval: 2s
`
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nursery-relay", cfg.Server.Name)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 20, cfg.Stream.ViewerQueueSize)
	assert.Equal(t, 2*time.Second, cfg.Realtime.HeartbeatInterval)

	// Unset fields still get defaults.
	assert.Equal(t, 1000, cfg.Stream.MinFrameSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Default()

	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}
