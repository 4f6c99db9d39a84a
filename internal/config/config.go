package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the relay server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Log       LogConfig       `yaml:"log"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Stream    StreamConfig    `yaml:"stream"`
	Command   CommandConfig   `yaml:"command"`
	Snapshots SnapshotsConfig `yaml:"snapshots"`
}

// ServerConfig represents server identity
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents HTTP API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig represents the optional NATS ingest bridge configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents the optional MQTT ingest bridge configuration
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RealtimeConfig represents websocket session tuning
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	FreshnessWindow   time.Duration `yaml:"freshness_window"`
}

// StreamConfig represents video fan-out tuning
type StreamConfig struct {
	ViewerQueueSize  int           `yaml:"viewer_queue_size"`
	MinFrameSize     int           `yaml:"min_frame_size"`
	KeepAliveTimeout time.Duration `yaml:"keepalive_timeout"`
}

// CommandConfig represents outbound device command settings
type CommandConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SnapshotsConfig represents snapshot cache settings
type SnapshotsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.setDefaults()
	return cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}

	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		c.Redis.Password = redisPassword
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if mqttBroker := os.Getenv("MQTT_BROKER"); mqttBroker != "" {
		c.MQTT.Broker = mqttBroker
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// setDefaults fills zero values with workable defaults
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "relay-server"
	}
	if c.Server.Version == "" {
		c.Server.Version = "2.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Realtime.HeartbeatInterval == 0 {
		c.Realtime.HeartbeatInterval = 5 * time.Second
	}
	if c.Realtime.IdleTimeout == 0 {
		c.Realtime.IdleTimeout = 30 * time.Second
	}
	if c.Realtime.FreshnessWindow == 0 {
		c.Realtime.FreshnessWindow = 30 * time.Second
	}
	if c.Stream.ViewerQueueSize == 0 {
		c.Stream.ViewerQueueSize = 10
	}
	if c.Stream.MinFrameSize == 0 {
		c.Stream.MinFrameSize = 1000
	}
	if c.Stream.KeepAliveTimeout == 0 {
		c.Stream.KeepAliveTimeout = 5 * time.Second
	}
	if c.Command.Timeout == 0 {
		c.Command.Timeout = 5 * time.Second
	}
	if c.Snapshots.TTL == 0 {
		c.Snapshots.TTL = 5 * time.Minute
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "devices/+/telemetry"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "relay-server"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
}
